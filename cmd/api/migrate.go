package main

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"qbank/api/db/migrations"
	"qbank/api/internal/config"
	"qbank/api/internal/search"
	"qbank/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations for the postgres store driver",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cfg.StoreDriver != config.StoreDriverPostgres {
			return errors.New("migrate requires the postgres store driver")
		}

		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
		if err != nil {
			return err
		}
		defer db.Close() //nolint:errcheck

		var fsys fs.FS = migrations.FS
		if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
			fsys = os.DirFS(dir)
		}
		applied, err := store.ApplyMigrations(ctx, db, fsys)
		if err != nil {
			return err
		}
		log.FromContext(ctx).Info("migrations applied", "count", len(applied), "files", applied)
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the question search index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if strings.TrimSpace(cfg.MeiliURL) == "" {
			return errors.New("reindex requires meili_url")
		}

		backend, closeBackend, err := openBackend(ctx, nil)
		if err != nil {
			return err
		}
		defer closeBackend()

		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.FromContext(ctx))
		defer meili.Close()

		n, err := search.NewService(meili, backend).Reindex(ctx)
		if err != nil {
			return err
		}
		cmd.Printf("indexed %d questions\n", n)
		return nil
	},
}
