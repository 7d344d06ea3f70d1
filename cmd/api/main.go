package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"qbank/api/internal/config"
	"qbank/api/internal/logging"
	"qbank/api/internal/metrics"
	"qbank/api/internal/store"
	"qbank/api/internal/upstream"
)

var (
	configPath string
	cfg        config.Config

	rootCmd = &cobra.Command{
		Use:          "qbank",
		Short:        "Question bank API",
		Long:         "qbank serves the question bank and survey template API.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			logger := logging.New(cfg.Log)
			log.SetDefault(logger)
			if _, err := maxprocs.Set(maxprocs.Logger(logger.Debugf)); err != nil {
				logger.Warn("couldn't set automaxprocs", "error", err)
			}
			cmd.SetContext(logging.WithContext(cmd.Context(), logger))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("QBANK_CONFIG"), "path to config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, reindexCmd)
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// openBackend connects the configured store driver. The returned close
// function releases it.
func openBackend(ctx context.Context, m *metrics.Metrics) (store.Backend, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }, nil
	default:
		var opts []upstream.Option
		if m != nil {
			opts = append(opts, upstream.WithObserver(m))
		}
		client := upstream.New(cfg.UpstreamURL, cfg.UpstreamTimeout, opts...)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			log.FromContext(ctx).Warn("data service not reachable yet", "url", cfg.UpstreamURL, "err", err)
		}
		return client, func() {}, nil
	}
}
