package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"qbank/api/internal/app"
	"qbank/api/internal/cron"
	"qbank/api/internal/export"
	"qbank/api/internal/metrics"
	"qbank/api/internal/search"
	"qbank/api/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger := log.FromContext(ctx)

		m := metrics.New()
		backend, closeBackend, err := openBackend(ctx, m)
		if err != nil {
			return err
		}
		defer closeBackend()

		opts := []app.Option{app.WithReconcileObserver(m)}

		if strings.TrimSpace(cfg.RedisURL) != "" {
			revocations, err := session.NewRedisStore(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer revocations.Close() //nolint:errcheck
			logger.Info("using redis for token revocation")
			opts = append(opts, app.WithRevocationStore(revocations))
		}

		var index search.Index
		if strings.TrimSpace(cfg.MeiliURL) != "" {
			meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
			defer meili.Close()
			index = meili
		}
		searchService := search.NewService(index, backend)
		defer searchService.Wait()
		opts = append(opts, app.WithSearch(searchService))

		exportOpts := []export.Option{export.WithPDFRenderer(export.ChromeRenderer(cfg.Export.ChromePath))}
		if cfg.Export.Enabled() {
			objects, err := export.NewObjectStore(ctx, cfg.Export)
			if err != nil {
				return err
			}
			logger.Info("publishing exports to object storage", "bucket", cfg.Export.Bucket)
			exportOpts = append(exportOpts, export.WithPublisher(objects))
		}
		opts = append(opts, app.WithExporter(export.NewService(backend, exportOpts...)))

		service := app.New(cfg, backend, opts...)

		if index != nil && cfg.ReindexSchedule != "" {
			scheduler := cron.NewScheduler(ctx)
			if _, err := scheduler.AddJob(ctx, "reindex", cfg.ReindexSchedule, func(ctx context.Context) error {
				_, err := service.Reindex(ctx)
				return err
			}); err != nil {
				return err
			}
			scheduler.Start()
			defer scheduler.Shutdown()
		}

		handler := app.NewHTTPServer(service, cfg.CORSOrigin, app.WithHTTPObserver(m)).Handler()
		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
			BaseContext:       requestBaseContext(ctx),
		}
		stats := metrics.NewStatsServer(cfg.MetricsAddr, m)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("qbank api listening", "addr", cfg.Addr, "store", cfg.StoreDriver)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		if cfg.MetricsAddr != "" {
			g.Go(func() error {
				logger.Info("metrics listening", "addr", cfg.MetricsAddr)
				if err := stats.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("shutting down")
			return errors.Join(server.Shutdown(shutdownCtx), stats.Shutdown(shutdownCtx))
		})
		return g.Wait()
	},
}

// requestBaseContext keeps the values of ctx (the logger) for every request
// but not its cancellation, so in-flight requests can finish during Shutdown.
func requestBaseContext(ctx context.Context) func(net.Listener) context.Context {
	base := context.WithoutCancel(ctx)
	return func(net.Listener) context.Context { return base }
}
