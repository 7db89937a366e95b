package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/catalog"
	"github.com/nvandessel/skillroute/internal/mcp"
	"github.com/nvandessel/skillroute/internal/metrics"
	"github.com/nvandessel/skillroute/internal/recommend"
	"github.com/nvandessel/skillroute/internal/scheduler"
)

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run skillroute as an MCP (Model Context Protocol) server",
		Long: `Start an MCP server that exposes skillroute over stdio.

Tools:
  • skillroute_recommend  - Recommend a tool and command for a request
  • skillroute_adaptive   - Recommendation adjusted by past satisfaction
  • skillroute_feedback   - Rate a recommendation from 1 to 5
  • skillroute_follow_up  - Record a follow-up message for auto-scoring
  • skillroute_history    - List recent or unsatisfied conversations
  • skillroute_stats      - Aggregate satisfaction figures

While running, buffered follow-ups are scored on the server.analyze_schedule
cron spec, the catalog file is reloaded when it changes, and Prometheus
metrics are served on server.metrics_addr when set.

Example client configuration:

  {
    "mcpServers": {
      "skillroute": {
        "command": "skillroute",
        "args": ["mcp-server"]
      }
    }
  }
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			var source catalog.Source
			if cfg.Server.WatchCatalog && cfg.CatalogPath != "" {
				watcher, err := catalog.NewWatcher(cfg.CatalogPath, logger)
				if err != nil {
					return err
				}
				if err := watcher.Start(ctx); err != nil {
					return err
				}
				defer watcher.Stop()
				source = watcher
			}

			router, err := recommend.Open(cfg, source, logger)
			if err != nil {
				return err
			}

			server, err := mcp.NewServer(&mcp.Config{
				Name:    "skillroute",
				Version: version,
				Router:  router,
				Logger:  logger,
			})
			if err != nil {
				router.Close(context.Background())
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer func() {
				if err := server.Close(); err != nil {
					logger.Warn("failed to close server", zap.Error(err))
				}
			}()

			if cfg.Server.AnalyzeSchedule != "" {
				sched, err := scheduler.New(cfg.Server.AnalyzeSchedule, router.Detector(), logger)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			if cfg.Server.MetricsAddr != "" {
				shutdown := serveMetrics(cfg.Server.MetricsAddr, logger)
				defer shutdown()
			}

			// Run blocks until the client disconnects or a signal arrives.
			if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP server error: %w", err)
			}
			return nil
		},
	}

	return cmd
}

// serveMetrics exposes /metrics on addr and returns a shutdown func.
func serveMetrics(addr string, logger *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}
