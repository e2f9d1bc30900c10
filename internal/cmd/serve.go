// internal/cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/phildougherty/mcp-trader-bridge/internal/activity"
	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/config"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
	"github.com/phildougherty/mcp-trader-bridge/internal/metrics"
	"github.com/phildougherty/mcp-trader-bridge/internal/server"
)

const activityCleanupInterval = time.Hour

func NewServeCommand(version string) *cobra.Command {
	var port int
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP bridge and its HTTP API",
		Long: `Spawn the MCP analysis server, perform the MCP handshake over stdio and
serve tool calls over HTTP until interrupted. The child process is terminated
on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, file, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.HTTP.Port = port
			}
			logger := newLogger(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, file, !noWatch, version, logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Override the HTTP port")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload logging settings when the config file changes")

	return cmd
}

func runServe(ctx context.Context, cfg *config.BridgeConfig, file string, watch bool, version string, logger *logging.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New()
	if err := collector.Register(reg); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	collector.SetBuildInfo(version)

	hub := activity.NewHub(cfg.HTTP.AllowedOrigins, logger)
	hub.Start()
	defer hub.Close()

	var store activity.Store
	if cfg.Activity.DatabaseURL != "" {
		pg, err := activity.NewPostgresStore(ctx, cfg.Activity.DatabaseURL, logger)
		if err != nil {
			logger.Warning("Activity persistence disabled: %v", err)
		} else {
			store = pg
			retention, _ := cfg.Activity.RetentionDuration()
			go activity.RunCleanup(ctx, pg, retention, activityCleanupInterval, logger)
		}
	}

	feed := activity.NewFeed(activity.FeedOptions{
		Buffer: cfg.Activity.Buffer,
		Server: childName(cfg),
		Hub:    hub,
		Store:  store,
		Logger: logger,
	})
	defer func() {
		if err := feed.Close(); err != nil {
			logger.Warning("Failed to close activity feed: %v", err)
		}
	}()

	b, _, err := startBridge(cfg, logger, bridge.Observers{collector, feed})
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Shutting down MCP bridge...")
		if err := b.Close(); err != nil {
			logger.Warning("Failed to stop MCP server: %v", err)
		}
	}()

	if watch {
		if w, err := config.NewWatcher(file, logger); err != nil {
			logger.Warning("Config watching disabled: %v", err)
		} else {
			w.Start(func(updated *config.BridgeConfig) {
				logger.SetLevel(updated.Logging.Level)
				logger.SetJSONFormat(updated.Logging.Format == "json")
				logger.Info("Reloaded logging settings (level %s)", updated.Logging.Level)
			})
			defer w.Stop()
		}
	}

	timeouts, err := cfg.Timeouts.Parse()
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Bridge:          b,
		Activity:        feed,
		ActivityStream:  hub,
		Gatherer:        reg,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		Version:         version,
		Logger:          logger,
		ToolCallTimeout: timeouts.ToolCallTimeout,
	})
	if err != nil {
		return err
	}

	go func() {
		select {
		case <-b.Ready():
			logger.Info("MCP server ready, accepting tool calls")
		case <-b.Done():
			st := b.Status()
			logger.Error("MCP server unavailable (state %s)", st.State)
		case <-ctx.Done():
		}
	}()

	logger.Info("Health check: http://localhost:%d/health", cfg.HTTP.Port)

	return srv.ListenAndServe(ctx, cfg.Address())
}
