package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/config"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
	"github.com/phildougherty/mcp-trader-bridge/internal/runtime"
	"github.com/phildougherty/mcp-trader-bridge/pkg/utils"
)

// loadConfig resolves --file (current directory, then .mcp/) and falls
// back to defaults when no file exists. It returns the resolved path.
func loadConfig(cmd *cobra.Command) (*config.BridgeConfig, string, error) {
	file, _ := cmd.Flags().GetString("file")
	path, err := utils.FindConfigFile(file)
	if err != nil {
		path = file
	}
	cfg, err := config.LoadOrDefault(path)

	return cfg, path, err
}

func newLogger(cmd *cobra.Command, cfg *config.BridgeConfig) *logging.Logger {
	level := cfg.Logging.Level
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}

	logger := logging.NewLogger(level)
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetJSONFormat(cfg.Logging.Format == "json")

	return logger
}

// childName names the child log file: "uv run mcp-trader" logs to mcp-trader.log.
func childName(cfg *config.BridgeConfig) string {
	if n := len(cfg.Server.Args); n > 0 {
		return filepath.Base(cfg.Server.Args[n-1])
	}

	return filepath.Base(cfg.Server.Command)
}

func bridgeOptions(cfg *config.BridgeConfig, logger *logging.Logger, observer bridge.Observer) (bridge.Options, error) {
	timeouts, err := cfg.Timeouts.Parse()
	if err != nil {
		return bridge.Options{}, err
	}

	return bridge.Options{
		Timings: bridge.Timings{
			HandshakeDelay:          timeouts.HandshakeDelay,
			InitializeTimeout:       timeouts.InitializeTimeout,
			PostInitializeDelay:     timeouts.PostInitializeDelay,
			NotificationSettleDelay: timeouts.NotificationDelay,
			ToolCallTimeout:         timeouts.ToolCallTimeout,
		},
		ReadyMatcher:      bridge.SubstringMatcher(cfg.ReadySignal()),
		ProtocolVersion:   cfg.Server.ProtocolVersion,
		ClientName:        cfg.Server.ClientName,
		ClientVersion:     cfg.Server.ClientVersion,
		FailPendingOnExit: cfg.FailPendingOnExit(),
		Logger:            logger,
		Observer:          observer,
	}, nil
}

// startBridge spawns the configured child and attaches a bridge to it.
func startBridge(cfg *config.BridgeConfig, logger *logging.Logger, observer bridge.Observer) (*bridge.Bridge, *runtime.Process, error) {
	opts, err := bridgeOptions(cfg, logger, observer)
	if err != nil {
		return nil, nil, err
	}

	env, err := cfg.ChildEnv()
	if err != nil {
		return nil, nil, err
	}

	proc, err := runtime.NewProcess(cfg.Server.Command, cfg.Server.Args, runtime.ProcessOptions{
		Env:     env,
		WorkDir: cfg.Server.WorkDir,
		Name:    childName(cfg),
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Starting MCP server: %s %v (workdir %s)", cfg.Server.Command, cfg.Server.Args, cfg.Server.WorkDir)
	if err := proc.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to spawn MCP server: %w", err)
	}

	b, err := bridge.New(proc, opts)
	if err != nil {
		_ = proc.Stop()

		return nil, nil, err
	}
	if err := b.Start(); err != nil {
		_ = proc.Stop()

		return nil, nil, err
	}

	return b, proc, nil
}
