// internal/cmd/create-config.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phildougherty/mcp-trader-bridge/internal/config"
	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
)

func NewCreateConfigCommand() *cobra.Command {
	var output string
	var force bool
	var workDir string
	var port int

	cmd := &cobra.Command{
		Use:   "create-config",
		Short: "Write a starter bridge config file",
		Long: `Write mcp-bridge.yaml with every setting at its default value, ready to be
edited. The file spawns "uv run mcp-trader" and includes a production
environment override with JSON logs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output, _ = cmd.Flags().GetString("file")
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", output)
			}

			cfg := starterConfig(workDir, port)
			if err := config.ValidateConfig(cfg); err != nil {
				return err
			}

			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, constants.DefaultDirMode); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
			}
			if err := config.SaveConfig(output, cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", output)

			return nil
		},
	}

	// Use different flag names to avoid conflict with the global -c flag
	cmd.Flags().StringVarP(&output, "output", "o", "", "Path of the config file to write (defaults to --file)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringVar(&workDir, "workdir", constants.DefaultChildWorkDir, "Working directory of the MCP server")
	cmd.Flags().IntVarP(&port, "port", "p", constants.DefaultHTTPPort, "HTTP port")

	return cmd
}

func starterConfig(workDir string, port int) *config.BridgeConfig {
	cfg := config.Default()
	cfg.Server.WorkDir = workDir
	cfg.HTTP.Port = port
	cfg.Environments = map[string]config.EnvironmentConfig{
		"production": {
			Logging: config.LoggingConfig{Level: "info", Format: "json"},
		},
	}

	return cfg
}
