// internal/cmd/validate.go
package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/phildougherty/mcp-trader-bridge/internal/config"
	"github.com/phildougherty/mcp-trader-bridge/pkg/utils"
)

func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the bridge config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			path, err := utils.FindConfigFile(file)
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}
			timeouts, _ := cfg.Timeouts.Parse()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s is valid (environment %s)\n", color.New(color.FgGreen).Sprint("✓"), path, cfg.CurrentEnv)
			fmt.Fprintf(out, "  server:  %s %v\n", cfg.Server.Command, cfg.Server.Args)
			fmt.Fprintf(out, "  listen:  %s\n", cfg.Address())
			fmt.Fprintf(out, "  ready:   %q\n", cfg.ReadySignal())
			fmt.Fprintf(out, "  handshake timeout: %s\n", utils.FormatDuration(timeouts.InitializeTimeout))
			fmt.Fprintf(out, "  tool timeout:      %s\n", utils.FormatDuration(timeouts.ToolCallTimeout))

			return nil
		},
	}

	return cmd
}
