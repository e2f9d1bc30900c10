// internal/cmd/logs.go
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phildougherty/mcp-trader-bridge/internal/runtime"
)

func NewLogsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View the MCP server's stderr log",
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runtime.ShowLogs(ctx, runtime.LogPath("", childName(cfg)), follow, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolP("follow", "f", false, "Follow log output")

	return cmd
}
