// internal/cmd/root.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
)

func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mcp-bridge",
		Short:         "Bridge HTTP tool calls to a stdio MCP server",
		Long:          `mcp-bridge runs the mcp-trader analysis server as a child process, speaks JSON-RPC to it over stdio and exposes its tools over HTTP.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("file", "c", constants.DefaultConfigFile, "Specify bridge config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(NewServeCommand(version))
	rootCmd.AddCommand(NewCallCommand())
	rootCmd.AddCommand(NewLogsCommand())
	rootCmd.AddCommand(NewValidateCommand())
	rootCmd.AddCommand(NewCompletionCommand())
	rootCmd.AddCommand(NewCreateConfigCommand())

	return rootCmd
}
