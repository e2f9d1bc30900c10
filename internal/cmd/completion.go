// internal/cmd/completion.go
package cmd

import (
	"github.com/spf13/cobra"
)

func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate the autocompletion script for the specified shell",
		Long: `Generate the autocompletion script for mcp-bridge for the specified shell.
To load completions:

Bash:
  $ source <(mcp-bridge completion bash)
  # To load completions for each session, execute once:
  # Linux:
  $ mcp-bridge completion bash > /etc/bash_completion.d/mcp-bridge
  # macOS:
  $ mcp-bridge completion bash > $(brew --prefix)/etc/bash_completion.d/mcp-bridge

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc
  # To load completions for each session, execute once:
  $ mcp-bridge completion zsh > "${fpath[1]}/_mcp-bridge"

Fish:
  $ mcp-bridge completion fish > ~/.config/fish/completions/mcp-bridge.fish

PowerShell:
  PS> mcp-bridge completion powershell | Out-String | Invoke-Expression
  # To load completions for every new session, run:
  PS> mcp-bridge completion powershell > mcp-bridge.ps1
  # and source this file from your PowerShell profile.
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":

				return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":

				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":

				return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":

				return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
			}

			return nil
		},
	}

	return cmd
}
