// internal/cmd/call.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/config"
	"github.com/phildougherty/mcp-trader-bridge/internal/protocol"
)

func NewCallCommand() *cobra.Command {
	var argPairs []string
	var argsJSON string
	var raw bool

	cmd := &cobra.Command{
		Use:   "call TOOL",
		Short: "Call a single MCP tool and print its content",
		Long: `Spawn the MCP server, wait for the handshake, call one tool and print the
extracted text content. Arguments come from repeated --arg key=value flags
or a JSON object passed with --json.`,
		Example: `  mcp-bridge call analyze_stock --arg symbol=AAPL
  mcp-bridge call system_diagnostic
  mcp-bridge call relative_strength --json '{"symbol":"NVDA","benchmark":"SPY"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(argPairs, argsJSON)
			if err != nil {
				return err
			}

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b, _, err := startBridge(cfg, logger, nil)
			if err != nil {
				return err
			}
			defer b.Close()

			waitCtx, cancel := context.WithTimeout(ctx, readyBudget(cfg))
			defer cancel()
			if err := b.WaitReady(waitCtx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "MCP server: %s\n", statusLabel(b.Status().State))

				return fmt.Errorf("MCP server did not become ready: %w", err)
			}

			resp, err := b.CallTool(ctx, args[0], toolArgs)
			if err != nil {
				return err
			}

			return printToolResult(cmd.OutOrStdout(), args[0], resp, raw)
		},
	}

	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "Tool argument as key=value (repeatable)")
	cmd.Flags().StringVar(&argsJSON, "json", "", "Tool arguments as a JSON object")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the raw JSON-RPC response")

	return cmd
}

// parseToolArgs merges --json and --arg values; --arg wins on conflicts.
// Values that parse as JSON numbers or booleans keep that type.
func parseToolArgs(pairs []string, rawJSON string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &out); err != nil {
			return nil, fmt.Errorf("invalid --json arguments: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --arg '%s', expected key=value", pair)
		}
		out[strings.TrimSpace(key)] = typedValue(value)
	}

	return out, nil
}

func typedValue(value string) interface{} {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}

	return value
}

// readyBudget covers the whole handshake plus a margin for the child to
// print its readiness line.
func readyBudget(cfg *config.BridgeConfig) time.Duration {
	t, err := cfg.Timeouts.Parse()
	if err != nil {
		return time.Minute
	}

	return t.HandshakeDelay + t.InitializeTimeout + t.PostInitializeDelay + t.NotificationDelay + time.Minute
}

func toolTitle(name string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}

func printToolResult(w io.Writer, tool string, resp *protocol.Response, raw bool) error {
	if raw {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format response: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))

		return err
	}

	title := toolTitle(tool)
	if resp.IsError() {
		fmt.Fprintf(w, "%s %s\n", color.New(color.FgRed).Sprint("✗"), title)

		return fmt.Errorf("%s failed: %w", tool, resp.Error)
	}

	fmt.Fprintf(w, "%s %s\n\n", color.New(color.FgGreen).Sprint("✓"), color.New(color.Bold).Sprint(title))
	_, err := fmt.Fprintln(w, protocol.ExtractContent(resp.Result))

	return err
}

// statusLabel colors a bridge state for terminal output.
func statusLabel(state bridge.State) string {
	switch state {
	case bridge.StateReady:
		return color.New(color.FgGreen).Sprint("Ready")
	case bridge.StateFailed, bridge.StateExited:
		return color.New(color.FgRed).Sprint(cases.Title(language.English).String(state.String()))
	default:
		return color.New(color.FgYellow).Sprint("Starting")
	}
}
