package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phildougherty/mcp-trader-bridge/internal/protocol"
)

var (
	// ErrNotReady matches any *NotReadyError.
	ErrNotReady = errors.New("MCP server not ready")
	// ErrHandshakeTimeout is wrapped when initialize gets no answer in time.
	ErrHandshakeTimeout = errors.New("initialization timeout")
	// ErrToolTimeout matches any *ToolTimeoutError.
	ErrToolTimeout = errors.New("tool call timeout")
	// ErrChildExited fails calls that were in flight when the child died.
	ErrChildExited = errors.New("MCP server process exited")
	// ErrClosed is returned once the bridge has been closed.
	ErrClosed = errors.New("bridge closed")

	errRequestTimeout = errors.New("request timeout")
)

// NotReadyError is returned by CallTool before the handshake has completed.
type NotReadyError struct {
	Ready       bool
	Initialized bool
}

func (e *NotReadyError) Error() string {

	return fmt.Sprintf("MCP server not ready (ready: %t, initialized: %t)", e.Ready, e.Initialized)
}

func (e *NotReadyError) Is(target error) bool {

	return target == ErrNotReady
}

// ToolTimeoutError is returned when a tool call gets no response in time.
type ToolTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *ToolTimeoutError) Error() string {

	return fmt.Sprintf("Timeout for tool: %s", e.Tool)
}

func (e *ToolTimeoutError) Is(target error) bool {

	return target == ErrToolTimeout
}

// ErrorCode maps a bridge failure onto the JSON-RPC code reported to HTTP
// clients.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrNotReady):
		return protocol.NotReady
	case errors.Is(err, ErrToolTimeout), errors.Is(err, ErrHandshakeTimeout), errors.Is(err, context.DeadlineExceeded):
		return protocol.RequestTimeout
	case errors.Is(err, ErrChildExited), errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return protocol.RequestFailed
	default:
		return protocol.InternalError
	}
}
