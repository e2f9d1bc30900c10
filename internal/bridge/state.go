package bridge

import (
	"strings"
	"time"

	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
)

// State is the lifecycle phase of a bridge.
type State int

const (
	StateStarting State = iota
	StateAwaitingHandshake
	StateHandshaking
	StateInitialized
	StateReady
	StateFailed
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateHandshaking:
		return "handshaking"
	case StateInitialized:
		return "initialized"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Terminal reports whether the bridge can no longer become ready.
func (s State) Terminal() bool {

	return s == StateFailed || s == StateExited
}

// Timings holds the handshake pacing and request deadlines.
type Timings struct {
	HandshakeDelay          time.Duration
	InitializeTimeout       time.Duration
	PostInitializeDelay     time.Duration
	NotificationSettleDelay time.Duration
	ToolCallTimeout         time.Duration
}

// DefaultTimings returns the pacing the Python server expects.
func DefaultTimings() Timings {

	return Timings{
		HandshakeDelay:          constants.HandshakeDelay,
		InitializeTimeout:       constants.InitializeTimeout,
		PostInitializeDelay:     constants.PostInitializeDelay,
		NotificationSettleDelay: constants.NotificationSettleDelay,
		ToolCallTimeout:         constants.ToolCallTimeout,
	}
}

// ReadyMatcher decides whether a chunk of child stderr announces readiness.
type ReadyMatcher func(chunk string) bool

// SubstringMatcher matches chunks containing signal. An empty signal yields
// a nil matcher, which makes the bridge handshake right after start.
func SubstringMatcher(signal string) ReadyMatcher {
	if signal == "" {
		return nil
	}

	return func(chunk string) bool {
		return strings.Contains(chunk, signal)
	}
}
