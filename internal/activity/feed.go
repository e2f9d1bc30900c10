// Package activity records bridge events, keeps the most recent ones in
// memory, streams them to websocket clients and optionally persists them.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
)

// Levels and types used by bridge events
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"

	TypeLifecycle  = "lifecycle"
	TypeTool       = "tool"
	TypeOutput     = "output"
	TypeConnection = "connection"
)

// Message is one activity event
type Message struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Type      string                 `json:"type"` // lifecycle, tool, output, connection
	Server    string                 `json:"server,omitempty"`
	Client    string                 `json:"client,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewMessage stamps a message with a fresh id and the current time
func NewMessage(level, activityType, server, message string, details map[string]interface{}) Message {

	return Message{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Type:      activityType,
		Server:    server,
		Message:   message,
		Details:   details,
	}
}

// FeedOptions configures a Feed
type FeedOptions struct {
	Buffer int
	Server string
	Hub    *Hub
	Store  Store
	Logger *logging.Logger
}

// Feed is the in-process activity log. It implements bridge.Observer.
type Feed struct {
	mu     sync.RWMutex
	ring   []Message
	next   int
	count  int
	closed bool

	server string
	hub    *Hub
	store  Store
	logger *logging.Logger

	storeCh   chan Message
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFeed creates a feed; with a Store it also starts the persistence worker.
func NewFeed(opts FeedOptions) *Feed {
	if opts.Buffer <= 0 {
		opts.Buffer = constants.DefaultActivityBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(constants.DefaultLogLevel)
	}

	f := &Feed{
		ring:   make([]Message, opts.Buffer),
		server: opts.Server,
		hub:    opts.Hub,
		store:  opts.Store,
		logger: opts.Logger,
	}

	if f.store != nil {
		f.storeCh = make(chan Message, constants.ActivityChannelSize)
		f.wg.Add(1)
		go f.persist()
	}

	return f
}

// Publish records an event and fans it out
func (f *Feed) Publish(level, activityType, message string, details map[string]interface{}) Message {
	msg := NewMessage(level, activityType, f.server, message, details)
	f.add(msg)

	return msg
}

func (f *Feed) add(msg Message) {
	f.mu.Lock()
	f.ring[f.next] = msg
	f.next = (f.next + 1) % len(f.ring)
	if f.count < len(f.ring) {
		f.count++
	}
	if f.storeCh != nil && !f.closed {
		select {
		case f.storeCh <- msg:
		default:
			f.logger.Warning("Activity store queue full, dropping event %s", msg.ID)
		}
	}
	f.mu.Unlock()

	if f.hub != nil {
		f.hub.Broadcast(msg)
	}
}

// Recent returns up to limit events, newest first. Persisted history is
// preferred when a store is configured.
func (f *Feed) Recent(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = constants.DefaultActivityLimit
	}
	if limit > constants.MaxActivityLimit {
		limit = constants.MaxActivityLimit
	}

	if f.store != nil {
		msgs, err := f.store.Recent(ctx, limit)
		if err == nil {
			return msgs, nil
		}
		f.logger.Warning("Falling back to in-memory activity: %v", err)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.count
	if limit < n {
		n = limit
	}
	out := make([]Message, 0, n)
	for i := 1; i <= n; i++ {
		idx := (f.next - i + len(f.ring)) % len(f.ring)
		out = append(out, f.ring[idx])
	}

	return out, nil
}

func (f *Feed) persist() {
	defer f.wg.Done()

	for msg := range f.storeCh {
		ctx, cancel := context.WithTimeout(context.Background(), constants.WebSocketWriteDeadline)
		if err := f.store.Store(ctx, msg); err != nil {
			f.logger.Error("Failed to store activity %s: %v", msg.ID, err)
		}
		cancel()
	}
}

// Close flushes pending writes and closes the store.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		if f.storeCh != nil {
			close(f.storeCh)
			f.wg.Wait()
			err = f.store.Close()
		}
	})

	return err
}

func (f *Feed) StateChanged(from, to bridge.State) {
	level := LevelInfo
	switch to {
	case bridge.StateFailed:
		level = LevelError
	case bridge.StateExited:
		level = LevelWarn
	}

	f.Publish(level, TypeLifecycle, fmt.Sprintf("MCP bridge %s", to), map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (f *Feed) ToolCallCompleted(ev bridge.ToolCallEvent) {
	level := LevelInfo
	switch ev.Outcome {
	case bridge.OutcomeRPCError, bridge.OutcomeNotReady, bridge.OutcomeCanceled:
		level = LevelWarn
	case bridge.OutcomeTimeout, bridge.OutcomeFailed:
		level = LevelError
	}

	details := map[string]interface{}{
		"tool":        ev.Tool,
		"outcome":     string(ev.Outcome),
		"duration_ms": ev.Duration.Milliseconds(),
	}
	if ev.ID > 0 {
		details["request_id"] = ev.ID
	}
	if ev.Err != nil {
		details["error"] = ev.Err.Error()
	}

	f.Publish(level, TypeTool, fmt.Sprintf("Tool %s: %s", ev.Tool, ev.Outcome), details)
}

func (f *Feed) PendingChanged(int) {}

func (f *Feed) MalformedLine(line string) {
	f.Publish(LevelWarn, TypeOutput, "Non-JSON output from MCP server", map[string]interface{}{
		"line": line,
	})
}
