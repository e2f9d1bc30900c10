package bridge

import "time"

// Outcome classifies how a tool call ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeRPCError Outcome = "rpc_error"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeNotReady Outcome = "not_ready"
	OutcomeCanceled Outcome = "canceled"
	OutcomeFailed   Outcome = "failed"
)

// ToolCallEvent describes one finished tool call.
type ToolCallEvent struct {
	ID       int64
	Tool     string
	Duration time.Duration
	Outcome  Outcome
	Err      error
}

// Observer receives bridge events. Implementations must not block.
type Observer interface {
	StateChanged(from, to State)
	ToolCallCompleted(ev ToolCallEvent)
	PendingChanged(n int)
	MalformedLine(line string)
}

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) StateChanged(from, to State) {
	for _, obs := range o {
		obs.StateChanged(from, to)
	}
}

func (o Observers) ToolCallCompleted(ev ToolCallEvent) {
	for _, obs := range o {
		obs.ToolCallCompleted(ev)
	}
}

func (o Observers) PendingChanged(n int) {
	for _, obs := range o {
		obs.PendingChanged(n)
	}
}

func (o Observers) MalformedLine(line string) {
	for _, obs := range o {
		obs.MalformedLine(line)
	}
}
