// internal/protocol/errors.go
package protocol

import (
	"encoding/json"
	"fmt"
)

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	InternalError  = -32603
)

// Implementation-specific codes used when the bridge itself reports failure
const (
	RequestFailed  = -32000
	RequestTimeout = -32002
	NotReady       = -32003
	UnknownError   = -1
)

// Error is a JSON-RPC error object as returned by the child.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("MCP Error %d: %s (data: %s)", e.Code, e.Message, string(e.Data))
	}

	return fmt.Sprintf("MCP Error %d: %s", e.Code, e.Message)
}

// CodeOrDefault returns the code, or -1 when the child sent none.
func (e *Error) CodeOrDefault() int {
	if e.Code == 0 {
		return UnknownError
	}

	return e.Code
}

// MessageOr returns the message, or fallback when it is empty.
func (e *Error) MessageOr(fallback string) string {
	if e.Message == "" {
		return fallback
	}

	return e.Message
}
