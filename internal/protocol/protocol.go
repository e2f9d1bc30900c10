// internal/protocol/protocol.go
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
)

// JSONRPCVersion is the only version the bridge speaks.
const JSONRPCVersion = mcp.JSONRPC_VERSION

// Method names used by the bridge
const (
	MethodInitialize              = string(mcp.MethodInitialize)
	MethodToolsCall               = string(mcp.MethodToolsCall)
	MethodNotificationInitialized = "notifications/initialized"
)

// Request is an outgoing JSON-RPC request. Bridge ids are always positive integers.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// Notification is an outgoing JSON-RPC notification; it carries no id.
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// Response is a message read from the child. Method is only set when the
// child sends its own request or notification on the same stream.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ToolCallParams is the params object of a tools/call request.
type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// NewRequest builds a request with the JSON-RPC version set.
func NewRequest(id int64, method string, params interface{}) Request {
	if params == nil {
		params = map[string]interface{}{}
	}

	return Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
}

// NewNotification builds a notification with the JSON-RPC version set.
func NewNotification(method string, params interface{}) Notification {
	if params == nil {
		params = map[string]interface{}{}
	}

	return Notification{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// NewToolCallParams normalizes nil arguments to an empty object.
func NewToolCallParams(name string, args map[string]interface{}) ToolCallParams {
	if args == nil {
		args = map[string]interface{}{}
	}

	return ToolCallParams{Name: name, Arguments: args}
}

// InitializeParams builds the initialize params with an empty capability set.
func InitializeParams(protocolVersion, clientName, clientVersion string) mcp.InitializeParams {

	return mcp.InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo: mcp.Implementation{
			Name:    clientName,
			Version: clientVersion,
		},
	}
}

// Frame encodes v as a single newline-terminated JSON document.
func Frame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {

		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return append(data, '\n'), nil
}

// ParseLine decodes one line of child output.
func ParseLine(line []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {

		return nil, err
	}

	return &resp, nil
}

// NumericID returns the id when it is a positive JSON number. String ids,
// null, zero and missing ids never match a bridge request.
func (r *Response) NumericID() (int64, bool) {
	raw := bytes.TrimSpace(r.ID)
	if len(raw) == 0 || raw[0] < '0' || raw[0] > '9' {

		return 0, false
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id <= 0 {

		return 0, false
	}

	return id, true
}

// IsError reports whether the child answered with a JSON-RPC error.
func (r *Response) IsError() bool {

	return r.Error != nil
}
