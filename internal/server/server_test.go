package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phildougherty/mcp-trader-bridge/internal/activity"
	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
	"github.com/phildougherty/mcp-trader-bridge/internal/metrics"
	"github.com/phildougherty/mcp-trader-bridge/internal/protocol"
)

type call struct {
	name string
	args map[string]interface{}
}

type fakeCaller struct {
	mu     sync.Mutex
	status bridge.Status
	resp   *protocol.Response
	err    error
	calls  []call
}

func readyCaller() *fakeCaller {
	return &fakeCaller{status: bridge.Status{State: bridge.StateReady, Ready: true, Initialized: true, Pid: 0}}
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]interface{}) (*protocol.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, args: args})
	if !f.status.Ready || !f.status.Initialized {
		return nil, &bridge.NotReadyError{Ready: f.status.Ready, Initialized: f.status.Initialized}
	}

	return f.resp, f.err
}

func (f *fakeCaller) Status() bridge.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.status
}

func resultResponse(result string) *protocol.Response {
	return &protocol.Response{JSONRPC: "2.0", ID: json.RawMessage("2"), Result: json.RawMessage(result)}
}

func newTestServer(t *testing.T, caller ToolCaller, mutate func(*Options)) *Server {
	t.Helper()
	logger := logging.NewLogger("error")
	logger.SetOutput(io.Discard)

	opts := Options{Bridge: caller, Logger: logger, Version: "test"}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	require.NoError(t, err)
	s.stats = func(_ context.Context, pid int) childStats {
		return childStats{Pid: pid, Running: pid > 0}
	}

	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}

	return rec, payload
}

func TestNewRequiresBridge(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestToolCallSuccess(t *testing.T) {
	caller := readyCaller()
	caller.resp = resultResponse(`{"content":[{"type":"text","text":"line one"},{"type":"image","data":"x"},{"type":"text","text":"line two"}]}`)
	s := newTestServer(t, caller, nil)

	for _, path := range []string{"/tools/call", "/mcp/tools/call"} {
		t.Run(path, func(t *testing.T) {
			rec, payload := do(t, s, http.MethodPost, path, `{"name":"analyze_stock","arguments":{"symbol":"NVDA"}}`)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "line one\nline two", payload["content"])
			assert.Equal(t, "mcp_python_server", payload["source"])
			assert.Equal(t, true, payload["success"])
			assert.NotEmpty(t, payload["timestamp"])
		})
	}

	require.Len(t, caller.calls, 2)
	assert.Equal(t, "analyze_stock", caller.calls[0].name)
	assert.Equal(t, "NVDA", caller.calls[0].args["symbol"])
}

func TestToolCallContentExtraction(t *testing.T) {
	tests := []struct {
		name     string
		result   string
		expected string
	}{
		{"string result", `"plain text"`, "plain text"},
		{"object result", `{"price":1}`, "{\n  \"price\": 1\n}"},
		{"empty content array", `{"content":[]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := readyCaller()
			caller.resp = resultResponse(tt.result)
			s := newTestServer(t, caller, nil)

			rec, payload := do(t, s, http.MethodPost, "/tools/call", `{"name":"x"}`)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.expected, payload["content"])
		})
	}
}

func TestToolCallMissingName(t *testing.T) {
	caller := readyCaller()
	s := newTestServer(t, caller, nil)

	for _, body := range []string{`{}`, `{"name":"  "}`, ``} {
		rec, payload := do(t, s, http.MethodPost, "/tools/call", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Missing tool name", payload["error"])
		assert.Equal(t, float64(protocol.InvalidRequest), payload["code"])
	}
	assert.Empty(t, caller.calls)
}

func TestToolCallInvalidBody(t *testing.T) {
	s := newTestServer(t, readyCaller(), nil)

	rec, payload := do(t, s, http.MethodPost, "/tools/call", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", payload["error"])
	assert.Equal(t, float64(protocol.ParseError), payload["code"])
}

func TestToolCallNotReady(t *testing.T) {
	caller := &fakeCaller{status: bridge.Status{State: bridge.StateInitialized, Initialized: true}}
	s := newTestServer(t, caller, nil)

	rec, payload := do(t, s, http.MethodPost, "/tools/call", `{"name":"analyze_stock"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "MCP server not ready", payload["error"])
	assert.Equal(t, false, payload["ready"])
	assert.Equal(t, true, payload["initialized"])
	assert.Equal(t, float64(protocol.NotReady), payload["code"])
}

func TestToolCallRPCError(t *testing.T) {
	tests := []struct {
		name    string
		err     *protocol.Error
		message string
		code    float64
		hasData bool
	}{
		{"full error", &protocol.Error{Code: -32602, Message: "bad symbol", Data: json.RawMessage(`{"symbol":"??"}`)}, "bad symbol", -32602, true},
		{"empty error", &protocol.Error{}, "MCP tool execution failed", -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := readyCaller()
			caller.resp = &protocol.Response{JSONRPC: "2.0", ID: json.RawMessage("2"), Error: tt.err}
			s := newTestServer(t, caller, nil)

			rec, payload := do(t, s, http.MethodPost, "/tools/call", `{"name":"analyze_stock"}`)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tt.message, payload["error"])
			assert.Equal(t, tt.code, payload["code"])
			_, hasData := payload["data"]
			assert.Equal(t, tt.hasData, hasData)
		})
	}
}

func TestToolCallBridgeError(t *testing.T) {
	caller := readyCaller()
	caller.err = &bridge.ToolTimeoutError{Tool: "analyze_stock"}
	s := newTestServer(t, caller, nil)

	rec, payload := do(t, s, http.MethodPost, "/tools/call", `{"name":"analyze_stock"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Timeout for tool: analyze_stock", payload["error"])
	assert.Equal(t, "Internal bridge error", payload["message"])
	assert.Equal(t, float64(protocol.RequestTimeout), payload["code"])
	assert.Equal(t, true, payload["fallback"])
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		status bridge.Status
		phase  string
	}{
		{"ready", bridge.Status{State: bridge.StateReady, Ready: true, Initialized: true, Pid: 42, StartedAt: time.Now().Add(-time.Minute)}, "active"},
		{"starting", bridge.Status{State: bridge.StateAwaitingHandshake, Pid: 42}, "starting"},
		{"failed", bridge.Status{State: bridge.StateFailed, HandshakeErr: bridge.ErrHandshakeTimeout}, "failed"},
		{"exited", bridge.Status{State: bridge.StateExited, ExitErr: errors.New("exit status 1")}, "exited"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeCaller{status: tt.status}, nil)

			rec, payload := do(t, s, http.MethodGet, "/health", "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "operational", payload["status"])
			assert.Equal(t, "connected", payload["mcp_bridge"])
			assert.Equal(t, tt.phase, payload["python_server"])
			assert.Equal(t, tt.status.State.String(), payload["state"])

			child, ok := payload["child"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, float64(tt.status.Pid), child["pid"])
			uptime, _ := child["uptime_seconds"].(float64)
			if tt.status.StartedAt.IsZero() {
				assert.Zero(t, uptime)
			} else {
				assert.GreaterOrEqual(t, uptime, 60.0)
			}
		})
	}
}

func TestProcessStatsWithoutPid(t *testing.T) {
	stats := processStats(context.Background(), 0)
	assert.False(t, stats.Running)
	assert.Zero(t, stats.RSSBytes)
}

func TestDiagnosticNotReady(t *testing.T) {
	caller := &fakeCaller{}
	s := newTestServer(t, caller, nil)

	for _, path := range []string{"/test", "/test-aapl", "/test/MSFT"} {
		rec, payload := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "not_ready", payload["test"])
		assert.Equal(t, float64(protocol.NotReady), payload["code"])
	}
	assert.Empty(t, caller.calls)
}

func TestDiagnosticSystem(t *testing.T) {
	caller := readyCaller()
	caller.resp = resultResponse(`{"content":[{"type":"text","text":"all systems nominal"}]}`)
	s := newTestServer(t, caller, nil)

	rec, payload := do(t, s, http.MethodGet, "/test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", payload["test"])
	assert.Equal(t, "all systems nominal", payload["extracted_content"])
	assert.NotNil(t, payload["result"])

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "system_diagnostic", caller.calls[0].name)
	assert.Empty(t, caller.calls[0].args)
}

func TestDiagnosticAnalyzeTruncates(t *testing.T) {
	caller := readyCaller()
	long := strings.Repeat("a", 800)
	caller.resp = resultResponse(`{"content":[{"type":"text","text":"` + long + `"}]}`)
	s := newTestServer(t, caller, nil)

	rec, payload := do(t, s, http.MethodGet, "/test/msft", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MSFT", payload["symbol"])
	assert.Equal(t, strings.Repeat("a", 500)+"...", payload["extracted_content"])

	rec, payload = do(t, s, http.MethodGet, "/test-aapl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "AAPL", payload["symbol"])

	require.Len(t, caller.calls, 2)
	assert.Equal(t, "analyze_stock", caller.calls[0].name)
	assert.Equal(t, "MSFT", caller.calls[0].args["symbol"])
	assert.Equal(t, "AAPL", caller.calls[1].args["symbol"])
}

func TestDiagnosticSystemObjectResult(t *testing.T) {
	caller := readyCaller()
	caller.resp = resultResponse(`{"cpu":12.5,"status":"ok"}`)
	s := newTestServer(t, caller, nil)

	rec, payload := do(t, s, http.MethodGet, "/test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"cpu": 12.5, "status": "ok"}, payload["extracted_content"])
}

func TestDiagnosticFailure(t *testing.T) {
	caller := readyCaller()
	caller.err = bridge.ErrChildExited
	s := newTestServer(t, caller, nil)

	rec, payload := do(t, s, http.MethodGet, "/test", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed", payload["test"])
	assert.Equal(t, "MCP server process exited", payload["error"])
	assert.Equal(t, float64(protocol.RequestFailed), payload["code"])
}

func TestActivityEndpoint(t *testing.T) {
	feed := activity.NewFeed(activity.FeedOptions{Buffer: 10, Logger: logging.NewLogger("error")})
	defer feed.Close()
	feed.Publish(activity.LevelInfo, activity.TypeTool, "first", nil)
	feed.Publish(activity.LevelInfo, activity.TypeTool, "second", nil)

	s := newTestServer(t, readyCaller(), func(o *Options) { o.Activity = feed })

	req := httptest.NewRequest(http.MethodGet, "/activity?limit=1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []activity.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "second", msgs[0].Message)

	bad, _ := do(t, s, http.MethodGet, "/activity?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestActivityWithoutSource(t *testing.T) {
	s := newTestServer(t, readyCaller(), nil)

	req := httptest.NewRequest(http.MethodGet, "/activity", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.New()
	require.NoError(t, collector.Register(reg))
	collector.ToolCallCompleted(bridge.ToolCallEvent{Tool: "analyze_stock", Outcome: bridge.OutcomeSuccess})

	s := newTestServer(t, readyCaller(), func(o *Options) { o.Gatherer = reg })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mcp_bridge_tool_calls_total")
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	s := newTestServer(t, readyCaller(), nil)

	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenAPIDocument(t *testing.T) {
	s := newTestServer(t, readyCaller(), nil)

	rec, payload := do(t, s, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.0.0", payload["openapi"])
	paths, ok := payload["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/tools/call")
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	s := newTestServer(t, readyCaller(), func(o *Options) {
		o.ActivityStream = http.NotFoundHandler()
		o.Gatherer = prometheus.NewRegistry()
	})

	_, payload := do(t, s, http.MethodGet, "/openapi.json", "")
	paths, ok := payload["paths"].(map[string]interface{})
	require.True(t, ok)

	methods := make(map[string]map[string]bool)
	err := chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if methods[route] == nil {
			methods[route] = make(map[string]bool)
		}
		methods[route][method] = true

		return nil
	})
	require.NoError(t, err)
	require.Contains(t, methods, "/activity/ws")
	require.Contains(t, methods, "/metrics")

	for route, registered := range methods {
		item, ok := paths[route].(map[string]interface{})
		if !assert.True(t, ok, "route %s missing from OpenAPI document", route) {
			continue
		}
		// Handle() registers every method; those routes are documented as GET.
		if registered[http.MethodGet] {
			assert.Contains(t, item, "get", "GET %s not documented", route)
		} else if registered[http.MethodPost] {
			assert.Contains(t, item, "post", "POST %s not documented", route)
		}
	}
}

func TestWriteTimeoutCoversToolCalls(t *testing.T) {
	tests := []struct {
		toolCall time.Duration
		expected time.Duration
	}{
		{0, constants.DefaultWriteTimeout},
		{30 * time.Second, constants.DefaultWriteTimeout},
		{60 * time.Second, 60*time.Second + constants.WriteTimeoutMargin},
		{5 * time.Minute, 5*time.Minute + constants.WriteTimeoutMargin},
	}

	for _, tt := range tests {
		got := writeTimeout(tt.toolCall)
		assert.Equal(t, tt.expected, got, "tool call timeout %s", tt.toolCall)
		assert.Greater(t, got, tt.toolCall)
	}

	s := newTestServer(t, readyCaller(), func(o *Options) { o.ToolCallTimeout = 2 * time.Minute })
	assert.Equal(t, 2*time.Minute+constants.WriteTimeoutMargin, s.writeWait)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, readyCaller(), func(o *Options) { o.AllowedOrigins = []string{"http://localhost:3000"} })

	req := httptest.NewRequest(http.MethodOptions, "/tools/call", bytes.NewReader(nil))
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeHTTPUntilCanceled(t *testing.T) {
	s := newTestServer(t, readyCaller(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()

	assert.NoError(t, <-errCh)
}
