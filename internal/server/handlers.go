package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phildougherty/mcp-trader-bridge/internal/activity"
	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/internal/protocol"
)

const (
	diagnosticTool = "system_diagnostic"
	analyzeTool    = "analyze_stock"
	defaultSymbol  = "AAPL"
)

type toolCallRequest struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	body := http.MaxBytesReader(w, r.Body, constants.MaxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid request body",
			"message": err.Error(),
			"code":    protocol.ParseError,
		})

		return
	}

	if strings.TrimSpace(req.Name) == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Missing tool name",
			"message": `Request must include a "name" field`,
			"code":    protocol.InvalidRequest,
		})

		return
	}

	s.logger.Info("MCP tool call: %s", req.Name)
	s.logger.Debug("Arguments for %s: %v", req.Name, req.Arguments)

	resp, err := s.bridge.CallTool(r.Context(), req.Name, req.Arguments)
	if err != nil {
		var notReady *bridge.NotReadyError
		if errors.As(err, &notReady) {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error":       "MCP server not ready",
				"message":     "Python MCP server is still initializing",
				"ready":       notReady.Ready,
				"initialized": notReady.Initialized,
				"code":        bridge.ErrorCode(err),
			})

			return
		}

		s.logger.Error("Bridge error for %s: %v", req.Name, err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error":    err.Error(),
			"message":  "Internal bridge error",
			"code":     bridge.ErrorCode(err),
			"fallback": true,
		})

		return
	}

	if resp.IsError() {
		s.logger.Error("MCP tool %s returned error: %v", req.Name, resp.Error)
		payload := map[string]interface{}{
			"error": resp.Error.MessageOr("MCP tool execution failed"),
			"code":  resp.Error.CodeOrDefault(),
		}
		if len(resp.Error.Data) > 0 {
			payload["data"] = resp.Error.Data
		}
		s.writeJSON(w, http.StatusInternalServerError, payload)

		return
	}

	content := protocol.ExtractContent(resp.Result)
	s.logger.Info("Extracted content preview: %s", protocol.Preview(content, constants.ContentPreviewLength))

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"content":   content,
		"source":    constants.ResponseSource,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"success":   true,
	})
}

func (s *Server) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	s.runDiagnostic(w, r, diagnosticTool, map[string]interface{}{}, "")
}

func (s *Server) handleAnalyzeTest(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	if symbol == "" {
		symbol = defaultSymbol
	}
	s.runDiagnostic(w, r, analyzeTool, map[string]interface{}{"symbol": symbol}, symbol)
}

// runDiagnostic calls tool and reports the raw response next to the
// extracted content. analyze_stock output is shortened for readability.
func (s *Server) runDiagnostic(w http.ResponseWriter, r *http.Request, tool string, args map[string]interface{}, symbol string) {
	status := s.bridge.Status()
	if !status.Ready || !status.Initialized {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"test":        "not_ready",
			"ready":       status.Ready,
			"initialized": status.Initialized,
			"message":     "MCP server not ready yet",
			"code":        protocol.NotReady,
		})

		return
	}

	s.logger.Info("Testing %s %s", tool, symbol)
	resp, err := s.bridge.CallTool(r.Context(), tool, args)
	if err != nil {
		s.logger.Error("Test %s failed: %v", tool, err)
		status = s.bridge.Status()
		s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"test":        "failed",
			"error":       err.Error(),
			"code":        bridge.ErrorCode(err),
			"ready":       status.Ready,
			"initialized": status.Initialized,
		})

		return
	}

	payload := map[string]interface{}{
		"test":   "success",
		"result": resp,
	}
	if symbol != "" {
		payload["symbol"] = symbol
		payload["extracted_content"] = truncate(protocol.ExtractContent(resp.Result), constants.DiagnosticContentLength)
	} else {
		payload["extracted_content"] = rawContent(resp.Result)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// rawContent returns the joined text items, or the result itself when it
// carries no content array.
func rawContent(result json.RawMessage) interface{} {
	if text, ok := protocol.TextContent(result); ok {
		return text
	}
	if len(result) == 0 {
		return nil
	}

	return result
}

// truncate keeps the first n characters and always marks the cut.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}

	return string(r) + "..."
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":   "Invalid limit",
				"message": "limit must be a positive integer",
			})

			return
		}
		limit = n
	}
	if limit > constants.MaxActivityLimit {
		limit = constants.MaxActivityLimit
	}

	msgs := []activity.Message{}
	if s.activity != nil {
		recent, err := s.activity.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("Failed to load activity: %v", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": err.Error(),
			})

			return
		}
		if recent != nil {
			msgs = recent
		}
	}

	s.writeJSON(w, http.StatusOK, msgs)
}
