// Package server exposes the bridge over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phildougherty/mcp-trader-bridge/internal/activity"
	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
	"github.com/phildougherty/mcp-trader-bridge/internal/openapi"
	"github.com/phildougherty/mcp-trader-bridge/internal/protocol"
)

// ToolCaller is the part of the bridge the HTTP layer depends on.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.Response, error)
	Status() bridge.Status
}

// ActivitySource returns recent activity, newest first.
type ActivitySource interface {
	Recent(ctx context.Context, limit int) ([]activity.Message, error)
}

// Options wires the server's collaborators. Only Bridge is required.
type Options struct {
	Bridge         ToolCaller
	Activity       ActivitySource
	ActivityStream http.Handler
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Version        string
	Logger         *logging.Logger

	// ToolCallTimeout bounds how long a handler may wait on the bridge; the
	// HTTP write timeout is kept above it.
	ToolCallTimeout time.Duration
}

// Server serves the bridge HTTP surface.
type Server struct {
	bridge    ToolCaller
	activity  ActivitySource
	stream    http.Handler
	gatherer  prometheus.Gatherer
	origins   []string
	version   string
	logger    *logging.Logger
	startedAt time.Time
	writeWait time.Duration
	stats     func(ctx context.Context, pid int) childStats
	router    chi.Router
}

// New builds the router.
func New(opts Options) (*Server, error) {
	if opts.Bridge == nil {
		return nil, errors.New("server requires a bridge")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(constants.DefaultLogLevel)
	}
	if opts.Version == "" {
		opts.Version = constants.DefaultClientVersion
	}

	s := &Server{
		bridge:    opts.Bridge,
		activity:  opts.Activity,
		stream:    opts.ActivityStream,
		gatherer:  opts.Gatherer,
		origins:   opts.AllowedOrigins,
		version:   opts.Version,
		logger:    opts.Logger,
		startedAt: time.Now(),
		writeWait: writeTimeout(opts.ToolCallTimeout),
		stats:     processStats,
	}
	s.router = s.routes()

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Post("/tools/call", s.handleToolCall)
	r.Post("/mcp/tools/call", s.handleToolCall)

	r.Get("/health", s.handleHealth)
	r.Get("/test", s.handleDiagnostic)
	r.Get("/test-aapl", s.handleAnalyzeTest)
	r.Get("/test/{symbol}", s.handleAnalyzeTest)

	r.Get("/activity", s.handleActivity)
	if s.stream != nil {
		r.Handle("/activity/ws", s.stream)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/openapi.json", s.handleOpenAPI)

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  constants.DefaultReadTimeout,
		WriteTimeout: s.writeWait,
		IdleTimeout:  constants.DefaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("MCP bridge HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	return nil
}

// writeTimeout leaves room for a tool call to time out inside the bridge and
// for its error response to be written.
func writeTimeout(toolCall time.Duration) time.Duration {
	if d := toolCall + constants.WriteTimeoutMargin; d > constants.DefaultWriteTimeout {
		return d
	}

	return constants.DefaultWriteTimeout
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, openapi.GenerateBridgeSchema(s.version))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}
