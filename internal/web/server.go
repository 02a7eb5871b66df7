// Package web exposes the engine over HTTP: run control, state and
// transcript inspection, memory search, and a WebSocket event stream.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/arbiterlabs/arbiter/internal/buildinfo"
	"github.com/arbiterlabs/arbiter/internal/engine"
	"github.com/arbiterlabs/arbiter/internal/events"
	"github.com/arbiterlabs/arbiter/internal/memory"
	"github.com/arbiterlabs/arbiter/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logger.Debug("failed to write JSON error", "error", err)
	}
}

// Server is the HTTP control surface for one engine.
type Server struct {
	listen string
	engine *engine.Engine
	tools  *tools.Registry
	memory *memory.Manager
	bus    *events.Bus
	logger *slog.Logger
	server *http.Server

	// baseCtx parents the background run goroutines so shutting the
	// server down also cancels in-flight runs.
	baseCtx context.Context
}

// NewServer creates the HTTP server. listen is a host:port string.
func NewServer(listen string, eng *engine.Engine, reg *tools.Registry, mem *memory.Manager, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen: listen,
		engine: eng,
		tools:  reg,
		memory: mem,
		bus:    bus,
		logger: logger,
	}
}

// Start runs the server until it is shut down or fails.
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = ctx

	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.withLogging(s.Handler()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections stay open indefinitely
	}

	s.logger.Info("starting HTTP server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive the mux without binding a port.
func (s *Server) Handler() http.Handler {
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /", s.handleRoot)

	mux.HandleFunc("POST /v1/run", s.handleRun)
	mux.HandleFunc("POST /v1/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/reject", s.handleReject)
	mux.HandleFunc("POST /v1/cancel", s.handleCancel)

	mux.HandleFunc("GET /v1/state", s.handleState)
	mux.HandleFunc("GET /v1/transcript", s.handleTranscript)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/memory/search", s.handleMemorySearch)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return mux
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "Arbiter",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

type runRequest struct {
	Task string `json:"task"`
}

// handleRun starts a run in the background and returns immediately.
// A second run while one is active is rejected with 409.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Task == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"task\": \"...\"}", s.logger)
		return
	}

	st := s.engine.State()
	if st.Kind != engine.StateIdle && !st.Kind.Terminal() {
		writeError(w, http.StatusConflict, engine.ErrRunActive.Error(), s.logger)
		return
	}

	go func() {
		if err := s.engine.Run(s.baseCtx, req.Task); err != nil {
			s.logger.Warn("run rejected", "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, map[string]string{"status": "started"}, s.logger)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.engine.Approve(); err != nil {
			s.logger.Debug("approve rejected", "error", err)
		}
	}()
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.engine.Reject(); err != nil {
			s.logger.Debug("reject rejected", "error", err)
		}
	}()
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.engine.Cancel()
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.engine.State()
	out := map[string]any{"state": st.Kind.String()}
	if st.Err != "" {
		out["error"] = st.Err
	}
	if st.Proposal != nil {
		out["proposal"] = map[string]any{
			"tool":  st.Proposal.ToolName,
			"input": st.Proposal.Input,
		}
	}
	if st.Plan != nil {
		out["plan"] = st.Plan
		out["step_index"] = st.StepIndex
	}
	writeJSON(w, out, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	var out []map[string]any
	for _, name := range s.tools.Names() {
		t := s.tools.Get(name)
		out = append(out, map[string]any{
			"name":         t.Name,
			"description":  t.Description,
			"auto_approve": t.AutoApprove,
		})
	}
	writeJSON(w, out, s.logger)
}

func (s *Server) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter", s.logger)
		return
	}
	entries, err := s.memory.Search(q, 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("search: %v", err), s.logger)
		return
	}
	writeJSON(w, entries, s.logger)
}
