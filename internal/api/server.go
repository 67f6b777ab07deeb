// Package api implements the HTTP and WebSocket API: task and tag CRUD,
// the chat endpoints that drive the agent, document uploads, and the
// operational endpoints (health, metrics, QR pairing).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/docket-ai-agent/internal/agent"
	"github.com/nugget/docket-ai-agent/internal/backboard"
	"github.com/nugget/docket-ai-agent/internal/buildinfo"
	"github.com/nugget/docket-ai-agent/internal/events"
	"github.com/nugget/docket-ai-agent/internal/metrics"
	"github.com/nugget/docket-ai-agent/internal/session"
	"github.com/nugget/docket-ai-agent/internal/tasks"
)

// Server carries the REST and websocket surface plus the handles the
// endpoints need: the task store, the agent, and the session manager.
type Server struct {
	address  string
	port     int
	store    *tasks.Store
	agent    *agent.Agent
	sessions *session.Manager
	gateway  *backboard.Client
	logger   *slog.Logger
	server   *http.Server

	bus       *events.Bus
	metrics   *metrics.Metrics
	publicURL string
	authHash  string
	readiness func() map[string]string
}

// NewServer creates an API server. Optional collaborators (event bus,
// metrics, auth, QR pairing, readiness probes) are wired through the
// SetX methods before Start.
func NewServer(address string, port int, store *tasks.Store, agentLoop *agent.Agent, sessions *session.Manager, gateway *backboard.Client, logger *slog.Logger) *Server {
	return &Server{
		address:  address,
		port:     port,
		store:    store,
		agent:    agentLoop,
		sessions: sessions,
		gateway:  gateway,
		logger:   logger.With("component", "api"),
	}
}

// SetBus wires the event bus used for task-change fanout to WebSocket
// clients and downstream exporters.
func (s *Server) SetBus(bus *events.Bus) { s.bus = bus }

// SetMetrics wires Prometheus instrumentation and exposes /metrics.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetPublicURL configures the externally reachable base URL encoded by
// the QR pairing endpoint.
func (s *Server) SetPublicURL(u string) { s.publicURL = u }

// SetAuthTokenHash enables bearer-token authentication. The argument is
// a bcrypt hash of the expected token; empty disables auth entirely.
func (s *Server) SetAuthTokenHash(hash string) { s.authHash = hash }

// SetReadiness supplies per-dependency status strings for /api/health.
func (s *Server) SetReadiness(fn func() map[string]string) { s.readiness = fn }

// Start builds the handler chain and serves until Shutdown or a
// listener error.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // Long for slow model runs
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// routes assembles the full handler chain.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Liveness and landing page
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Task endpoints
	mux.HandleFunc("GET /api/tasks", s.requireOwner(s.handleTaskList))
	mux.HandleFunc("POST /api/tasks", s.requireOwner(s.handleTaskCreate))
	mux.HandleFunc("PUT /api/tasks/{id}", s.requireOwner(s.handleTaskUpdate))
	mux.HandleFunc("DELETE /api/tasks/{id}", s.requireOwner(s.handleTaskDelete))
	mux.HandleFunc("POST /api/tasks/{id}/toggle", s.requireOwner(s.handleTaskToggle))

	// Tag endpoints
	mux.HandleFunc("GET /api/tags", s.requireOwner(s.handleTagList))
	mux.HandleFunc("POST /api/tags", s.requireOwner(s.handleTagCreate))
	mux.HandleFunc("DELETE /api/tags/{id}", s.requireOwner(s.handleTagDelete))

	// Chat endpoints
	mux.HandleFunc("POST /api/chat", s.requireOwner(s.handleChat))
	mux.HandleFunc("GET /api/chat/history", s.requireOwner(s.handleChatHistory))
	mux.HandleFunc("POST /api/chat/reset", s.requireOwner(s.handleChatReset))
	mux.HandleFunc("GET /api/chat/documents", s.requireOwner(s.handleChatDocuments))
	mux.HandleFunc("POST /api/chat/upload", s.requireOwner(s.handleChatUpload))

	// Live updates; identity is resolved during the upgrade handshake.
	mux.HandleFunc("GET /api/ws", s.handleWS)

	mux.HandleFunc("GET /api/qr", s.handleQR)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.withLogging(s.withAuth(mux))
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusWriter remembers the code a handler wrote so the access log and
// metrics can see it after the fact.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.code = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ws" {
			// Wrapping the writer would hide the Hijacker the
			// WebSocket upgrade needs.
			next.ServeHTTP(w, r)
			return
		}
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}
		s.metrics.RecordRequest(r.Method, route, sw.code, elapsed)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.code,
			"elapsed", elapsed,
		)
	})
}

// requireOwner resolves the caller identity from the X-User-ID header
// and passes it to the wrapped handler. Every data endpoint is scoped
// to an owner; there is no anonymous access.
func (s *Server) requireOwner(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if owner == "" {
			s.errorResponse(w, http.StatusUnauthorized, "X-User-ID header is required")
			return
		}
		next(w, r, owner)
	}
}

// writeJSON writes status and v as the JSON response body. An encode
// failure means the client went away mid-response; note it and move on.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

// storeError maps a task-store failure to a response: rejected input is
// the caller's fault, anything else is ours.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	var ve *tasks.ValidationError
	if errors.As(err, &ve) {
		s.errorResponse(w, http.StatusBadRequest, ve.Error())
		return
	}
	s.logger.Error("store operation failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Docket",
		"version": buildinfo.Version,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	var deps map[string]string
	if s.readiness != nil {
		deps = s.readiness()
		for _, state := range deps {
			if state != "ready" {
				status = "degraded"
			}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"version":      buildinfo.Version,
		"uptime":       buildinfo.Uptime().String(),
		"dependencies": deps,
	})
}

// --- Task handlers ---

type taskCreateRequest struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Date        string           `json:"date"`
	Tags        []tasks.TagInput `json:"tags"`
}

type taskUpdateRequest struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Date        *string           `json:"date"`
	Completed   *bool             `json:"completed"`
	Tags        *[]tasks.TagInput `json:"tags"`
}

func (s *Server) handleTaskList(w http.ResponseWriter, r *http.Request, owner string) {
	list, err := s.store.ListTasks(owner)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request, owner string) {
	var req taskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.store.CreateTask(owner, req.Title, req.Description, req.Date, req.Tags)
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      events.KindTaskCreated,
		Data:      map[string]any{"owner": owner, "task_id": task.ID, "title": task.Title},
	})

	s.writeJSON(w, http.StatusCreated, task)
}

// ownedTask loads a task and enforces that it belongs to owner. Writes
// the error response and returns nil when the caller may not touch it.
func (s *Server) ownedTask(w http.ResponseWriter, id, owner string) *tasks.Task {
	task, err := s.store.GetTask(id)
	if err != nil {
		s.storeError(w, err)
		return nil
	}
	if task == nil {
		s.errorResponse(w, http.StatusNotFound, "task not found")
		return nil
	}
	if task.Owner != owner {
		s.errorResponse(w, http.StatusForbidden, "task belongs to another user")
		return nil
	}
	return task
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request, owner string) {
	id := r.PathValue("id")
	if s.ownedTask(w, id, owner) == nil {
		return
	}

	var req taskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	task, err := s.store.UpdateTask(id, tasks.Patch{
		Title:       req.Title,
		Description: req.Description,
		Due:         req.Date,
		Completed:   req.Completed,
		Tags:        req.Tags,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	if task == nil {
		s.errorResponse(w, http.StatusNotFound, "task not found")
		return
	}

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      events.KindTaskUpdated,
		Data:      map[string]any{"owner": owner, "task_id": task.ID},
	})

	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request, owner string) {
	id := r.PathValue("id")
	if s.ownedTask(w, id, owner) == nil {
		return
	}

	deleted, err := s.store.DeleteTask(id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !deleted {
		s.errorResponse(w, http.StatusNotFound, "task not found")
		return
	}

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      events.KindTaskDeleted,
		Data:      map[string]any{"owner": owner, "task_id": id},
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTaskToggle(w http.ResponseWriter, r *http.Request, owner string) {
	id := r.PathValue("id")
	task := s.ownedTask(w, id, owner)
	if task == nil {
		return
	}

	updated, err := s.store.SetCompleted(id, !task.Completed)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if updated == nil {
		s.errorResponse(w, http.StatusNotFound, "task not found")
		return
	}

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      events.KindTaskCompleted,
		Data:      map[string]any{"owner": owner, "task_id": id, "completed": updated.Completed},
	})

	s.writeJSON(w, http.StatusOK, updated)
}

// --- Tag handlers ---

type tagCreateRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleTagList(w http.ResponseWriter, r *http.Request, owner string) {
	list, err := s.store.ListTags()
	if err != nil {
		s.storeError(w, err)
		return
	}
	if list == nil {
		list = []*tasks.Tag{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleTagCreate(w http.ResponseWriter, r *http.Request, owner string) {
	var req tagCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tag, err := s.store.CreateOrGetTag(req.Name, req.Color)
	if err != nil {
		s.storeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, tag)
}

func (s *Server) handleTagDelete(w http.ResponseWriter, r *http.Request, owner string) {
	deleted, err := s.store.DeleteTag(r.PathValue("id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	if !deleted {
		s.errorResponse(w, http.StatusNotFound, "tag not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
