// Package api exposes HealthBot sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fabiolm/healthbot/internal/flow"
	"github.com/fabiolm/healthbot/internal/graph"
	"github.com/fabiolm/healthbot/internal/llm"
	"github.com/fabiolm/healthbot/internal/search"
	"github.com/fabiolm/healthbot/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Pinger is the health-check capability of the backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the session API.
type Handler struct {
	engine *flow.Engine
	pinger Pinger
}

// NewHandler creates a Handler around the conversation engine. pinger may be
// nil when the checkpointer has no connectivity to verify.
func NewHandler(engine *flow.Engine, pinger Pinger) *Handler {
	return &Handler{engine: engine, pinger: pinger}
}

// Routes builds the chi router for the API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.createSession)
		r.Route("/{threadID}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.deleteSession)
			r.Post("/messages", h.postMessage)
		})
	})
	return r
}

// sessionResponse is the wire shape of a session after an advance.
type sessionResponse struct {
	ThreadID string            `json:"thread_id"`
	RunID    string            `json:"run_id,omitempty"`
	Pending  string            `json:"pending_step,omitempty"`
	Done     bool              `json:"done"`
	Messages []session.Message `json:"messages"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			Error(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	threadID := uuid.NewString()
	runID := uuid.NewString()

	status, err := h.engine.Advance(r.Context(), threadID, graph.StartUpdate(runID))
	if err != nil {
		h.advanceError(w, err)
		return
	}

	JSON(w, http.StatusCreated, toResponse(status))
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		Error(w, http.StatusBadRequest, "content is required")
		return
	}

	status, err := h.engine.Advance(r.Context(), threadID, graph.UserTurn(req.Content))
	if err != nil {
		h.advanceError(w, err)
		return
	}

	JSON(w, http.StatusOK, toResponse(status))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	status, err := h.engine.Inspect(r.Context(), threadID)
	if err != nil {
		slog.Error("inspect session failed", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if status == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	JSON(w, http.StatusOK, toResponse(status))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")

	if err := h.engine.Evict(r.Context(), threadID); err != nil {
		slog.Error("evict session failed", "thread_id", threadID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// advanceError maps engine failures: a finished thread is a client error,
// upstream LLM/search failures are a bad gateway, the rest is internal. The
// thread's previous checkpoint is intact in every case.
func (h *Handler) advanceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, flow.ErrThreadDone):
		Error(w, http.StatusConflict, "session already finished")
	case isUpstreamError(err):
		slog.Warn("upstream service failed", "error", err)
		Error(w, http.StatusBadGateway, "upstream service unavailable")
	default:
		slog.Error("advance failed", "error", err)
		Error(w, http.StatusInternalServerError, "failed to advance session")
	}
}

func isUpstreamError(err error) bool {
	var llmErr *llm.StatusError
	var searchErr *search.StatusError
	return errors.As(err, &llmErr) || errors.As(err, &searchErr)
}

func toResponse(status *flow.Status) sessionResponse {
	snap := session.CaptureStore(status.Store)
	return sessionResponse{
		ThreadID: status.ThreadID,
		RunID:    snap.RunID,
		Pending:  status.Pending,
		Done:     status.Done,
		Messages: snap.Messages,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
