// Package handler exposes the passage catalog, completed session records and
// the live practice-session API over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lingora/lingora/internal/grader"
	"github.com/lingora/lingora/internal/realtime"
	"github.com/lingora/lingora/internal/session"
	"github.com/lingora/lingora/internal/store"
)

// SessionFactory builds a fresh orchestrator for one practice session.
type SessionFactory func() *session.Orchestrator

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      *store.Store
	newSession SessionFactory

	mu     sync.Mutex
	active map[string]*session.Orchestrator
}

// New creates a new Handler.
func New(s *store.Store, factory SessionFactory) (*Handler, error) {
	return &Handler{
		store:      s,
		newSession: factory,
		active:     make(map[string]*session.Orchestrator),
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/passages", h.handleListPassages)
		r.Get("/passages/{passageID}", h.handleGetPassage)
		r.Get("/sessions", h.handleListSessions)
		r.Get("/sessions/{sessionID}", h.handleGetSession)
		r.Post("/practice", h.handleStartPractice)
		r.Get("/practice/{practiceID}", h.handlePracticeStatus)
		r.Post("/practice/{practiceID}/end", h.handleEndPractice)
		r.Post("/practice/{practiceID}/retry", h.handleRetryPersist)
	})
}

// Shutdown tears down all live practice sessions.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, orch := range h.active {
		if err := orch.Close(); err != nil {
			slog.Warn("close practice session", "practice_id", id, "error", err)
		}
	}
}

func (h *Handler) handleListPassages(w http.ResponseWriter, r *http.Request) {
	passages, err := h.store.ListPassages()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, passages)
}

func (h *Handler) handleGetPassage(w http.ResponseWriter, r *http.Request) {
	passage, err := h.store.GetPassage(chi.URLParam(r, "passageID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, passage)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListSessionRecords()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.GetSessionRecord(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func (h *Handler) handleStartPractice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PassageID string `json:"passageId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PassageID == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: "passageId is required"})
		return
	}

	orch := h.newSession()
	if err := orch.Start(r.Context(), req.PassageID); err != nil {
		respondError(w, err)
		return
	}

	practiceID := uuid.NewString()
	h.mu.Lock()
	h.active[practiceID] = orch
	h.mu.Unlock()

	slog.Info("practice session started", "practice_id", practiceID, "passage_id", req.PassageID)
	respondJSON(w, http.StatusCreated, map[string]any{
		"practiceId": practiceID,
		"state":      orch.State(),
	})
}

func (h *Handler) handlePracticeStatus(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(chi.URLParam(r, "practiceID"))
	if !ok {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "practice session not found"})
		return
	}
	respondJSON(w, http.StatusOK, orch.Status())
}

func (h *Handler) handleEndPractice(w http.ResponseWriter, r *http.Request) {
	practiceID := chi.URLParam(r, "practiceID")
	orch, ok := h.lookup(practiceID)
	if !ok {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "practice session not found"})
		return
	}

	// Deliberately detached from the request context: once the end request is
	// accepted the grade-then-persist pipeline should not abort because the
	// client went away.
	recordID, err := orch.End(context.Background())
	if err != nil {
		respondError(w, err)
		return
	}

	slog.Info("practice session ended", "practice_id", practiceID, "record_id", recordID)
	respondJSON(w, http.StatusOK, map[string]string{"sessionId": recordID})
}

func (h *Handler) handleRetryPersist(w http.ResponseWriter, r *http.Request) {
	orch, ok := h.lookup(chi.URLParam(r, "practiceID"))
	if !ok {
		respondJSON(w, http.StatusNotFound, errorBody{Error: "practice session not found"})
		return
	}

	recordID, err := orch.RetryPersist()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"sessionId": recordID})
}

func (h *Handler) lookup(practiceID string) (*session.Orchestrator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	orch, ok := h.active[practiceID]
	return orch, ok
}

type errorBody struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respondError maps domain errors onto HTTP statuses.
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrPassageNotFound),
		errors.Is(err, store.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrSessionTooShort):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrEndInFlight),
		errors.Is(err, session.ErrNotInConversation),
		errors.Is(err, session.ErrNothingToRetry),
		errors.Is(err, session.ErrAlreadyStarted):
		status = http.StatusConflict
	case errors.Is(err, realtime.ErrCredentialUnavailable),
		errors.Is(err, grader.ErrMalformedResponse):
		status = http.StatusBadGateway
	}
	respondJSON(w, status, errorBody{Error: err.Error()})
}
