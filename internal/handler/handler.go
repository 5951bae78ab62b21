// Package handler serves the review and administration JSON API.
package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/qareview/internal/i18n"
	"github.com/pavelanni/qareview/internal/model"
	"github.com/pavelanni/qareview/internal/review"
	"github.com/pavelanni/qareview/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	review *review.Controller
}

// New creates a new Handler.
func New(s *store.Store, rc *review.Controller) *Handler {
	return &Handler{store: s, review: rc}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/questions", h.handleListQuestions)
		r.Get("/questions/next", h.handleNextPending)
		r.Get("/questions/{id}", h.handleGetQuestion)
		r.Post("/questions/{id}/review", h.handleReview)
		r.Get("/progress", h.handleProgress)
		r.Get("/subjects", h.handleSubjects)

		r.Get("/queue", h.handleListQueue)
		r.Get("/queue/status", h.handleQueueStatus)

		r.Get("/memory", h.handleListMemory)
		r.Get("/memory/{subject}", h.handleMemoryBySubject)
		r.Post("/memory", h.handleRecordMistake)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/seed", h.handleSeed)
			r.Post("/import", h.handleUploadQuestions)
			r.Post("/enqueue", h.handleEnqueue)
			r.Get("/imports", h.handleListImports)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	questions, err := h.store.ListQuestions(r.Context(), q.Get("subject"), model.ReviewStatus(q.Get("status")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) handleNextPending(w http.ResponseWriter, r *http.Request) {
	q, err := h.review.NextPending(r.Context(), r.URL.Query().Get("subject"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if q == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"question": nil,
			"message":  appI18n.T(r.Context(), "NoPending"),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"question": q})
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.store.GetQuestion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type reviewRequest struct {
	Action   model.ReviewAction `json:"action"`
	Note     string             `json:"note"`
	Reviewer string             `json:"reviewer"`
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	status, err := h.review.Review(r.Context(), id, req.Action, req.Note, req.Reviewer)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            id,
		"review_status": status,
		"message": appI18n.Td(r.Context(), "ReviewRecorded", map[string]any{
			"Status": appI18n.T(r.Context(), statusMessageID(status)),
		}),
	})
}

func statusMessageID(s model.ReviewStatus) string {
	switch s {
	case model.ReviewApproved:
		return "StatusApproved"
	case model.ReviewOverridden:
		return "StatusOverridden"
	case model.ReviewSkipped:
		return "StatusSkipped"
	default:
		return "StatusPending"
	}
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.review.Progress(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.store.ListSubjects(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if subjects == nil {
		subjects = []string{}
	}
	writeJSON(w, http.StatusOK, subjects)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// writeError maps store and validation errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  appI18n.T(ctx, "ValidationFailed"),
			Fields: ve.Fields,
		})
	case errors.Is(err, sql.ErrNoRows):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: appI18n.T(ctx, "NotFound")})
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: appI18n.T(ctx, "InternalError")})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn("invalid request body", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(r.Context(), "InvalidRequest")})
		return false
	}
	return true
}
