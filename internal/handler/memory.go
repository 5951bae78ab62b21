package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/pavelanni/qareview/internal/i18n"
	"github.com/pavelanni/qareview/internal/model"
)

func (h *Handler) handleListMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := h.store.ListMemory(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(mem))
}

func (h *Handler) handleMemoryBySubject(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(r.Context(), "InvalidRequest")})
		return
	}
	mem, err := h.store.MemoryBySubject(r.Context(), subject)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(mem))
}

func (h *Handler) handleRecordMistake(w http.ResponseWriter, r *http.Request) {
	var in model.MistakeInput
	if !decodeJSON(w, r, &in) {
		return
	}
	m, err := h.review.RecordMistake(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"memory":  m,
		"message": appI18n.Td(r.Context(), "MistakeRecorded", map[string]any{"Subject": m.Subject}),
	})
}

// subjectParam returns the decoded {subject} segment. chi routes on
// URL.RawPath when it is set, so encoded segments such as "FHA%2FVA" arrive
// still escaped.
func subjectParam(r *http.Request) (string, error) {
	subject := chi.URLParam(r, "subject")
	if r.URL.RawPath == "" {
		return subject, nil
	}
	return url.PathUnescape(subject)
}

func nonNil(mem []model.SubjectMemory) []model.SubjectMemory {
	if mem == nil {
		return []model.SubjectMemory{}
	}
	return mem
}
