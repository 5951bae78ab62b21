package handler

import (
	"io"
	"log/slog"
	"net/http"

	appI18n "github.com/pavelanni/qareview/internal/i18n"
	"github.com/pavelanni/qareview/internal/model"
	"github.com/pavelanni/qareview/internal/seed"
)

type seedRequest struct {
	Subject    string                `json:"subject"`
	SourceID   string                `json:"source_id"`
	SourceName string                `json:"source_name"`
	ImportedBy string                `json:"imported_by"`
	Questions  []model.QuestionInput `json:"questions"`
}

type seedResponse struct {
	model.BatchResult
	Enqueued int    `json:"enqueued"`
	Message  string `json:"message"`
}

// handleSeed inserts a batch for one subject. Without questions it loads
// the built-in mock bank. A successful insert is followed by admission.
func (h *Handler) handleSeed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var batch model.BatchImport
	if len(req.Questions) == 0 {
		b, err := seed.MockBatch(req.Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		batch = b
	} else {
		batch = model.BatchImport{
			Subject:    req.Subject,
			SourceID:   req.SourceID,
			SourceName: req.SourceName,
			ImportedBy: req.ImportedBy,
			Questions:  req.Questions,
		}
	}
	h.importBatch(w, r, batch)
}

// handleUploadQuestions imports a YAML or JSON question bank sent as the
// questions_file form field.
func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(r.Context(), "InvalidRequest")})
		return
	}
	file, header, err := r.FormFile("questions_file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(r.Context(), "InvalidRequest")})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	batch, err := seed.Decode(data, header.Filename, r.FormValue("subject"))
	if err != nil {
		slog.Warn("invalid question file", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appI18n.T(r.Context(), "InvalidRequest")})
		return
	}
	batch.ImportedBy = r.FormValue("imported_by")
	h.importBatch(w, r, batch)
}

func (h *Handler) importBatch(w http.ResponseWriter, r *http.Request, batch model.BatchImport) {
	ctx := r.Context()
	res, err := h.store.CreateBatch(ctx, batch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !res.Seeded {
		writeJSON(w, http.StatusOK, seedResponse{
			BatchResult: res,
			Message:     appI18n.Td(ctx, "SeedExists", map[string]any{"Subject": batch.Subject}),
		})
		return
	}

	enqueued, err := h.store.AdmitAll(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("imported questions via admin", "subject", batch.Subject, "count", res.Count, "enqueued", enqueued)
	writeJSON(w, http.StatusCreated, seedResponse{
		BatchResult: res,
		Enqueued:    enqueued,
		Message:     appI18n.Tp(ctx, "SeedImported", res.Count, map[string]any{"Subject": batch.Subject}),
	})
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.AdmitAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	msg := appI18n.T(r.Context(), "NothingToEnqueue")
	if n > 0 {
		msg = appI18n.Tp(r.Context(), "Enqueued", n, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"enqueued": n, "message": msg})
}

func (h *Handler) handleListImports(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListImportSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []model.ImportSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.QueueStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListQueue(r.Context(), model.QueueStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
