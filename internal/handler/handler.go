package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/evaluator/internal/docs"
	"github.com/pavelanni/evaluator/internal/evaluate"
	"github.com/pavelanni/evaluator/internal/model"
	"github.com/pavelanni/evaluator/internal/report"
	"github.com/pavelanni/evaluator/internal/store"
)

// maxBodyBytes bounds the size of an evaluation request.
const maxBodyBytes = 8 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	evaluator *evaluate.Evaluator
	store     *store.Store // nil disables the run archive
	meta      model.RunMeta
	now       func() time.Time
}

// New creates a new Handler. meta carries the model and prompt variant
// recorded with every run.
func New(ev *evaluate.Evaluator, s *store.Store, meta model.RunMeta) *Handler {
	return &Handler{evaluator: ev, store: s, meta: meta, now: time.Now}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Post("/api/evaluate", h.handleEvaluate)
	r.Get("/api/runs", h.handleListRuns)
	r.Get("/api/runs/{runID}", h.handleGetRun)
	r.Get("/api/runs/{runID}/report", h.handleRunReport)
}

// EvaluateRequest is the body of POST /api/evaluate.
type EvaluateRequest struct {
	Documents []docs.Document `json:"documents"`
	Save      bool            `json:"save"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	out, err := h.evaluator.RunDocuments(r.Context(), req.Documents)
	if err != nil {
		if errors.Is(err, model.ErrConfiguration) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("evaluation failed", "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	meta := h.meta
	meta.AnswerKeyName = out.Documents.AnswerKey.Name
	meta.StudentsName = out.Documents.Students.Name
	created := h.now()
	export := report.Export(out.Evaluation, meta, out.Diagnostics, created)

	if req.Save {
		if h.store == nil {
			http.Error(w, "run archive is disabled", http.StatusNotImplemented)
			return
		}
		id, err := h.store.SaveRun(model.RunRecord{
			CreatedAt:   created,
			Meta:        meta,
			Evaluation:  out.Evaluation,
			Diagnostics: out.Diagnostics,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		export.RunID = id
		slog.Info("saved evaluation run", "run_id", id)
	}

	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "run archive is disabled", http.StatusNotImplemented)
		return
	}
	runs, err := h.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	export, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleRunReport(w http.ResponseWriter, r *http.Request) {
	export, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := report.Text(r.Context(), w, export); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (model.RunExport, bool) {
	if h.store == nil {
		http.Error(w, "run archive is disabled", http.StatusNotImplemented)
		return model.RunExport{}, false
	}
	runID, err := strconv.ParseInt(chi.URLParam(r, "runID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return model.RunExport{}, false
	}
	rec, err := h.store.GetRun(runID)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return model.RunExport{}, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return model.RunExport{}, false
	}
	export := report.Export(rec.Evaluation, rec.Meta, rec.Diagnostics, rec.CreatedAt)
	export.RunID = rec.ID
	return export, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
