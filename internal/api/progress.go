package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

const progressTimeout = 3 * time.Second

// ArtifactStore is the read side of the checkpoint store.
type ArtifactStore interface {
	Exists(ctx context.Context, key scrape.Key) (bool, error)
	Path(key scrape.Key) string
}

// ProgressHandler reports which catalog jobs have artifacts.
type ProgressHandler struct {
	jobs    []scrape.Job
	store   ArtifactStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the catalog jobs and the artifact store.
func NewProgressHandler(jobs []scrape.Job, store ArtifactStore, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{jobs: jobs, store: store, timeout: progressTimeout, logger: logger}
}

type jobDTO struct {
	Country string `json:"country"`
	Store   string `json:"store"`
	Product string `json:"product"`
	Done    bool   `json:"done"`
}

// ListJobs handles GET /v1/jobs?country=&store=&state=done|pending. It
// returns {"jobs": [...], "done": n, "total": m}.
func (h *ProgressHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := r.URL.Query()
	country := strings.TrimSpace(q.Get("country"))
	store := strings.TrimSpace(q.Get("store"))
	state := strings.TrimSpace(q.Get("state"))
	if state != "" && state != "done" && state != "pending" {
		writeError(w, http.StatusBadRequest, "state must be done or pending")
		return
	}

	out := make([]jobDTO, 0, len(h.jobs))
	done := 0
	for _, job := range h.jobs {
		if country != "" && !strings.EqualFold(job.Country, country) {
			continue
		}
		if store != "" && !strings.EqualFold(job.Store, store) {
			continue
		}
		exists, err := h.store.Exists(ctx, job.Key())
		if err != nil {
			h.logger.Error("artifact check failed", zap.String("job", job.Key().String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to check artifacts")
			return
		}
		if exists {
			done++
		}
		if (state == "done" && !exists) || (state == "pending" && exists) {
			continue
		}
		out = append(out, jobDTO{Country: job.Country, Store: job.Store, Product: job.Product, Done: exists})
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "done": done, "total": len(out)})
}

// GetArtifact handles GET /v1/jobs/{country}/{store}/{product} and returns
// the stored artifact verbatim, or 404 when the job has not finished.
func (h *ProgressHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	key := scrape.Key{
		Country: chi.URLParam(r, "country"),
		Store:   chi.URLParam(r, "store"),
		Product: chi.URLParam(r, "product"),
	}
	// #nosec G304 -- path is built by the checkpoint store, which sanitizes segments.
	data, err := os.ReadFile(h.store.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		h.logger.Error("read artifact failed", zap.String("job", key.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
