package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/kalambet/shelfrec/internal/refresh"
	"github.com/kalambet/shelfrec/internal/storage"
	"github.com/kalambet/shelfrec/internal/worker"
)

// buildHistoryLimit is how many past index builds GET /admin/index lists.
const buildHistoryLimit = 20

type jobView struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type buildView struct {
	Version    string    `json:"version"`
	Entries    int       `json:"entries"`
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	CreatedAt  time.Time `json:"created_at"`
}

func handleRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
			enqueue(deps, w, worker.TypeCatalogRefresh)
			return
		}

		// The run outlives a disconnecting client; the driver applies its own
		// timeout.
		rep, err := deps.Refresher.Refresh(context.WithoutCancel(r.Context()))
		switch {
		case errors.Is(err, refresh.ErrInProgress):
			httpError(w, http.StatusConflict, "conflict_error", "%v", err)
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, rep)
		default:
			writeJSON(w, http.StatusOK, rep)
		}
	}
}

func handleReindex(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enqueue(deps, w, worker.TypeIndexRebuild)
	}
}

func enqueue(deps Deps, w http.ResponseWriter, typ string) {
	id, err := worker.Enqueue(deps.Jobs, typ, "api")
	if errors.Is(err, worker.ErrAlreadyQueued) {
		httpError(w, http.StatusConflict, "conflict_error", "a %s job is already queued", typ)
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "enqueueing job: %v", err)
		return
	}
	deps.Logger.Info("job enqueued", "job_id", id, "type", typ)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
			return
		}

		v := jobView{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			CreatedAt: job.CreatedAt,
			UpdatedAt: job.UpdatedAt,
		}
		if job.ResultJSON != "" {
			v.Result = json.RawMessage(job.ResultJSON)
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleIndexStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		builds, err := deps.Jobs.ListIndexBuilds(r.Context(), buildHistoryLimit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing index builds: %v", err)
			return
		}
		history := make([]buildView, len(builds))
		for i, b := range builds {
			history[i] = buildView{
				Version:    b.Version,
				Entries:    b.Entries,
				Model:      b.Model,
				Dimensions: b.Dimensions,
				CreatedAt:  b.CreatedAt,
			}
		}
		writeJSON(w, http.StatusOK, struct {
			refresh.Status
			Builds []buildView `json:"builds"`
		}{deps.Refresher.Status(), history})
	}
}
