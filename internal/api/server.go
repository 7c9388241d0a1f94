// Package api serves recommendations, preferences and admin operations over
// HTTP, and the same operations as MCP tools.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/shelfrec/internal/profile"
	"github.com/kalambet/shelfrec/internal/recommend"
	"github.com/kalambet/shelfrec/internal/refresh"
	"github.com/kalambet/shelfrec/internal/storage"
	"github.com/kalambet/shelfrec/internal/worker"
)

const maxRequestBodySize = 1 << 20 // 1MB

// maxLimit bounds the number of recommendations one request may ask for.
const maxLimit = 500

// Recommender ranks catalog books for a profile.
type Recommender interface {
	Recommend(ctx context.Context, p profile.Profile, topK int) recommend.Result
}

// Refresher runs catalog refreshes and index rebuilds.
type Refresher interface {
	Refresh(ctx context.Context) (refresh.Report, error)
	Rebuild(ctx context.Context) (refresh.Report, error)
	Status() refresh.Status
}

// JobStore is the job queue and build history the admin routes read.
type JobStore interface {
	worker.JobStore
	GetJob(id string) (storage.Job, error)
	ListIndexBuilds(ctx context.Context, limit int) ([]storage.IndexBuild, error)
}

// Deps holds dependencies for the HTTP handlers.
type Deps struct {
	Profiles    *profile.Manager
	Recommender Recommender
	Refresher   Refresher
	Jobs        JobStore
	// AdminToken guards /admin. Empty disables the admin routes.
	AdminToken string
	// DefaultLimit is used when a request does not ask for a count.
	DefaultLimit int
	// RateLimit is requests per minute per client IP on public routes;
	// zero disables limiting.
	RateLimit int
	Logger    *slog.Logger
}

// NewHandler returns the service router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultLimit <= 0 {
		deps.DefaultLimit = 15
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if deps.RateLimit > 0 {
			r.Use(httprate.Limit(deps.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Get("/health", handleHealth(deps))
		r.Get("/users/{id}/recommendations", handleUserRecommendations(deps))
		r.Post("/recommend", handleRecommend(deps))
		r.Get("/users/{id}/preferences", handleGetPreferences(deps))
		r.Put("/users/{id}/preferences", handlePutPreferences(deps))
		r.Post("/users/{id}/searches", handleLogSearch(deps))
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(BearerAuth(deps.AdminToken))
		r.Post("/refresh", handleRefresh(deps))
		r.Post("/reindex", handleReindex(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/index", handleIndexStatus(deps))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Refresher.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        "ok",
			"index_version": st.IndexVersion,
			"index_entries": st.IndexEntries,
		})
	}
}

// decodeBody reads a JSON request body into v, rejecting bodies over
// maxRequestBodySize.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("request body is empty")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
