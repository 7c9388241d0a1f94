package api

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/shelfrec/internal/profile"
	"github.com/kalambet/shelfrec/internal/recommend"
	"github.com/kalambet/shelfrec/internal/validation"
)

// adhocRequest describes a profile inline. When UserID is set the stored
// profile is loaded first and the inline lists are added to it. Inline
// searches count as more recent than stored ones.
type adhocRequest struct {
	UserID       string   `json:"user_id" validate:"max=128"`
	LikedBooks   []string `json:"liked_books" validate:"max=1000,dive,max=64"`
	LikedAuthors []string `json:"liked_authors" validate:"max=200,dive,max=200"`
	LikedGenres  []string `json:"liked_genres" validate:"max=200,dive,max=100"`
	Searches     []string `json:"searches" validate:"max=100,dive,max=500"`
	Limit        int      `json:"limit" validate:"min=0,max=500"`
}

type searchRequest struct {
	Query string `json:"query" validate:"required,max=500"`
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}

// writeRecommendations always answers 200 with a JSON array.
func writeRecommendations(w http.ResponseWriter, res recommend.Result) {
	if res == nil {
		res = recommend.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}

func handleUserRecommendations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		limit := parseLimit(r.URL.Query().Get("limit"), deps.DefaultLimit)

		p, err := deps.Profiles.Get(r.Context(), userID)
		if err != nil {
			deps.Logger.Error("loading profile", "user", userID, "error", err)
			writeRecommendations(w, nil)
			return
		}
		writeRecommendations(w, deps.Recommender.Recommend(r.Context(), p, limit))
	}
}

func handleRecommend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req adhocRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validation.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		p := profile.Profile{UserID: strings.TrimSpace(req.UserID)}
		if p.UserID != "" {
			stored, err := deps.Profiles.Get(r.Context(), p.UserID)
			if err != nil {
				deps.Logger.Error("loading profile", "user", p.UserID, "error", err)
				writeRecommendations(w, nil)
				return
			}
			p = stored
		}
		p.LikedBooks = append(p.LikedBooks, req.LikedBooks...)
		p.LikedAuthors = append(p.LikedAuthors, req.LikedAuthors...)
		p.LikedGenres = append(p.LikedGenres, req.LikedGenres...)
		p.Searches = profile.NormalizeSearches(append(slices.Clone(req.Searches), p.Searches...))

		limit := deps.DefaultLimit
		if req.Limit > 0 {
			limit = req.Limit
		}
		writeRecommendations(w, deps.Recommender.Recommend(r.Context(), p, limit))
	}
}

func handleGetPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		p, err := deps.Profiles.Get(r.Context(), userID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading profile: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handlePutPreferences(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		var prefs profile.Preferences
		if err := decodeBody(w, r, &prefs); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		saved, err := deps.Profiles.SavePreferences(r.Context(), userID, prefs)
		if err != nil {
			var verr *validation.Error
			if errors.As(err, &verr) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "saving preferences: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleLogSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "id")
		var req searchRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validation.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		logged, err := deps.Profiles.LogSearch(r.Context(), userID, req.Query)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "logging search: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"logged": logged})
	}
}
