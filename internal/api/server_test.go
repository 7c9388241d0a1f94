package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/shelfrec/internal/profile"
	"github.com/kalambet/shelfrec/internal/recommend"
	"github.com/kalambet/shelfrec/internal/refresh"
	"github.com/kalambet/shelfrec/internal/storage"
	"github.com/kalambet/shelfrec/internal/worker"
)

const testToken = "test-token-12345"

// --- fakes ---

type fakeRecommender struct {
	mu     sync.Mutex
	result recommend.Result
	got    profile.Profile
	topK   int
}

func (f *fakeRecommender) Recommend(_ context.Context, p profile.Profile, topK int) recommend.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = p
	f.topK = topK
	if topK < len(f.result) {
		return f.result[:topK]
	}
	return f.result
}

type fakeRefresher struct {
	report refresh.Report
	err    error
	status refresh.Status
	calls  int
}

func (f *fakeRefresher) Refresh(context.Context) (refresh.Report, error) {
	f.calls++
	return f.report, f.err
}

func (f *fakeRefresher) Rebuild(context.Context) (refresh.Report, error) {
	f.calls++
	return f.report, f.err
}

func (f *fakeRefresher) Status() refresh.Status { return f.status }

// --- helpers ---

type testEnv struct {
	handler http.Handler
	store   *storage.Store
	rec     *fakeRecommender
	ref     *fakeRefresher
}

func setupHandler(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		store: store,
		rec: &fakeRecommender{result: recommend.Result{
			{CatalogID: "1", Title: "Dune", Author: "Frank Herbert", Genres: []string{"Science Fiction"}, Score: 0.9, Reason: "Matches your genres"},
			{CatalogID: "2", Title: "Emma", Author: "Jane Austen", Genres: []string{"Romance"}, Score: 0.5, Reason: "Similar to books you liked"},
		}},
		ref: &fakeRefresher{status: refresh.Status{IndexVersion: "v1", IndexEntries: 2}},
	}
	deps := Deps{
		Profiles:     profile.NewManager(store, nil),
		Recommender:  env.rec,
		Refresher:    env.ref,
		Jobs:         store,
		AdminToken:   testToken,
		DefaultLimit: 15,
	}
	if mutate != nil {
		mutate(&deps)
	}
	env.handler = NewHandler(deps)
	return env
}

func doReq(h http.Handler, method, url, body, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeRecs(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var out []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding %q: %v", rr.Body.String(), err)
	}
	return out
}

// --- public routes ---

func TestHealth(t *testing.T) {
	env := setupHandler(t, nil)
	rr := doReq(env.handler, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]any
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["status"] != "ok" || body["index_version"] != "v1" || body["index_entries"] != float64(2) {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestUserRecommendations_UsesStoredProfile(t *testing.T) {
	env := setupHandler(t, nil)
	rr := doReq(env.handler, http.MethodPut, "/users/u1/preferences",
		`{"liked_books":["42"],"liked_genres":["Fantasy"]}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = doReq(env.handler, http.MethodGet, "/users/u1/recommendations?limit=1", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	recs := decodeRecs(t, rr)
	if len(recs) != 1 {
		t.Fatalf("got %d recommendations, want 1", len(recs))
	}
	for _, key := range []string{"id", "title", "author", "genres", "image", "score", "reason"} {
		if _, ok := recs[0][key]; !ok {
			t.Errorf("recommendation missing %q: %v", key, recs[0])
		}
	}
	if env.rec.topK != 1 {
		t.Errorf("topK = %d, want 1", env.rec.topK)
	}
	if len(env.rec.got.LikedBooks) != 1 || env.rec.got.LikedBooks[0] != "42" {
		t.Errorf("profile books = %v, want [42]", env.rec.got.LikedBooks)
	}
}

func TestUserRecommendations_LimitParsing(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 15},
		{"?limit=abc", 15},
		{"?limit=-3", 15},
		{"?limit=7", 7},
		{"?limit=100000", maxLimit},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			env := setupHandler(t, nil)
			doReq(env.handler, http.MethodGet, "/users/u1/recommendations"+tt.query, "", "")
			if env.rec.topK != tt.want {
				t.Errorf("topK = %d, want %d", env.rec.topK, tt.want)
			}
		})
	}
}

func TestUserRecommendations_EmptyResultIsArray(t *testing.T) {
	env := setupHandler(t, nil)
	env.rec.result = nil
	rr := doReq(env.handler, http.MethodGet, "/users/nobody/recommendations", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestUserRecommendations_ProfileErrorGivesEmpty(t *testing.T) {
	env := setupHandler(t, nil)
	env.store.Close()
	rr := doReq(env.handler, http.MethodGet, "/users/u1/recommendations", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestAdhocRecommend(t *testing.T) {
	env := setupHandler(t, nil)
	doReq(env.handler, http.MethodPost, "/users/u1/searches", `{"query":"space opera"}`, "")

	body := `{"user_id":"u1","liked_authors":["Ursula K. Le Guin"],"limit":1}`
	rr := doReq(env.handler, http.MethodPost, "/recommend", body, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if len(decodeRecs(t, rr)) != 1 {
		t.Errorf("expected 1 recommendation")
	}
	got := env.rec.got
	if len(got.Searches) != 1 || got.Searches[0] != "space opera" {
		t.Errorf("stored searches not merged: %v", got.Searches)
	}
	if len(got.LikedAuthors) != 1 || got.LikedAuthors[0] != "Ursula K. Le Guin" {
		t.Errorf("inline authors not applied: %v", got.LikedAuthors)
	}
}

func TestAdhocRecommend_SearchesNormalized(t *testing.T) {
	env := setupHandler(t, nil)
	doReq(env.handler, http.MethodPost, "/users/u1/searches", `{"query":"space opera"}`, "")

	inline := []string{`"  dragons  "`, `"ab"`, `"dragons"`, `"space opera"`}
	for i := range 12 {
		inline = append(inline, fmt.Sprintf(`"inline query %d"`, i))
	}
	body := `{"user_id":"u1","searches":[` + strings.Join(inline, ",") + `]}`
	rr := doReq(env.handler, http.MethodPost, "/recommend", body, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	got := env.rec.got.Searches
	if len(got) != profile.MaxSearches {
		t.Fatalf("searches = %v, want %d entries", got, profile.MaxSearches)
	}
	if got[0] != "dragons" || got[1] != "space opera" || got[2] != "inline query 0" {
		t.Errorf("searches = %v", got)
	}
	seen := map[string]bool{}
	for _, q := range got {
		if seen[q] || len(q) <= 2 {
			t.Errorf("searches = %v: duplicate or short entry %q", got, q)
		}
		seen[q] = true
	}
}

func TestAdhocRecommend_InvalidBody(t *testing.T) {
	env := setupHandler(t, nil)
	for _, body := range []string{"", "{not json", `{"limit":9999}`} {
		rr := doReq(env.handler, http.MethodPost, "/recommend", body, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestPreferences_RoundTrip(t *testing.T) {
	env := setupHandler(t, nil)
	rr := doReq(env.handler, http.MethodPut, "/users/u1/preferences",
		`{"liked_books":["1"," 1 ","2"],"liked_authors":["Le Guin"]}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = doReq(env.handler, http.MethodGet, "/users/u1/preferences", "", "")
	var p profile.Profile
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	if len(p.LikedBooks) != 2 || p.LikedBooks[0] != "1" || p.LikedBooks[1] != "2" {
		t.Errorf("LikedBooks = %v, want [1 2]", p.LikedBooks)
	}
	if p.LikedGenres == nil {
		t.Error("LikedGenres should be an empty list, not null")
	}
}

func TestPreferences_ValidationError(t *testing.T) {
	env := setupHandler(t, nil)
	long := strings.Repeat("x", 65)
	rr := doReq(env.handler, http.MethodPut, "/users/u1/preferences", `{"liked_books":["`+long+`"]}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "invalid_request_error") {
		t.Errorf("unexpected error body: %s", rr.Body.String())
	}
}

func TestLogSearch(t *testing.T) {
	env := setupHandler(t, nil)

	rr := doReq(env.handler, http.MethodPost, "/users/u1/searches", `{"query":"ab"}`, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"logged":false`) {
		t.Errorf("short query: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rr = doReq(env.handler, http.MethodPost, "/users/u1/searches", `{"query":"dragons"}`, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"logged":true`) {
		t.Errorf("query: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rr = doReq(env.handler, http.MethodPost, "/users/u1/searches", `{}`, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing query: status = %d, want 400", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := setupHandler(t, func(d *Deps) { d.RateLimit = 2 })
	for i := range 2 {
		if rr := doReq(env.handler, http.MethodGet, "/health", "", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rr.Code)
		}
	}
	if rr := doReq(env.handler, http.MethodGet, "/health", "", ""); rr.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupHandler(t, nil)
	rr := doReq(env.handler, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "shelfrec_index_entries") {
		t.Error("metrics output missing shelfrec_index_entries")
	}
}

// --- admin routes ---

func TestAdmin_Auth(t *testing.T) {
	env := setupHandler(t, nil)
	if rr := doReq(env.handler, http.MethodPost, "/admin/refresh", "", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	if rr := doReq(env.handler, http.MethodPost, "/admin/refresh", "", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if env.ref.calls != 0 {
		t.Errorf("refresh ran %d times without auth", env.ref.calls)
	}
}

func TestAdmin_DisabledWithoutToken(t *testing.T) {
	env := setupHandler(t, func(d *Deps) { d.AdminToken = "" })
	if rr := doReq(env.handler, http.MethodPost, "/admin/refresh", "", "anything"); rr.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rr.Code)
	}
}

func TestAdmin_RefreshSync(t *testing.T) {
	env := setupHandler(t, nil)
	env.ref.report = refresh.Report{Kind: refresh.KindRefresh, Status: "success", Message: "index v2 serving 10 books", Log: []string{"ok"}}

	rr := doReq(env.handler, http.MethodPost, "/admin/refresh", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var rep refresh.Report
	json.Unmarshal(rr.Body.Bytes(), &rep)
	if rep.Status != "success" || len(rep.Log) != 1 {
		t.Errorf("unexpected report: %+v", rep)
	}
}

func TestAdmin_RefreshConflict(t *testing.T) {
	env := setupHandler(t, nil)
	env.ref.err = refresh.ErrInProgress
	rr := doReq(env.handler, http.MethodPost, "/admin/refresh", "", testToken)
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestAdmin_RefreshFailure(t *testing.T) {
	env := setupHandler(t, nil)
	env.ref.report = refresh.Report{Status: "failure", Message: "ingestion failed"}
	env.ref.err = context.DeadlineExceeded
	rr := doReq(env.handler, http.MethodPost, "/admin/refresh", "", testToken)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ingestion failed") {
		t.Errorf("body missing report message: %s", rr.Body.String())
	}
}

func TestAdmin_RefreshAsyncAndJobLookup(t *testing.T) {
	env := setupHandler(t, nil)
	rr := doReq(env.handler, http.MethodPost, "/admin/refresh?async=true", "", testToken)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rr.Body.Bytes(), &resp)
	id := resp["job_id"]
	if id == "" {
		t.Fatal("missing job_id")
	}
	if env.ref.calls != 0 {
		t.Error("async refresh should not run inline")
	}

	rr = doReq(env.handler, http.MethodPost, "/admin/refresh?async=true", "", testToken)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate enqueue: status = %d, want 409", rr.Code)
	}

	rr = doReq(env.handler, http.MethodGet, "/admin/jobs/"+id, "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("job lookup status = %d", rr.Code)
	}
	var job map[string]any
	json.Unmarshal(rr.Body.Bytes(), &job)
	if job["type"] != worker.TypeCatalogRefresh || job["status"] != "pending" {
		t.Errorf("unexpected job: %v", job)
	}

	if rr := doReq(env.handler, http.MethodGet, "/admin/jobs/missing", "", testToken); rr.Code != http.StatusNotFound {
		t.Errorf("missing job: status = %d, want 404", rr.Code)
	}
}

func TestAdmin_Reindex(t *testing.T) {
	env := setupHandler(t, nil)
	rr := doReq(env.handler, http.MethodPost, "/admin/reindex", "", testToken)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rr.Code)
	}
	active, err := env.store.HasActiveJob(worker.TypeIndexRebuild)
	if err != nil || !active {
		t.Errorf("HasActiveJob = %v, %v; want true", active, err)
	}
}

func TestAdmin_IndexStatus(t *testing.T) {
	env := setupHandler(t, nil)
	err := env.store.RecordIndexBuild(context.Background(), storage.IndexBuild{
		Version: "v1", Path: "/tmp/index-v1.db", Entries: 2, Model: "hashing-256", Dimensions: 256,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}

	rr := doReq(env.handler, http.MethodGet, "/admin/index", "", testToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		IndexVersion string `json:"index_version"`
		Builds       []struct {
			Version string `json:"version"`
			Model   string `json:"model"`
		} `json:"builds"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.IndexVersion != "v1" || len(body.Builds) != 1 || body.Builds[0].Model != "hashing-256" {
		t.Errorf("unexpected index status: %+v", body)
	}
}
