package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/shelfrec/internal/config"
	"github.com/kalambet/shelfrec/internal/profile"
	"github.com/kalambet/shelfrec/internal/recommend"
	"github.com/kalambet/shelfrec/internal/refresh"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

type cannedResponse struct {
	status int
	body   string
}

func newTestServer(t *testing.T, responses map[string]cannedResponse) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		if resp, ok := responses[r.Method+" "+r.URL.Path]; ok {
			w.Header().Set("Content-Type", "application/json")
			if resp.status != 0 {
				w.WriteHeader(resp.status)
			}
			w.Write([]byte(resp.body))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found_error"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestRemoteRecommend(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /users/alice smith/recommendations": {body: `[{"id":"7","title":"Kindred","author":"Octavia E. Butler","genres":["Fiction"],"image":"","score":0.42,"reason":"From author Octavia E. Butler"}]`},
	})

	recs, err := remoteRecommend(ctx, ts.client(), "alice smith", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 1 || recs[0].CatalogID != "7" || recs[0].Score != 0.42 {
		t.Fatalf("unexpected recommendations: %+v", recs)
	}

	r := ts.requests[0]
	if r.Path != "/users/alice%20smith/recommendations?limit=5" {
		t.Errorf("path = %q", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestRemoteEnqueue(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /admin/refresh": {status: http.StatusAccepted, body: `{"job_id":"job-1"}`},
		"POST /admin/reindex": {status: http.StatusAccepted, body: `{"job_id":"job-2"}`},
	})

	id, err := remoteEnqueue(ctx, ts.client(), "/admin/refresh")
	if err != nil || id != "job-1" {
		t.Fatalf("refresh enqueue = %q, %v", id, err)
	}
	id, err = remoteEnqueue(ctx, ts.client(), "/admin/reindex")
	if err != nil || id != "job-2" {
		t.Fatalf("reindex enqueue = %q, %v", id, err)
	}

	if ts.requests[0].Path != "/admin/refresh?async=true" {
		t.Errorf("refresh path = %q", ts.requests[0].Path)
	}
	if ts.requests[1].Path != "/admin/reindex" {
		t.Errorf("reindex path = %q", ts.requests[1].Path)
	}
}

func TestRemoteRefresh_FailureCarriesReport(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /admin/refresh": {status: http.StatusInternalServerError, body: `{"kind":"refresh","status":"failure","message":"ingestion failed: no results","log":["genre fiction: 0 books"]}`},
	})

	rep, err := remoteRefresh(ctx, ts.client())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Status != "failure" || rep.Message != "ingestion failed: no results" || len(rep.Log) != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestRemoteRefresh_Conflict(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /admin/refresh": {status: http.StatusConflict, body: `{"error":{"message":"refresh already in progress","type":"conflict_error"}}`},
	})

	_, err := remoteRefresh(ctx, ts.client())
	if err == nil {
		t.Fatal("expected error for 409")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "already in progress") {
		t.Errorf("error = %q", err)
	}
}

func TestClient_ServerNotReachable(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: &http.Client{Timeout: time.Second}}
	_, err := c.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{"GET /health": {body: `{}`}})
	c := ts.client()
	c.token = ""
	resp, err := c.get(ctx, "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestRecommendCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"recommend"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing user")
	}
	if !strings.Contains(err.Error(), "accepts 1 arg") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "test message"); result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	if result := colorize(colorGreen, "test message"); !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestWriteRecommendations(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	writeRecommendations(&buf, recommend.Result{
		{CatalogID: "1", Title: "Dune", Author: "Frank Herbert", Genres: []string{"Science Fiction"}, Score: 0.91234, Reason: "Matches your genres"},
	})
	want := " 1. Dune by Frank Herbert [score: 0.912]\n    Science Fiction\n    Matches your genres (id 1)\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	writeRecommendations(&buf, nil)
	if !strings.HasPrefix(buf.String(), "No recommendations yet") {
		t.Errorf("empty output = %q", buf.String())
	}
}

func TestWriteReport(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	writeReport(&buf, refresh.Report{
		Kind: "refresh", Status: "success", Message: "index v1 serving 2 books",
		Log: []string{"ingested 2 books"}, Duration: 1500 * time.Millisecond,
	})
	out := buf.String()
	for _, want := range []string{"refresh success: index v1 serving 2 books", "  ingested 2 books", "took 1.5s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" 12, 34,,56 ")
	if len(got) != 3 || got[0] != "12" || got[2] != "56" {
		t.Errorf("splitCSV = %q", got)
	}
	if splitCSV("") != nil {
		t.Error("splitCSV(\"\") should be nil")
	}
}

func TestPIDFile_RoundTrip(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil || pid <= 0 {
		t.Fatalf("readPIDFile = %d, %v", pid, err)
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("PID file should be gone")
	}
}

func TestNewLogger_Levels(t *testing.T) {
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Error("debug logger should enable debug")
	}
	if newLogger("warn").Enabled(ctx, slog.LevelInfo) {
		t.Error("warn logger should not enable info")
	}
	if !newLogger("bogus").Enabled(ctx, slog.LevelInfo) {
		t.Error("unknown level should fall back to info")
	}
}

// fakeHardcover serves a single page of books for every genre.
func fakeHardcover(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if offset, _ := req.Variables["offset"].(float64); offset > 0 {
			w.Write([]byte(`{"data":{"books":[]}}`))
			return
		}
		w.Write([]byte(`{"data":{"books":[
			{"id":1,"title":"Dune","description":"Desert planet politics and sandworms.","image":{"url":"https://img/1.jpg"},
			 "contributions":[{"author":{"name":"Frank Herbert"}}],"taggings":[{"tag":{"tag":"Science Fiction"}}]},
			{"id":2,"title":"Emma","description":"A comedy of manners in a country village.","image":null,
			 "contributions":[{"author":{"name":"Jane Austen"}}],"taggings":[{"tag":{"tag":"Romance"}}]},
			{"id":3,"title":"Children of Dune","description":"The sandworms return to the desert planet.","image":null,
			 "contributions":[{"author":{"name":"Frank Herbert"}}],"taggings":[{"tag":{"tag":"Science Fiction"}}]}
		]}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenApp_RefreshThenRecommend(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Catalog.Endpoint = fakeHardcover(t).URL
	cfg.Catalog.PageSize = 3
	cfg.Catalog.TargetTotal = 3
	cfg.Catalog.BatchDelayMS = 0
	cfg.Catalog.GenreDelayMS = 0

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	a, err := openApp(ctx, cfg, logger, true)
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}

	rep, err := a.driver.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh: %v (%+v)", err, rep)
	}
	if rep.Indexed != 3 {
		t.Fatalf("Indexed = %d, want 3", rep.Indexed)
	}

	if _, err := a.profiles.SavePreferences(ctx, "alice", profile.Preferences{LikedBooks: []string{"1"}}); err != nil {
		t.Fatal(err)
	}
	p, err := a.profiles.Get(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	recs := a.recommender.Recommend(ctx, p, 5)
	if len(recs) != 2 {
		t.Fatalf("got %d recommendations, want 2: %+v", len(recs), recs)
	}
	for _, r := range recs {
		if r.CatalogID == "1" {
			t.Error("liked book recommended")
		}
	}
	if recs[0].CatalogID != "3" {
		t.Errorf("top recommendation = %s, want 3 (same author and topic)", recs[0].CatalogID)
	}
	a.close()

	// A second process sees the published index.
	b, err := openApp(ctx, cfg, logger, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.close()
	if st := b.driver.Status(); st.IndexEntries != 3 || st.IndexVersion != rep.IndexVersion {
		t.Errorf("restored status = %+v, want version %s with 3 entries", st, rep.IndexVersion)
	}
}

func TestOpenApp_ModelChangeDropsIndexAndCache(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Catalog.Endpoint = fakeHardcover(t).URL
	cfg.Catalog.PageSize = 3
	cfg.Catalog.TargetTotal = 3
	cfg.Catalog.BatchDelayMS = 0
	cfg.Catalog.GenreDelayMS = 0
	cfg.Embed.Backend = "hashing"
	cfg.Embed.Dimensions = 256

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	a, err := openApp(ctx, cfg, logger, false)
	if err != nil {
		t.Fatalf("openApp: %v", err)
	}
	if _, err := a.driver.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if a.cache == nil {
		t.Fatal("expected embedding cache to open")
	}
	if err := a.cache.Put("hashing-256", "dune", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	a.close()

	cfg.Embed.Dimensions = 128
	b, err := openApp(ctx, cfg, logger, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.close()

	if st := b.driver.Status(); st.IndexEntries != 0 {
		t.Errorf("index of the previous model is served: %+v", st)
	}
	recs := b.recommender.Recommend(ctx, profile.Profile{LikedGenres: []string{"Science Fiction"}}, 5)
	if len(recs) != 0 {
		t.Errorf("got %d recommendations, want none before a refresh", len(recs))
	}
	if _, ok, err := b.cache.Get("hashing-256", "dune"); err != nil || ok {
		t.Errorf("cached vector of previous model survived: ok=%v err=%v", ok, err)
	}
}
