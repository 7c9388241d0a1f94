package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}
}

func TestIsRunning_Down(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := New(srv.URL)
	if c.IsRunning(context.Background()) {
		t.Error("IsRunning() = true, want false")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("nomic-embed-text:latest", "mxbai-embed-large:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}

	want := []string{"nomic-embed-text:latest", "mxbai-embed-large:latest"}
	if len(models) != len(want) {
		t.Fatalf("got %d models, want %d", len(models), len(want))
	}
	for i, w := range want {
		if models[i] != w {
			t.Errorf("models[%d] = %q, want %q", i, models[i], w)
		}
	}
}

func TestHasModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("nomic-embed-text:latest"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if !c.HasModel(context.Background(), "nomic-embed-text") {
		t.Error("HasModel(nomic-embed-text) = false, want true")
	}
	if c.HasModel(context.Background(), "nomic-embed") {
		t.Error("HasModel(nomic-embed) = true, want false")
	}
}

func TestPullModel_StreamsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"status":"pulling manifest"}
{"status":"downloading","total":100,"completed":50}
{"status":"success"}
`))
	}))
	defer srv.Close()

	var statuses []string
	err := New(srv.URL).PullModel(context.Background(), "nomic-embed-text", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	if err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if strings.Join(statuses, ",") != "pulling manifest,downloading,success" {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestPullModel_StreamedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"pulling manifest"}
{"error":"model not found"}
`))
	}))
	defer srv.Close()

	err := New(srv.URL).PullModel(context.Background(), "nope", nil)
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("PullModel error = %v, want model not found", err)
	}
}

func TestEmbed_Batch(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		resp := embedResponse{Embeddings: make([][]float32, len(got.Input))}
		for i := range got.Input {
			resp.Embeddings[i] = []float32{float32(i), 0.5}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := New(srv.URL)
	vecs, err := c.Embed(context.Background(), "nomic-embed-text", []string{"dune", "emma", "hobbit"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got.Model != "nomic-embed-text" || len(got.Input) != 3 {
		t.Errorf("request = %+v", got)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestEmbed_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Embed(context.Background(), "m", []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for embedding count mismatch")
	}
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Embed(context.Background(), "m", []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Embed error = %v, want status 500", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Detail != "model not loaded" {
		t.Errorf("Embed error = %#v, want StatusError with body detail", err)
	}
}

func TestListModels_NotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).ListModels(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable || se.Detail != "" {
		t.Errorf("ListModels error = %v, want 503 StatusError", err)
	}
	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() = true for 503")
	}
}

func TestEmbed_EmptyInput(t *testing.T) {
	vecs, err := New("http://127.0.0.1:0").Embed(context.Background(), "m", nil)
	if err != nil || vecs != nil {
		t.Errorf("Embed(nil) = %v, %v; want nil, nil", vecs, err)
	}
}
