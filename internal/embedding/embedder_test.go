package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/shelfrec/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	mu      sync.Mutex
	calls   int
	embedFn func(ctx context.Context, model string, texts []string) ([][]float32, error)
}

func (m *mockEngine) Name() string { return "mock" }
func (m *mockEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.embedFn(ctx, model, texts)
}
func (m *mockEngine) IsRunning(_ context.Context) bool               { return true }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) { return nil, nil }
func (m *mockEngine) HasModel(_ context.Context, _ string) bool      { return true }
func (m *mockEngine) PullModel(_ context.Context, _ string, _ func(engine.PullProgress)) error {
	return fmt.Errorf("not implemented")
}

// lengthEngine encodes each text as a one-element vector holding its length.
func lengthEngine() *mockEngine {
	return &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, t := range texts {
				out[i] = []float32{float32(len(t))}
			}
			return out, nil
		},
	}
}

func TestEmbed_Single(t *testing.T) {
	e := NewEmbedder(lengthEngine(), "m")

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 1 || vec[0] != 5 {
		t.Errorf("vec = %v, want [5]", vec)
	}
	if e.Model() != "m" {
		t.Errorf("Model() = %q", e.Model())
	}
}

func TestEmbed_EngineError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ []string) ([][]float32, error) {
			return nil, errors.New("connection refused")
		},
	}
	_, err := NewEmbedder(mock, "m").Embed(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("Embed error = %v, want wrapped connection refused", err)
	}
}

func TestEmbedBatch_PreservesOrderAcrossChunks(t *testing.T) {
	mock := lengthEngine()
	e := NewEmbedder(mock, "m")
	e.chunk = 3

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 10 {
		t.Fatalf("got %d vectors, want 10", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i+1) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, i+1)
		}
	}
	if mock.calls != 4 {
		t.Errorf("engine called %d times, want 4 chunks", mock.calls)
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	vecs, err := NewEmbedder(lengthEngine(), "m").EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestEmbedBatch_PartialFailure(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, texts []string) ([][]float32, error) {
			for _, t := range texts {
				if t == "bad" {
					return nil, errors.New("cannot embed")
				}
			}
			out := make([][]float32, len(texts))
			for i := range out {
				out[i] = []float32{1}
			}
			return out, nil
		},
	}
	e := NewEmbedder(mock, "m")
	e.chunk = 1

	if _, err := e.EmbedBatch(context.Background(), []string{"ok", "bad", "ok"}); err == nil {
		t.Fatal("expected error when one chunk fails")
	}
}

func TestEmbedBatch_ShortResponse(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ []string) ([][]float32, error) {
			return [][]float32{{1}}, nil
		},
	}
	if _, err := NewEmbedder(mock, "m").EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for short backend response")
	}
}
