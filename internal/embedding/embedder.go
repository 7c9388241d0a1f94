package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/shelfrec/internal/engine"
)

const defaultChunkSize = 64

// Embedder wraps an Engine and a fixed model name so every vector it produces
// lives in the same space.
type Embedder struct {
	engine engine.Engine
	model  string
	chunk  int
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model, chunk: defaultChunkSize}
}

// Model returns the model name vectors are produced with.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.engine.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding text: backend returned %d vectors", len(vecs))
	}
	return vecs[0], nil
}

// EmbedBatch returns one vector per text, in input order. Texts are sent to
// the engine in chunks, at most four chunks in flight.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += e.chunk {
		end := min(start+e.chunk, len(texts))
		g.Go(func() error {
			vecs, err := e.engine.Embed(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: backend returned %d vectors", start, end-1, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
