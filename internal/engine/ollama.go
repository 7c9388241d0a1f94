package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kalambet/shelfrec/internal/ollama"
)

// ErrUnavailable is returned while the backend's circuit breaker is open.
var ErrUnavailable = errors.New("embedding backend unavailable")

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
// Embedding calls go through a circuit breaker so a dead sidecar fails fast
// instead of stalling every recommendation request.
type OllamaEngine struct {
	client  *ollama.Client
	breaker *gobreaker.CircuitBreaker[[][]float32]
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{
		client: ollama.New(baseURL),
		breaker: gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
			Name:        "ollama-embed",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (e *OllamaEngine) Name() string { return "ollama" }

func (e *OllamaEngine) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := e.breaker.Execute(func() ([][]float32, error) {
		return e.client.Embed(ctx, model, texts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return vecs, err
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
