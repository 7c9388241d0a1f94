package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/shelfrec/internal/storage"
)

// BatchEmbedder produces vectors for many texts in one call.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Builder turns a catalog snapshot into a feature index.
type Builder struct {
	embedder BatchEmbedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewBuilder creates a Builder that embeds with e.
func NewBuilder(e BatchEmbedder, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{embedder: e, logger: logger, now: time.Now}
}

// NewVersion returns a sortable, unique build version.
func NewVersion(t time.Time) string {
	return t.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// Build embeds every catalog entry. An empty catalog yields an empty
// snapshot and a warning, not an error.
func (b *Builder) Build(ctx context.Context, catalog []storage.CatalogEntry) (*Snapshot, error) {
	builtAt := b.now()
	version := NewVersion(builtAt)

	if len(catalog) == 0 {
		b.logger.Warn("catalog is empty, building empty index", "version", version)
		return NewSnapshot(version, b.embedder.Model(), builtAt, nil), nil
	}

	blobs := make([]string, len(catalog))
	for i, e := range catalog {
		blobs[i] = Blob(e)
	}

	start := time.Now()
	vecs, err := b.embedder.EmbedBatch(ctx, blobs)
	if err != nil {
		return nil, fmt.Errorf("embedding catalog: %w", err)
	}
	if len(vecs) != len(catalog) {
		return nil, fmt.Errorf("embedding catalog: got %d vectors for %d entries", len(vecs), len(catalog))
	}

	dims := len(vecs[0])
	entries := make([]Entry, len(catalog))
	for i, e := range catalog {
		if len(vecs[i]) != dims || dims == 0 {
			return nil, fmt.Errorf("entry %s: vector has %d dimensions, want %d", e.ID, len(vecs[i]), dims)
		}
		entries[i] = Entry{
			CatalogID: e.ID,
			Title:     e.Title,
			Author:    e.Author,
			Genres:    e.Genres,
			CoverURL:  e.CoverURL,
			Vector:    vecs[i],
		}
	}

	snap := NewSnapshot(version, b.embedder.Model(), builtAt, entries)
	b.logger.Info("index built",
		"version", version,
		"entries", snap.Len(),
		"dimensions", dims,
		"model", snap.Model,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return snap, nil
}
