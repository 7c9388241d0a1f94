package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/kalambet/shelfrec/internal/metrics"
)

// maxInlineKey bounds the raw text stored in a cache key; longer texts are
// keyed by their SHA-256.
const maxInlineKey = 512

// Cache persists query embeddings in badger, keyed by model and text.
type Cache struct {
	db *badger.DB
}

// OpenCache opens (or creates) a cache in dir. Pass "" for an in-memory cache.
func OpenCache(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying badger database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func cacheKey(model, text string) []byte {
	if len(text) > maxInlineKey {
		sum := sha256.Sum256([]byte(text))
		text = fmt.Sprintf("sha256:%x", sum)
	}
	return []byte("emb/" + model + "\x00" + text)
}

// Get returns the cached vector for (model, text). A miss returns nil, false, nil.
func (c *Cache) Get(model, text string) ([]float32, bool, error) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(model, text))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := DecodeVector(val)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Put stores vec for (model, text).
func (c *Cache) Put(model, text string, vec []float32) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(model, text), EncodeVector(vec))
	})
}

// Purge drops every cached vector for model, e.g. after switching models.
func (c *Cache) Purge(model string) error {
	return c.db.DropPrefix([]byte("emb/" + model + "\x00"))
}

// EncodeVector serializes v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// TextEmbedder is the single-text embedding capability.
type TextEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// CachedEmbedder serves repeated texts from a Cache and falls through to the
// wrapped embedder on a miss. Cache failures are logged and never surface.
type CachedEmbedder struct {
	next   TextEmbedder
	cache  *Cache
	logger *slog.Logger
}

// NewCachedEmbedder wraps next with cache. A nil cache disables caching.
func NewCachedEmbedder(next TextEmbedder, cache *Cache, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{next: next, cache: cache, logger: logger}
}

func (c *CachedEmbedder) Model() string { return c.next.Model() }

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cache == nil {
		return c.next.Embed(ctx, text)
	}
	model := c.next.Model()

	vec, ok, err := c.cache.Get(model, text)
	switch {
	case err != nil:
		metrics.EmbedCache.WithLabelValues("error").Inc()
		c.logger.Warn("embedding cache read failed", "error", err)
	case ok:
		metrics.EmbedCache.WithLabelValues("hit").Inc()
		return vec, nil
	default:
		metrics.EmbedCache.WithLabelValues("miss").Inc()
	}

	vec, err = c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(model, text, vec); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
	return vec, nil
}
