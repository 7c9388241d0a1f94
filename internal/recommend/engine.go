// Package recommend ranks catalog books for a reader's profile against the
// served feature index.
package recommend

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/shelfrec/internal/embedding"
	"github.com/kalambet/shelfrec/internal/engine"
	"github.com/kalambet/shelfrec/internal/index"
	"github.com/kalambet/shelfrec/internal/metrics"
	"github.com/kalambet/shelfrec/internal/profile"
)

// Signal is the kind of profile field a query came from.
type Signal string

const (
	SignalBook   Signal = "book"
	SignalAuthor Signal = "author"
	SignalGenre  Signal = "genre"
	SignalSearch Signal = "search"
)

// Recommendation is one ranked book.
type Recommendation struct {
	CatalogID string   `json:"id"`
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Genres    []string `json:"genres"`
	CoverURL  string   `json:"image"`
	Score     float64  `json:"score"`
	Reason    string   `json:"reason"`
}

// Result is a ranked list, best first. It is never nil.
type Result []Recommendation

// Options tunes scoring. Zero weights switch a signal off.
type Options struct {
	BookWeight   float64
	AuthorWeight float64
	GenreWeight  float64
	SearchWeight float64
	// MaxPerAuthor caps results by the same author; 0 means no cap.
	MaxPerAuthor int
	// MinScore drops results scoring below it.
	MinScore float64
}

// DefaultOptions weighs every signal equally.
func DefaultOptions() Options {
	return Options{BookWeight: 1, AuthorWeight: 1, GenreWeight: 1, SearchWeight: 1}
}

func (o Options) weight(s Signal) float64 {
	switch s {
	case SignalBook:
		return o.BookWeight
	case SignalAuthor:
		return o.AuthorWeight
	case SignalGenre:
		return o.GenreWeight
	case SignalSearch:
		return o.SearchWeight
	}
	return 0
}

type query struct {
	signal Signal
	term   string
	weight float64
	vector []float32
}

// Engine scores the snapshot currently published in its Holder. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	holder   *index.Holder
	embedder embedding.TextEmbedder
	opts     Options
	logger   *slog.Logger
}

// New creates an Engine. Free-text profile terms are embedded with e. The
// served index must have been built with e.Model(); otherwise Recommend
// returns nothing.
func New(holder *index.Holder, e embedding.TextEmbedder, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{holder: holder, embedder: e, opts: opts, logger: logger}
}

// Recommend returns up to topK books for p. It never fails: any problem
// yields an empty Result and a log line.
func (e *Engine) Recommend(ctx context.Context, p profile.Profile, topK int) (res Result) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recommendation panicked", "user", p.UserID, "panic", fmt.Sprint(r))
			res, outcome = Result{}, "error"
		}
		metrics.RecordRecommend(outcome, len(res), time.Since(start))
	}()

	if topK <= 0 {
		return Result{}
	}

	snap := e.holder.Load()
	if snap.Len() == 0 {
		e.logger.Error("feature index missing or empty, recommendations disabled")
		outcome = "no_index"
		return Result{}
	}

	if snap.Model != e.embedder.Model() {
		e.logger.Error("feature index was built with another model, recommendations disabled until a refresh",
			"index_model", snap.Model, "query_model", e.embedder.Model(), "index_version", snap.Version)
		outcome = "model_mismatch"
		return Result{}
	}
	if p.IsEmpty() {
		outcome = "empty_profile"
		return Result{}
	}

	queries := e.buildQueries(ctx, snap, p)
	if len(queries) == 0 {
		outcome = "empty_profile"
		return Result{}
	}

	return e.rank(snap, queries, p.LikedBooks, topK)
}

func (e *Engine) buildQueries(ctx context.Context, snap *index.Snapshot, p profile.Profile) []query {
	var queries []query

	for _, id := range distinct(p.LikedBooks) {
		w := e.opts.weight(SignalBook)
		if w <= 0 {
			break
		}
		entry, ok := snap.Lookup(id)
		if !ok {
			e.logger.Debug("liked book not in index, skipping", "user", p.UserID, "id", id)
			continue
		}
		queries = append(queries, query{signal: SignalBook, term: id, weight: w, vector: entry.Vector})
	}

	textSignals := []struct {
		signal Signal
		terms  []string
	}{
		{SignalAuthor, p.LikedAuthors},
		{SignalGenre, p.LikedGenres},
		{SignalSearch, p.Searches},
	}
	for _, ts := range textSignals {
		w := e.opts.weight(ts.signal)
		if w <= 0 {
			continue
		}
		for _, term := range distinct(ts.terms) {
			vec, err := e.embedder.Embed(ctx, term)
			if err != nil {
				e.logger.Warn("embedding profile term failed, skipping", "signal", ts.signal, "term", term, "error", err)
				continue
			}
			if len(vec) != snap.Dimensions {
				e.logger.Warn("profile term vector does not match index",
					"signal", ts.signal, "dimensions", len(vec), "index_dimensions", snap.Dimensions)
				continue
			}
			queries = append(queries, query{signal: ts.signal, term: term, weight: w, vector: vec})
		}
	}
	return queries
}

type scored struct {
	entry  *index.Entry
	score  float64
	winner int
}

func (e *Engine) rank(snap *index.Snapshot, queries []query, liked []string, topK int) Result {
	exclude := make(map[string]struct{}, len(liked))
	for _, id := range liked {
		exclude[strings.TrimSpace(id)] = struct{}{}
	}

	entries := snap.Entries()
	candidates := make([]scored, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		if _, skip := exclude[entry.CatalogID]; skip {
			continue
		}
		best, winner := 0.0, -1
		for qi, q := range queries {
			s := q.weight * engine.Similarity(q.vector, entry.Vector)
			if winner < 0 || s > best {
				best, winner = s, qi
			}
		}
		if e.opts.MinScore != 0 && best < e.opts.MinScore {
			continue
		}
		candidates = append(candidates, scored{entry: entry, score: best, winner: winner})
	}

	slices.SortFunc(candidates, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.entry.CatalogID, b.entry.CatalogID)
	})

	out := make(Result, 0, min(topK, len(candidates)))
	perAuthor := make(map[string]int)
	for _, c := range candidates {
		if len(out) == topK {
			break
		}
		if e.opts.MaxPerAuthor > 0 {
			key := strings.ToLower(c.entry.Author)
			if perAuthor[key] >= e.opts.MaxPerAuthor {
				continue
			}
			perAuthor[key]++
		}
		out = append(out, Recommendation{
			CatalogID: c.entry.CatalogID,
			Title:     c.entry.Title,
			Author:    c.entry.Author,
			Genres:    c.entry.Genres,
			CoverURL:  c.entry.CoverURL,
			Score:     c.score,
			Reason:    reason(queries[c.winner]),
		})
	}
	return out
}

func reason(q query) string {
	switch q.signal {
	case SignalAuthor:
		return "From author " + q.term
	case SignalGenre:
		return "Matches your genres"
	case SignalSearch:
		return fmt.Sprintf("Related to search '%s'", q.term)
	default:
		return "Similar to books you liked"
	}
}

func distinct(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
