// Package catalog pulls the book catalog from the upstream book graph, one
// genre bucket at a time, and replaces the local catalog with the result.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/shelfrec/internal/hardcover"
	"github.com/kalambet/shelfrec/internal/metrics"
	"github.com/kalambet/shelfrec/internal/storage"
)

// ErrNoResults is returned when a run saved nothing. The previous catalog is
// left in place.
var ErrNoResults = errors.New("ingestion produced no books")

// Fetcher reads one page of upstream books.
type Fetcher interface {
	FetchBooks(ctx context.Context, p hardcover.Page) ([]hardcover.RawBook, error)
}

// Sink receives a run's entries. Nothing is visible to readers until
// SwapCatalog commits.
type Sink interface {
	BeginStaging(ctx context.Context) error
	StageEntries(ctx context.Context, entries []storage.CatalogEntry) error
	SwapCatalog(ctx context.Context) (int, error)
	DiscardStaging(ctx context.Context) error
}

// Options bounds a run.
type Options struct {
	Genres      []string
	PageSize    int
	MaxPages    int
	TargetTotal int
	BatchDelay  time.Duration
	GenreDelay  time.Duration
	// CircuitWait is how long to wait for an open upstream circuit before
	// retrying the page once.
	CircuitWait time.Duration
}

// DefaultOptions mirrors the upstream's polite crawl settings.
func DefaultOptions() Options {
	return Options{
		Genres:      Genres,
		PageSize:    500,
		MaxPages:    100,
		TargetTotal: 30000,
		BatchDelay:  500 * time.Millisecond,
		GenreDelay:  time.Second,
		CircuitWait: hardcover.BreakerTimeout,
	}
}

// Result summarizes a run.
type Result struct {
	Fetched       int      `json:"fetched"`
	Saved         int      `json:"saved"`
	Duplicates    int      `json:"duplicates"`
	GenresVisited int      `json:"genres_visited"`
	GenresFailed  int      `json:"genres_failed"`
	// GenresSkipped counts buckets cut short because the upstream circuit
	// stayed open. They are also counted in GenresFailed.
	GenresSkipped int      `json:"genres_skipped"`
	Log           []string `json:"log"`
}

func (r *Result) logf(format string, args ...any) {
	r.Log = append(r.Log, fmt.Sprintf(format, args...))
}

// Builder runs ingestion.
type Builder struct {
	fetcher Fetcher
	sink    Sink
	opts    Options
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewBuilder creates a Builder. Zero-valued options fall back to
// DefaultOptions.
func NewBuilder(f Fetcher, sink Sink, opts Options, logger *slog.Logger) *Builder {
	def := DefaultOptions()
	if len(opts.Genres) == 0 {
		opts.Genres = def.Genres
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.TargetTotal <= 0 {
		opts.TargetTotal = def.TargetTotal
	}
	if opts.CircuitWait <= 0 {
		opts.CircuitWait = def.CircuitWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{fetcher: f, sink: sink, opts: opts, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run walks every genre bucket, stages unseen books and swaps the staged set
// in as the new catalog. On cancellation or ErrNoResults the previous catalog
// is untouched.
func (b *Builder) Run(ctx context.Context) (Result, error) {
	var res Result
	if err := b.sink.BeginStaging(ctx); err != nil {
		return res, fmt.Errorf("starting ingestion: %w", err)
	}

	abort := func(err error) (Result, error) {
		// ctx may already be done; staging still has to be cleared.
		if derr := b.sink.DiscardStaging(context.WithoutCancel(ctx)); derr != nil {
			b.logger.Warn("discarding catalog staging", "error", derr)
		}
		return res, err
	}

	res.logf("starting ingestion, target %d books", b.opts.TargetTotal)
	seen := make(map[string]struct{})

	for gi, genre := range b.opts.Genres {
		if res.Saved >= b.opts.TargetTotal {
			res.logf("target reached, stopping")
			break
		}
		if gi > 0 {
			if err := b.sleep(ctx, b.opts.GenreDelay); err != nil {
				return abort(err)
			}
		}

		slug := Slugify(genre)
		res.GenresVisited++
		b.logger.Debug("fetching genre", "genre", genre, "slug", slug, "total", res.Saved)

		for page := 0; page < b.opts.MaxPages; page++ {
			if res.Saved >= b.opts.TargetTotal {
				break
			}
			if page > 0 {
				if err := b.sleep(ctx, b.opts.BatchDelay); err != nil {
					return abort(err)
				}
			}

			req := hardcover.Page{
				Limit:     b.opts.PageSize,
				Offset:    page * b.opts.PageSize,
				GenreSlug: slug,
			}
			books, err := b.fetcher.FetchBooks(ctx, req)
			if errors.Is(err, hardcover.ErrCircuitOpen) {
				res.logf("upstream circuit open at [%s-%d], waiting %s", slug, page, b.opts.CircuitWait)
				b.logger.Warn("upstream circuit open, waiting", "genre", genre, "page", page, "wait", b.opts.CircuitWait)
				if serr := b.sleep(ctx, b.opts.CircuitWait); serr != nil {
					return abort(serr)
				}
				books, err = b.fetcher.FetchBooks(ctx, req)
			}
			if err != nil {
				if ctx.Err() != nil {
					return abort(ctx.Err())
				}
				metrics.CatalogFetchErrors.Inc()
				res.GenresFailed++
				if errors.Is(err, hardcover.ErrCircuitOpen) {
					res.GenresSkipped++
					res.logf("genre %q skipped: upstream circuit still open", genre)
				}
				res.logf("fetch error [%s-%d]: %v", slug, page, err)
				b.logger.Warn("catalog fetch failed", "genre", genre, "page", page, "error", err)
				break
			}
			if len(books) == 0 {
				res.logf("end of genre %q", genre)
				break
			}

			res.Fetched += len(books)
			fresh := make([]storage.CatalogEntry, 0, len(books))
			for _, raw := range books {
				e := Normalize(raw)
				if e.ID == "" {
					continue
				}
				if _, dup := seen[e.ID]; dup {
					res.Duplicates++
					continue
				}
				seen[e.ID] = struct{}{}
				fresh = append(fresh, e)
			}
			if err := b.sink.StageEntries(ctx, fresh); err != nil {
				if ctx.Err() != nil {
					return abort(ctx.Err())
				}
				return abort(fmt.Errorf("staging %s page %d: %w", slug, page, err))
			}
			res.Saved += len(fresh)
			metrics.CatalogBooksIngested.Add(float64(len(fresh)))
			res.logf("batch %d of %q: added %d books (total %d)", page+1, genre, len(fresh), res.Saved)

			if len(books) < b.opts.PageSize {
				break
			}
		}
	}

	if res.Saved == 0 {
		res.logf("no books saved, keeping previous catalog")
		return abort(ErrNoResults)
	}

	n, err := b.sink.SwapCatalog(ctx)
	if err != nil {
		return abort(fmt.Errorf("swapping catalog: %w", err))
	}
	res.logf("catalog replaced with %d books", n)
	b.logger.Info("catalog ingestion finished",
		"saved", res.Saved,
		"fetched", res.Fetched,
		"duplicates", res.Duplicates,
		"genres_visited", res.GenresVisited,
		"genres_failed", res.GenresFailed,
		"genres_skipped", res.GenresSkipped,
	)
	return res, nil
}
