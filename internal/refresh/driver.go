// Package refresh orchestrates catalog ingestion and index rebuilds and
// publishes the result to the serving Holder.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/shelfrec/internal/catalog"
	"github.com/kalambet/shelfrec/internal/index"
	"github.com/kalambet/shelfrec/internal/metrics"
	"github.com/kalambet/shelfrec/internal/storage"
)

// ErrInProgress is returned when a refresh or rebuild is already running.
var ErrInProgress = errors.New("refresh already in progress")

const (
	KindRefresh = "refresh"
	KindRebuild = "rebuild"
)

// CatalogRunner ingests a new catalog.
type CatalogRunner interface {
	Run(ctx context.Context) (catalog.Result, error)
}

// CatalogReader reads the current catalog.
type CatalogReader interface {
	ListCatalog(ctx context.Context) ([]storage.CatalogEntry, error)
	RecordIndexBuild(ctx context.Context, b storage.IndexBuild) error
}

// IndexBuilder embeds a catalog into a snapshot.
type IndexBuilder interface {
	Build(ctx context.Context, entries []storage.CatalogEntry) (*index.Snapshot, error)
}

// IndexStore persists snapshots.
type IndexStore interface {
	Publish(ctx context.Context, snap *index.Snapshot) (string, error)
	LoadCurrent(ctx context.Context) (*index.Snapshot, error)
	Prune(keep int) (int, error)
}

// ModelMismatchError is returned by Restore when the published index was
// built with a model other than the configured one.
type ModelMismatchError struct {
	IndexModel string
	Configured string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf("published index was built with model %q, configured model is %q", e.IndexModel, e.Configured)
}

// Options bounds the driver.
type Options struct {
	// Model is the configured embedding model. When set, Restore refuses an
	// index built with any other model.
	Model string
	// Timeout caps one run; zero means no limit.
	Timeout time.Duration
	// KeepBuilds is how many published index files survive a prune.
	KeepBuilds int
}

// Report is the outcome of one run.
type Report struct {
	Kind         string        `json:"kind"`
	Status       string        `json:"status"` // "success" or "failure"
	Message      string        `json:"message"`
	Log          []string      `json:"log"`
	Ingested     int           `json:"ingested"`
	Indexed      int           `json:"indexed"`
	IndexVersion string        `json:"index_version,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

func (r *Report) logf(format string, args ...any) {
	r.Log = append(r.Log, fmt.Sprintf(format, args...))
}

// Status is a point-in-time view of the driver and served index.
type Status struct {
	InProgress   bool      `json:"in_progress"`
	LastKind     string    `json:"last_kind,omitempty"`
	LastStatus   string    `json:"last_status,omitempty"`
	LastRunAt    time.Time `json:"last_run_at,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
	IndexVersion string    `json:"index_version,omitempty"`
	IndexModel   string    `json:"index_model,omitempty"`
	IndexEntries int       `json:"index_entries"`
	IndexBuiltAt time.Time `json:"index_built_at,omitzero"`
}

// Driver runs at most one refresh or rebuild at a time.
type Driver struct {
	ingest  CatalogRunner
	catalog CatalogReader
	builder IndexBuilder
	store   IndexStore
	holder  *index.Holder
	opts    Options
	logger  *slog.Logger

	running sync.Mutex

	mu      sync.RWMutex
	last    Report
	lastAt  time.Time
	lastErr string
}

// NewDriver wires a Driver.
func NewDriver(ingest CatalogRunner, cat CatalogReader, builder IndexBuilder, store IndexStore, holder *index.Holder, opts Options, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KeepBuilds <= 0 {
		opts.KeepBuilds = 3
	}
	return &Driver{
		ingest:  ingest,
		catalog: cat,
		builder: builder,
		store:   store,
		holder:  holder,
		opts:    opts,
		logger:  logger,
	}
}

// Restore serves the last published index. A missing index is not an error;
// recommendations stay empty until the first refresh. An index built with a
// different model is not served and yields a *ModelMismatchError.
func (d *Driver) Restore(ctx context.Context) error {
	snap, err := d.store.LoadCurrent(ctx)
	if errors.Is(err, index.ErrNoIndex) {
		d.logger.Warn("no published index yet, run a refresh to build one")
		return nil
	}
	if err != nil {
		d.logger.Error("loading published index failed, recommendations disabled", "error", err)
		return fmt.Errorf("restoring index: %w", err)
	}
	if d.opts.Model != "" && snap.Model != d.opts.Model {
		d.logger.Error("published index was built with another model, run a refresh to rebuild it",
			"index_model", snap.Model, "configured_model", d.opts.Model, "version", snap.Version)
		return &ModelMismatchError{IndexModel: snap.Model, Configured: d.opts.Model}
	}
	d.holder.Swap(snap)
	metrics.IndexEntries.Set(float64(snap.Len()))
	d.logger.Info("index restored", "version", snap.Version, "entries", snap.Len(), "model", snap.Model)
	return nil
}

// Refresh ingests a fresh catalog, rebuilds the index from it and swaps the
// new index in. If ingestion fails the previous catalog and index stay.
func (d *Driver) Refresh(ctx context.Context) (Report, error) {
	return d.run(ctx, KindRefresh, func(ctx context.Context, rep *Report) error {
		res, err := d.ingest.Run(ctx)
		rep.Log = append(rep.Log, res.Log...)
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}
		rep.Ingested = res.Saved
		rep.logf("ingested %d books (%d duplicates, %d genres visited, %d failed, %d skipped on open circuit)",
			res.Saved, res.Duplicates, res.GenresVisited, res.GenresFailed, res.GenresSkipped)
		return d.rebuild(ctx, rep)
	})
}

// Rebuild re-embeds the current catalog without ingesting.
func (d *Driver) Rebuild(ctx context.Context) (Report, error) {
	return d.run(ctx, KindRebuild, d.rebuild)
}

func (d *Driver) run(ctx context.Context, kind string, fn func(context.Context, *Report) error) (Report, error) {
	if !d.running.TryLock() {
		return Report{Kind: kind, Status: "failure", Message: ErrInProgress.Error()}, ErrInProgress
	}
	defer d.running.Unlock()

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	rep := Report{Kind: kind}
	d.logger.Info("refresh started", "kind", kind)

	err := fn(ctx, &rep)
	rep.Duration = time.Since(start)
	metrics.RecordRefresh(kind, err, rep.Duration)

	if err != nil {
		rep.Status = "failure"
		rep.Message = err.Error()
		rep.logf("aborted: %v; previous index kept", err)
		d.logger.Error("refresh failed, previous index kept", "kind", kind, "error", err, "duration", rep.Duration.Round(time.Millisecond))
	} else {
		rep.Status = "success"
		rep.Message = fmt.Sprintf("index %s serving %d books", rep.IndexVersion, rep.Indexed)
		d.logger.Info("refresh finished", "kind", kind, "version", rep.IndexVersion, "entries", rep.Indexed, "duration", rep.Duration.Round(time.Millisecond))
	}

	d.mu.Lock()
	d.last = rep
	d.lastAt = start
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	return rep, err
}

func (d *Driver) rebuild(ctx context.Context, rep *Report) error {
	entries, err := d.catalog.ListCatalog(ctx)
	if err != nil {
		return fmt.Errorf("reading catalog: %w", err)
	}
	rep.logf("building index from %d catalog entries", len(entries))

	snap, err := d.builder.Build(ctx, entries)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	path, err := d.store.Publish(ctx, snap)
	if err != nil {
		return fmt.Errorf("publishing index: %w", err)
	}

	prev := d.holder.Swap(snap)
	metrics.IndexEntries.Set(float64(snap.Len()))
	rep.Indexed = snap.Len()
	rep.IndexVersion = snap.Version
	if prev != nil {
		rep.logf("index %s replaced %s", snap.Version, prev.Version)
	} else {
		rep.logf("index %s published", snap.Version)
	}

	err = d.catalog.RecordIndexBuild(ctx, storage.IndexBuild{
		Version:    snap.Version,
		Path:       path,
		Entries:    snap.Len(),
		Model:      snap.Model,
		Dimensions: snap.Dimensions,
		CreatedAt:  snap.BuiltAt,
	})
	if err != nil {
		d.logger.Warn("recording index build", "version", snap.Version, "error", err)
	}
	if n, err := d.store.Prune(d.opts.KeepBuilds); err != nil {
		d.logger.Warn("pruning old indexes", "error", err)
	} else if n > 0 {
		rep.logf("pruned %d old index file(s)", n)
	}
	return nil
}

// Status reports the last run and the served index.
func (d *Driver) Status() Status {
	st := Status{}
	if d.running.TryLock() {
		d.running.Unlock()
	} else {
		st.InProgress = true
	}

	d.mu.RLock()
	st.LastKind = d.last.Kind
	st.LastStatus = d.last.Status
	st.LastRunAt = d.lastAt
	st.LastError = d.lastErr
	d.mu.RUnlock()

	if snap := d.holder.Load(); snap != nil {
		st.IndexVersion = snap.Version
		st.IndexModel = snap.Model
		st.IndexEntries = snap.Len()
		st.IndexBuiltAt = snap.BuiltAt
	}
	return st
}
