// Package worker runs queued catalog refresh and index rebuild jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/kalambet/shelfrec/internal/refresh"
	"github.com/kalambet/shelfrec/internal/storage"
)

// Job types.
const (
	TypeCatalogRefresh = "catalog_refresh"
	TypeIndexRebuild   = "index_rebuild"
)

// ErrAlreadyQueued is returned by Enqueue when a job of the same type is
// pending or running.
var ErrAlreadyQueued = errors.New("job already queued")

// busyRetryDelay is how long a job waits when another run holds the driver.
const busyRetryDelay = 30 * time.Second

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	HasActiveJob(typ string) (bool, error)
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id, resultJSON string) error
	FailJob(id string, errMsg string) error
	RequeueJob(id string, delay time.Duration) error
}

// Refresher is the part of refresh.Driver jobs call into.
type Refresher interface {
	Refresh(ctx context.Context) (refresh.Report, error)
	Rebuild(ctx context.Context) (refresh.Report, error)
}

// Payload records who asked for a job.
type Payload struct {
	RequestedBy string `json:"requested_by,omitempty"`
}

// Enqueue adds a job of typ and returns its id.
func Enqueue(store JobStore, typ, requestedBy string) (string, error) {
	if typ != TypeCatalogRefresh && typ != TypeIndexRebuild {
		return "", fmt.Errorf("unknown job type %q", typ)
	}
	active, err := store.HasActiveJob(typ)
	if err != nil {
		return "", fmt.Errorf("checking queue: %w", err)
	}
	if active {
		return "", ErrAlreadyQueued
	}
	payload, err := json.Marshal(Payload{RequestedBy: requestedBy})
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: id, Type: typ, PayloadJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("enqueueing %s: %w", typ, err)
	}
	return id, nil
}

// Worker processes refresh jobs from the SQLite job queue.
type Worker struct {
	store  JobStore
	driver Refresher
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 2s.
func NewWorker(store JobStore, driver Refresher, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		driver: driver,
		poll:   pollInterval,
		logger: logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{TypeCatalogRefresh, TypeIndexRebuild})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	logger := w.logger.With("job_id", job.ID, "type", job.Type)
	logger.Info("job started")

	rep, err := w.processJob(ctx, job)
	switch {
	case errors.Is(err, refresh.ErrInProgress):
		logger.Info("driver busy, requeueing job", "delay", busyRetryDelay)
		if rqErr := w.store.RequeueJob(job.ID, busyRetryDelay); rqErr != nil {
			return true, fmt.Errorf("requeueing job %s: %w", job.ID, rqErr)
		}
		return true, nil
	case err != nil:
		logger.Warn("job failed", "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			logger.Error("failed to mark job as failed", "error", failErr)
		}
		return true, nil
	}

	result, err := json.Marshal(rep)
	if err != nil {
		return true, fmt.Errorf("encoding result for job %s: %w", job.ID, err)
	}
	if err := w.store.CompleteJob(job.ID, string(result)); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	logger.Info("job completed", "index_version", rep.IndexVersion, "entries", rep.Indexed)
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (refresh.Report, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return refresh.Report{}, fmt.Errorf("parsing payload: %w", err)
	}

	switch job.Type {
	case TypeCatalogRefresh:
		return w.driver.Refresh(ctx)
	case TypeIndexRebuild:
		return w.driver.Rebuild(ctx)
	default:
		return refresh.Report{}, fmt.Errorf("unknown job type %q", job.Type)
	}
}
