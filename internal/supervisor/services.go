package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kalambet/shelfrec/internal/worker"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server until its context ends, then shuts
// it down gracefully.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "http-server" }

// Runner is a blocking loop that returns when ctx ends.
type Runner interface {
	Run(ctx context.Context)
}

// WorkerService supervises the job worker loop.
type WorkerService struct {
	worker Runner
}

func NewWorkerService(w Runner) *WorkerService {
	return &WorkerService{worker: w}
}

func (s *WorkerService) Serve(ctx context.Context) error {
	s.worker.Run(ctx)
	return ctx.Err()
}

func (s *WorkerService) String() string { return "job-worker" }

// SchedulerService enqueues a catalog refresh job every interval. The first
// job is queued one interval after start.
type SchedulerService struct {
	jobs     worker.JobStore
	interval time.Duration
	logger   *slog.Logger
}

func NewSchedulerService(jobs worker.JobStore, interval time.Duration, logger *slog.Logger) *SchedulerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerService{jobs: jobs, interval: interval, logger: logger}
}

func (s *SchedulerService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *SchedulerService) tick() {
	id, err := worker.Enqueue(s.jobs, worker.TypeCatalogRefresh, "scheduler")
	switch {
	case errors.Is(err, worker.ErrAlreadyQueued):
		s.logger.Debug("scheduled refresh skipped, one is already queued")
	case err != nil:
		s.logger.Error("scheduling refresh", "error", err)
	default:
		s.logger.Info("scheduled refresh queued", "job_id", id)
	}
}

func (s *SchedulerService) String() string { return "refresh-scheduler" }
