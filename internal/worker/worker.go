// Package worker runs background maintenance for recorded jobs.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired jobs. *domain.JobService implements it.
type Purger interface {
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// Worker periodically purges jobs older than the retention window.
type Worker struct {
	purger    Purger
	maxAge    time.Duration
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a new worker.
func New(purger Purger, maxAge, interval time.Duration, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{
		purger:    purger,
		maxAge:    maxAge,
		interval:  interval,
		batchSize: batchSize,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger replaces the worker logger.
func (w *Worker) WithLogger(l *slog.Logger) *Worker {
	w.logger = l
	return w
}

// Run starts the worker loop until context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("retention worker started", "max_age", w.maxAge, "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention worker shutting down")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep purges batches until one comes back short.
func (w *Worker) sweep(ctx context.Context) int {
	cutoff := w.now().Add(-w.maxAge)
	total := 0
	for ctx.Err() == nil {
		n, err := w.purger.PurgeExpired(ctx, cutoff, w.batchSize)
		if err != nil {
			w.logger.Warn("purge failed", "error", err)
			break
		}
		total += n
		if n < w.batchSize {
			break
		}
	}
	if total > 0 {
		w.logger.Info("purged expired jobs", "count", total, "before", cutoff)
	}
	return total
}
