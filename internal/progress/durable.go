package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwygoda/scouter/internal/domain"
)

// EventLog is an append-only per-job event store shared between processes.
type EventLog interface {
	Append(ctx context.Context, jobID string, ev domain.ProgressEvent) error
	// Since returns the job's events after the first offset ones.
	Since(ctx context.Context, jobID string, offset int) ([]domain.ProgressEvent, error)
	Clear(ctx context.Context, jobID string) error
}

const writeTimeout = 5 * time.Second

// Durable is a ProgressBus backed by an EventLog. Subscribers poll the log
// and keep a high-water mark of events already delivered.
type Durable struct {
	log          EventLog
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewDurable creates a bus polling log every pollInterval.
func NewDurable(log EventLog, pollInterval time.Duration) *Durable {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Durable{log: log, pollInterval: pollInterval, logger: slog.Default()}
}

// WithLogger replaces the bus logger.
func (d *Durable) WithLogger(l *slog.Logger) *Durable {
	d.logger = l
	return d
}

// Publish appends ev to the log. Write failures are logged and dropped.
func (d *Durable) Publish(jobID string, ev domain.ProgressEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.log.Append(ctx, jobID, ev); err != nil {
		d.logger.Warn("progress append failed", "job", jobID, "step", ev.Step, "error", err)
	}
}

// Subscribe streams the job's log from the beginning, then new events as
// they are appended.
func (d *Durable) Subscribe(ctx context.Context, jobID string) (<-chan domain.ProgressEvent, func()) {
	sub := newSubscriber()
	go sub.pump(ctx)
	go d.watch(ctx, jobID, sub)
	return sub.out, sub.stop
}

func (d *Durable) watch(ctx context.Context, jobID string, sub *subscriber) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	delivered := 0
	for {
		events, err := d.log.Since(ctx, jobID, delivered)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("progress poll failed", "job", jobID, "error", err)
		}
		sub.push(events...)
		delivered += len(events)

		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-ticker.C:
		}
	}
}

// Clear deletes the job's log.
func (d *Durable) Clear(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.log.Clear(ctx, jobID); err != nil {
		d.logger.Warn("progress clear failed", "job", jobID, "error", err)
	}
}
