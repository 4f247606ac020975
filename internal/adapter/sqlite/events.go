package sqlite

import (
	"context"
	"database/sql"

	"github.com/cwygoda/scouter/internal/domain"
)

// EventLog implements progress.EventLog on the progress_events table.
type EventLog struct {
	db *sql.DB
}

// Append adds an event to the end of the job's log.
func (l *EventLog) Append(ctx context.Context, jobID string, ev domain.ProgressEvent) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO progress_events (job_id, step, detail, progress, timestamp) VALUES (?, ?, ?, ?, ?)`,
		jobID, ev.Step, ev.Detail, ev.Progress, ev.Timestamp,
	)
	return err
}

// Since returns the job's events after skipping the first offset.
func (l *EventLog) Since(ctx context.Context, jobID string, offset int) ([]domain.ProgressEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT step, detail, progress, timestamp FROM progress_events
		 WHERE job_id = ? ORDER BY id ASC LIMIT -1 OFFSET ?`,
		jobID, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var ev domain.ProgressEvent
		var step string
		if err := rows.Scan(&step, &ev.Detail, &ev.Progress, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Step = domain.Step(step)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Clear deletes the job's log.
func (l *EventLog) Clear(ctx context.Context, jobID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM progress_events WHERE job_id = ?`, jobID)
	return err
}
