package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cwygoda/scouter/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL DEFAULT 'anonymous',
    url              TEXT NOT NULL,
    domain           TEXT NOT NULL,
    brand_color      TEXT NOT NULL,
    devices          TEXT NOT NULL DEFAULT '[]',
    pages            TEXT NOT NULL DEFAULT '[]',
    text_content     TEXT NOT NULL DEFAULT '',
    content_markdown TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL,
    stage            TEXT NOT NULL DEFAULT 'captured',
    assets           TEXT NOT NULL DEFAULT '[]',
    marketing_copy   TEXT,
    error            TEXT,
    created_at       DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);

CREATE TABLE IF NOT EXISTS progress_events (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id    TEXT NOT NULL,
    step      TEXT NOT NULL,
    detail    TEXT NOT NULL,
    progress  INTEGER NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_progress_job ON progress_events(job_id, id);
`

const jobColumns = `id, user_id, url, domain, brand_color, devices, pages, text_content,
	content_markdown, status, stage, assets, COALESCE(marketing_copy, ''), COALESCE(error, ''),
	created_at, updated_at`

// Repository implements domain.JobRepository using SQLite.
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; sqlite serializes them anyway.
	db.SetMaxOpenConns(1)

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Events returns the progress event log sharing this database.
func (r *Repository) Events() *EventLog {
	return &EventLog{db: r.db}
}

// Save inserts a new job record. A record is never replaced; an existing id
// yields domain.ErrJobExists.
func (r *Repository) Save(ctx context.Context, job *domain.Job) error {
	devices, err := json.Marshal(nonNil(job.Devices))
	if err != nil {
		return err
	}
	pages, err := json.Marshal(nonNil(job.Pages))
	if err != nil {
		return err
	}
	assets, err := json.Marshal(nonNil(job.Assets))
	if err != nil {
		return err
	}
	var copyJSON any
	if job.Copy != nil {
		b, err := json.Marshal(job.Copy)
		if err != nil {
			return err
		}
		copyJSON = string(b)
	}

	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	stage := job.Stage
	if stage == "" {
		stage = domain.StageCaptured
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, url, domain, brand_color, devices, pages, text_content,
			content_markdown, status, stage, assets, marketing_copy, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		job.ID, job.UserID, job.URL, job.Domain, job.BrandColor, string(devices), string(pages),
		job.TextContent, job.ContentMarkdown, job.Status, stage, string(assets), copyJSON,
		nullIfEmpty(job.Error), created.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}
	return nil
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// AdvanceStage atomically moves a job from one stage to another.
func (r *Repository) AdvanceStage(ctx context.Context, id string, from, to domain.Stage) error {
	if !domain.CanAdvance(from, to) {
		return fmt.Errorf("%w: %q -> %q", domain.ErrStageConflict, from, to)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET stage = ?, updated_at = ? WHERE id = ? AND stage = ?`,
		to, time.Now().UTC(), id, from,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = r.db.QueryRowContext(ctx, `SELECT stage FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, not %s", domain.ErrStageConflict, id, current, from)
}

// SaveAssets records the job's enhanced assets.
func (r *Repository) SaveAssets(ctx context.Context, id string, assets []domain.EnhancedAsset) error {
	b, err := json.Marshal(nonNil(assets))
	if err != nil {
		return err
	}
	return r.updateOne(ctx, `UPDATE jobs SET assets = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().UTC(), id)
}

// SaveCopy records the job's generated copy.
func (r *Repository) SaveCopy(ctx context.Context, id string, copy domain.CopyResult) error {
	b, err := json.Marshal(copy)
	if err != nil {
		return err
	}
	return r.updateOne(ctx, `UPDATE jobs SET marketing_copy = ?, updated_at = ? WHERE id = ?`,
		string(b), time.Now().UTC(), id)
}

// RecoverStale returns jobs left in the enhancing stage to captured (for crash recovery).
func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET stage = ?, error = 'recovered after crash', updated_at = ?
		 WHERE stage = ?`,
		domain.StageCaptured, time.Now().UTC(), domain.StageEnhancing,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListExpired returns ids of jobs created before the cutoff, oldest first.
func (r *Repository) ListExpired(ctx context.Context, before time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE created_at < ? ORDER BY created_at ASC LIMIT ?`,
		before.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes a job record and its progress log.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM progress_events WHERE job_id = ?`, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (r *Repository) updateOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job                           domain.Job
		devices, pages, assets, copyJ string
		status, stage                 string
	)
	err := row.Scan(&job.ID, &job.UserID, &job.URL, &job.Domain, &job.BrandColor, &devices, &pages,
		&job.TextContent, &job.ContentMarkdown, &status, &stage, &assets, &copyJ, &job.Error,
		&job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Stage = domain.Stage(stage)

	if err := json.Unmarshal([]byte(devices), &job.Devices); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	if err := json.Unmarshal([]byte(pages), &job.Pages); err != nil {
		return nil, fmt.Errorf("decode pages: %w", err)
	}
	if err := json.Unmarshal([]byte(assets), &job.Assets); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}
	if copyJ != "" {
		var c domain.CopyResult
		if err := json.Unmarshal([]byte(copyJ), &c); err != nil {
			return nil, fmt.Errorf("decode copy: %w", err)
		}
		job.Copy = &c
	}
	return &job, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
