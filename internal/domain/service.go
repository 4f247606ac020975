package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingURL    = errors.New("URL is required")
	ErrInvalidURL    = errors.New("invalid URL")
	ErrInvalidJobID  = errors.New("invalid job id")
	ErrNoDevices     = errors.New("no supported devices")
	ErrMissingJobID  = errors.New("job id is required")
	ErrJobNotFound   = errors.New("job not found")
	ErrNoAssets      = errors.New("no assets found to bundle")
	ErrStageConflict = errors.New("stage conflict")
	ErrJobExists     = errors.New("job already exists")
)

const (
	DefaultBrandColor = "#2D4A22"
	DefaultUserID     = "anonymous"
)

var validJobID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidJobID reports whether id is safe to use as a storage namespace.
func ValidJobID(id string) bool {
	return validJobID.MatchString(id)
}

var knownViewports = map[string]bool{
	ViewportDesktop: true,
	ViewportTablet:  true,
	ViewportMobile:  true,
}

// Pipeline groups the stage implementations a JobService drives.
type Pipeline struct {
	Capture    CaptureEngine
	Compositor Compositor
	Copy       CopyGenerator
	Bundler    Bundler
	Assets     AssetStore
}

// JobService orchestrates the capture, enhance, copy and bundle stages.
type JobService struct {
	repo JobRepository
	bus  ProgressBus
	pipe Pipeline
	log  *slog.Logger

	mu        sync.Mutex
	capturing map[string]bool
}

// NewJobService creates a new JobService.
func NewJobService(repo JobRepository, bus ProgressBus, pipe Pipeline) *JobService {
	return &JobService{
		repo:      repo,
		bus:       bus,
		pipe:      pipe,
		log:       slog.Default(),
		capturing: make(map[string]bool),
	}
}

// WithLogger replaces the service logger.
func (s *JobService) WithLogger(l *slog.Logger) *JobService {
	s.log = l
	return s
}

// NewJobID returns a fresh opaque job id.
func (s *JobService) NewJobID() string {
	return "scout-" + uuid.NewString()
}

// CaptureRequest is an unvalidated capture request.
type CaptureRequest struct {
	JobID           string
	URL             string
	BrandColor      string
	Devices         []string
	AutoDetectColor bool
	UserID          string
}

// CaptureResult is a completed capture and the outcome of recording it.
type CaptureResult struct {
	Job    *Job
	Record WriteOutcome
}

// Capture runs the capture stage synchronously. A failure here means the
// home page could not be captured; no record is written. A job id that is
// recorded or being captured is rejected with ErrJobExists.
func (s *JobService) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	job, params, err := s.newCaptureJob(req)
	if err != nil {
		return nil, err
	}
	if !s.claim(job.ID) {
		return nil, fmt.Errorf("%w: %s is being captured", ErrJobExists, job.ID)
	}
	defer s.release(job.ID)

	switch _, err := s.repo.Get(ctx, job.ID); {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	case !errors.Is(err, ErrJobNotFound):
		s.log.Warn("job lookup failed", "job", job.ID, "error", err)
	}

	emit := s.emitter(job.ID)
	emit(StepInit, "Preparing scout...", 5)

	out, err := s.pipe.Capture.Capture(ctx, params, emit)
	if err != nil {
		job.Status = StatusError
		emit(StepError, err.Error(), ProgressFailed)
		s.log.Error("capture failed", "job", job.ID, "url", job.URL, "error", err)
		return nil, err
	}

	job.Pages = out.Pages
	job.TextContent = out.TextContent
	job.ContentMarkdown = out.ContentMarkdown
	if out.BrandColor != "" {
		job.BrandColor = out.BrandColor
	}

	emit(StepSaving, "Saving scout results...", 68)
	job.Status = StatusComplete
	job.Stage = StageCaptured
	job.UpdatedAt = time.Now()

	record := persisted(s.repo.Save(ctx, job))
	if record.Err != nil {
		s.log.Warn("job record not saved", "job", job.ID, "error", record.Err)
	}

	emit(StepComplete, "Scout complete! Enhancing assets...", 70)
	return &CaptureResult{Job: job, Record: record}, nil
}

func (s *JobService) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing[id] {
		return false
	}
	s.capturing[id] = true
	return true
}

func (s *JobService) release(id string) {
	s.mu.Lock()
	delete(s.capturing, id)
	s.mu.Unlock()
}

func (s *JobService) newCaptureJob(req CaptureRequest) (*Job, CaptureParams, error) {
	if strings.TrimSpace(req.URL) == "" {
		return nil, CaptureParams{}, ErrMissingURL
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return nil, CaptureParams{}, ErrInvalidURL
	}

	id := req.JobID
	if id == "" {
		id = s.NewJobID()
	} else if !ValidJobID(id) {
		return nil, CaptureParams{}, ErrInvalidJobID
	}

	devices, err := normalizeDevices(req.Devices)
	if err != nil {
		return nil, CaptureParams{}, err
	}

	color := req.BrandColor
	if color == "" {
		color = DefaultBrandColor
	}
	user := req.UserID
	if user == "" {
		user = DefaultUserID
	}

	now := time.Now()
	job := &Job{
		ID:         id,
		UserID:     user,
		URL:        req.URL,
		Domain:     u.Hostname(),
		BrandColor: color,
		Devices:    devices,
		Status:     StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	params := CaptureParams{
		JobID:           id,
		URL:             req.URL,
		BrandColor:      color,
		AutoDetectColor: req.AutoDetectColor,
		Devices:         devices,
	}
	return job, params, nil
}

func normalizeDevices(devices []string) ([]string, error) {
	if len(devices) == 0 {
		return []string{ViewportDesktop}, nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, d := range devices {
		d = strings.ToLower(strings.TrimSpace(d))
		if !knownViewports[d] || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, ErrNoDevices
	}
	return out, nil
}

// EnhanceRequest names the job to enhance. Pages are only used when the job
// has no stored record.
type EnhanceRequest struct {
	JobID      string
	BrandColor string
	Pages      []PageCapture
}

// EnhanceResult is the compositor output for a job.
type EnhanceResult struct {
	JobID    string
	Assets   []EnhancedAsset
	Success  bool
	Replayed bool
	Record   WriteOutcome
}

// Enhance advances a job through the enhancing stage. Recorded jobs that
// already passed it return their stored assets without re-running.
func (s *JobService) Enhance(ctx context.Context, req EnhanceRequest) (*EnhanceResult, error) {
	if req.JobID == "" {
		return nil, ErrMissingJobID
	}

	job, err := s.repo.Get(ctx, req.JobID)
	if errors.Is(err, ErrJobNotFound) {
		out := s.pipe.Compositor.Enhance(ctx, EnhanceParams{
			JobID:      req.JobID,
			BrandColor: brandOr(req.BrandColor, DefaultBrandColor),
			Pages:      req.Pages,
		}, s.emitter(req.JobID))
		return &EnhanceResult{JobID: req.JobID, Assets: out.Assets, Success: out.Success}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", req.JobID, err)
	}

	if job.Stage.Reached(StageEnhanced) {
		return &EnhanceResult{
			JobID:    job.ID,
			Assets:   job.Assets,
			Success:  true,
			Replayed: true,
			Record:   WriteOutcome{Persisted: true},
		}, nil
	}

	if _, err := AdvanceStage(job, StageEnhancing); err != nil {
		return nil, err
	}
	if err := s.repo.AdvanceStage(ctx, job.ID, StageCaptured, StageEnhancing); err != nil {
		return nil, err
	}

	pages := job.Pages
	if len(pages) == 0 {
		pages = req.Pages
	}
	out := s.pipe.Compositor.Enhance(ctx, EnhanceParams{
		JobID:      job.ID,
		BrandColor: brandOr(req.BrandColor, job.BrandColor),
		Pages:      pages,
	}, s.emitter(job.ID))

	result := &EnhanceResult{JobID: job.ID, Assets: out.Assets, Success: out.Success}

	// Persist even if the caller has gone away.
	pctx := context.WithoutCancel(ctx)
	if err := ctx.Err(); err != nil {
		// The compositor stopped early; a partial asset set is never recorded.
		s.rollback(pctx, job.ID)
		s.emitter(job.ID)(StepError, "Enhancement interrupted", ProgressFailed)
		return nil, fmt.Errorf("enhance %s: %w", job.ID, err)
	}
	if !out.Success {
		s.rollback(pctx, job.ID)
		return result, nil
	}

	result.Record = persisted(s.repo.SaveAssets(pctx, job.ID, out.Assets))
	if result.Record.Err != nil {
		s.log.Warn("enhanced assets not saved", "job", job.ID, "error", result.Record.Err)
		s.rollback(pctx, job.ID)
		return result, nil
	}
	if err := s.repo.AdvanceStage(pctx, job.ID, StageEnhancing, StageEnhanced); err != nil {
		s.log.Warn("stage advance failed", "job", job.ID, "to", StageEnhanced, "error", err)
		return result, nil
	}
	if err := s.repo.AdvanceStage(pctx, job.ID, StageEnhanced, StageBundlingReady); err != nil {
		s.log.Warn("stage advance failed", "job", job.ID, "to", StageBundlingReady, "error", err)
	}
	return result, nil
}

func (s *JobService) rollback(ctx context.Context, id string) {
	if err := s.repo.AdvanceStage(ctx, id, StageEnhancing, StageCaptured); err != nil {
		s.log.Warn("stage rollback failed", "job", id, "error", err)
	}
}

// GenerateCopy produces marketing copy and, when jobID is set, records it on
// the job. The copy is returned even when recording fails.
func (s *JobService) GenerateCopy(ctx context.Context, jobID string, in CopyInput) (CopyResult, WriteOutcome) {
	if jobID != "" {
		s.emitter(jobID)(StepCopy, "Writing marketing copy...", 95)
	}
	result := s.pipe.Copy.Generate(ctx, in)
	if jobID == "" {
		return result, WriteOutcome{}
	}
	record := persisted(s.repo.SaveCopy(ctx, jobID, result))
	if record.Err != nil && !errors.Is(record.Err, ErrJobNotFound) {
		s.log.Warn("copy not saved", "job", jobID, "error", record.Err)
	}
	return result, record
}

// BundlePlan is a resolved list of archive entries for a recorded job.
type BundlePlan struct {
	Job     *Job
	Entries []BundleEntry
}

// PrepareBundle loads the job and resolves its candidate assets.
func (s *JobService) PrepareBundle(ctx context.Context, jobID string) (*BundlePlan, error) {
	if jobID == "" {
		return nil, ErrMissingJobID
	}
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	entries := s.pipe.Bundler.Plan(job)
	if len(entries) == 0 {
		return nil, ErrNoAssets
	}
	return &BundlePlan{Job: job, Entries: entries}, nil
}

// WriteBundle streams the planned archive to w.
func (s *JobService) WriteBundle(ctx context.Context, w io.Writer, plan *BundlePlan) error {
	return s.pipe.Bundler.Write(ctx, w, plan.Job, plan.Entries)
}

// Get retrieves a job record by ID.
func (s *JobService) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.Get(ctx, id)
}

// Watch subscribes to a job's progress events.
func (s *JobService) Watch(ctx context.Context, jobID string) (<-chan ProgressEvent, func()) {
	return s.bus.Subscribe(ctx, jobID)
}

// RecoverStale returns jobs stuck in the enhancing stage to captured.
func (s *JobService) RecoverStale(ctx context.Context) (int64, error) {
	return s.repo.RecoverStale(ctx)
}

// PurgeExpired removes up to limit jobs created before the cutoff, together
// with their assets and progress history.
func (s *JobService) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	ids, err := s.repo.ListExpired(ctx, before, limit)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if s.pipe.Assets != nil {
			if err := s.pipe.Assets.RemoveJob(ctx, id); err != nil {
				s.log.Warn("asset removal failed", "job", id, "error", err)
				continue
			}
		}
		s.bus.Clear(id)
		if err := s.repo.Delete(ctx, id); err != nil {
			s.log.Warn("record removal failed", "job", id, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}

func (s *JobService) emitter(jobID string) EmitFunc {
	return func(step Step, detail string, progress int) {
		s.bus.Publish(jobID, NewProgressEvent(step, detail, progress))
	}
}

func brandOr(color, fallback string) string {
	if color != "" {
		return color
	}
	return fallback
}
