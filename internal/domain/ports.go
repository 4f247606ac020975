package domain

import (
	"context"
	"io"
	"time"
)

// JobRepository is the driven port for job record persistence.
type JobRepository interface {
	// Save inserts a new record and fails with ErrJobExists for a known id.
	Save(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	AdvanceStage(ctx context.Context, id string, from, to Stage) error
	SaveAssets(ctx context.Context, id string, assets []EnhancedAsset) error
	SaveCopy(ctx context.Context, id string, copy CopyResult) error
	RecoverStale(ctx context.Context) (int64, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// AssetStore is the driven port for job-scoped binary assets.
type AssetStore interface {
	// Put stores data under the job namespace and returns its public URL.
	Put(ctx context.Context, jobID, name string, data []byte, contentType string) (string, error)
	Open(ctx context.Context, jobID, name string) (io.ReadCloser, error)
	RemoveJob(ctx context.Context, jobID string) error
}

// Fetcher resolves an asset URL to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CaptureParams is a validated capture request.
type CaptureParams struct {
	JobID           string
	URL             string
	BrandColor      string
	AutoDetectColor bool
	Devices         []string
}

// CaptureOutput is what the capture engine produced for one job.
type CaptureOutput struct {
	Pages           []PageCapture
	TextContent     string
	ContentMarkdown string
	BrandColor      string
}

// CaptureEngine drives one browser session per call.
type CaptureEngine interface {
	Capture(ctx context.Context, p CaptureParams, emit EmitFunc) (*CaptureOutput, error)
}

// EnhanceParams identifies the raw screenshots to composite.
type EnhanceParams struct {
	JobID      string
	BrandColor string
	Pages      []PageCapture
}

// EnhanceOutput lists produced assets in production order.
type EnhanceOutput struct {
	Assets  []EnhancedAsset
	Success bool
}

// Compositor turns raw screenshots into enhanced assets.
type Compositor interface {
	Enhance(ctx context.Context, p EnhanceParams, emit EmitFunc) EnhanceOutput
}

// CopyInput is the text a copy generator works from.
type CopyInput struct {
	TextContent string
	Domain      string
	PageTitle   string
}

// CopyGenerator never fails; it degrades to templated copy.
type CopyGenerator interface {
	Generate(ctx context.Context, in CopyInput) CopyResult
}

// BundleEntry is one archive member. Entries with a URL are fetched;
// generated entries carry their Body inline.
type BundleEntry struct {
	Folder string
	Name   string
	URL    string
	Body   []byte
}

// Path returns the archive entry path.
func (e BundleEntry) Path() string {
	return e.Folder + "/" + e.Name
}

// Bundler assembles a job's assets into an archive.
type Bundler interface {
	Plan(job *Job) []BundleEntry
	Write(ctx context.Context, w io.Writer, job *Job, entries []BundleEntry) error
}
