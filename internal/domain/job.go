package domain

import "time"

// JobStatus represents the overall outcome of a job.
type JobStatus string

const (
	StatusRunning  JobStatus = "running"
	StatusComplete JobStatus = "complete"
	StatusError    JobStatus = "error"
)

// Viewport names.
const (
	ViewportDesktop = "desktop"
	ViewportTablet  = "tablet"
	ViewportMobile  = "mobile"
)

// ScreenshotType is the semantic kind of a captured image.
type ScreenshotType string

const (
	ShotHero    ScreenshotType = "hero"
	ShotFull    ScreenshotType = "full"
	ShotFeature ScreenshotType = "feature"
)

// AssetCategory groups compositor outputs.
type AssetCategory string

const (
	CategoryMockup AssetCategory = "mockup"
	CategoryGrid   AssetCategory = "grid"
	CategorySocial AssetCategory = "social"
)

// Screenshot is a single stored capture.
type Screenshot struct {
	Path     string         `json:"path"`
	Viewport string         `json:"viewport"`
	Width    int            `json:"width"`
	Height   int            `json:"height"`
	Type     ScreenshotType `json:"type"`
}

// PageCapture is one crawled page and its screenshots in capture order.
type PageCapture struct {
	URL         string       `json:"url"`
	Title       string       `json:"title"`
	Screenshots []Screenshot `json:"screenshots"`
}

// Viewports returns the distinct viewport names in first-seen order.
func (p PageCapture) Viewports() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range p.Screenshots {
		if !seen[s.Viewport] {
			seen[s.Viewport] = true
			out = append(out, s.Viewport)
		}
	}
	return out
}

// EnhancedAsset is a compositor output derived from one or more screenshots.
type EnhancedAsset struct {
	Path string        `json:"path"`
	Type AssetCategory `json:"type"`
}

// CopyResult is generated marketing copy.
type CopyResult struct {
	Pitch   string   `json:"pitch"`
	Blurbs  []string `json:"blurbs"`
	Twitter string   `json:"twitter"`
	Tagline string   `json:"tagline"`
}

// Job is one URL-to-asset-pack run.
type Job struct {
	ID              string
	UserID          string
	URL             string
	Domain          string
	BrandColor      string
	Devices         []string
	Pages           []PageCapture
	TextContent     string
	ContentMarkdown string
	Status          JobStatus
	Stage           Stage
	Assets          []EnhancedAsset
	Copy            *CopyResult
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Title returns the home page title, if any.
func (j *Job) Title() string {
	if len(j.Pages) == 0 {
		return ""
	}
	return j.Pages[0].Title
}

// WriteOutcome reports a best-effort persistence step separately from the
// primary result it accompanies.
type WriteOutcome struct {
	Persisted bool
	Err       error
}

func persisted(err error) WriteOutcome {
	return WriteOutcome{Persisted: err == nil, Err: err}
}
