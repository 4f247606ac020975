package domain

import (
	"context"
	"time"
)

// Step names a pipeline phase in progress events.
type Step string

const (
	StepInit     Step = "init"
	StepBrowser  Step = "browser"
	StepNavigate Step = "navigate"
	StepCookies  Step = "cookies"
	StepText     Step = "text"
	StepColor    Step = "color"
	StepLinks    Step = "links"
	StepCapture  Step = "capture"
	StepSaving   Step = "saving"
	StepComplete Step = "complete"
	StepEnhance  Step = "enhance"
	StepCollage  Step = "collage"
	StepSocial   Step = "social"
	StepCopy     Step = "copy"
	StepDone     Step = "done"
	StepError    Step = "error"
)

// ProgressFailed is the progress value carried by error events.
const ProgressFailed = -1

// ProgressEvent describes one observable advance of a job.
type ProgressEvent struct {
	Step      Step   `json:"step"`
	Detail    string `json:"detail"`
	Progress  int    `json:"progress"`
	Timestamp int64  `json:"timestamp"`
}

// NewProgressEvent stamps an event with the current time in unix millis.
func NewProgressEvent(step Step, detail string, progress int) ProgressEvent {
	return ProgressEvent{
		Step:      step,
		Detail:    detail,
		Progress:  progress,
		Timestamp: time.Now().UnixMilli(),
	}
}

// EmitFunc reports progress from inside a pipeline stage.
type EmitFunc func(step Step, detail string, progress int)

// ProgressBus fans progress events out to live subscribers.
//
// Publish must not block on slow subscribers. Subscribe replays the job's
// history before forwarding new events; the returned channel closes when ctx
// is done or the cancel func is called.
type ProgressBus interface {
	Publish(jobID string, ev ProgressEvent)
	Subscribe(ctx context.Context, jobID string) (<-chan ProgressEvent, func())
	Clear(jobID string)
}
