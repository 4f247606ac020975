package domain

import "fmt"

// Stage is the server-owned pipeline position of a recorded job.
type Stage string

const (
	StageCaptured      Stage = "captured"
	StageEnhancing     Stage = "enhancing"
	StageEnhanced      Stage = "enhanced"
	StageBundlingReady Stage = "bundling_ready"
)

var allowedTransitions = map[Stage]map[Stage]bool{
	StageCaptured: {
		StageEnhancing: true,
	},
	StageEnhancing: {
		StageEnhanced: true,
		StageCaptured: true, // enhancement failed or the process died mid-run
	},
	StageEnhanced: {
		StageBundlingReady: true,
	},
	StageBundlingReady: {},
}

var stageRank = map[Stage]int{
	StageCaptured:      0,
	StageEnhancing:     1,
	StageEnhanced:      2,
	StageBundlingReady: 3,
}

// IsKnownStage reports whether s is part of the state machine.
func IsKnownStage(s Stage) bool {
	_, ok := allowedTransitions[s]
	return ok
}

// CanAdvance reports whether the transition from -> to is allowed.
func CanAdvance(from, to Stage) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Reached reports whether s is at or beyond target.
func (s Stage) Reached(target Stage) bool {
	return stageRank[s] >= stageRank[target]
}

// AdvanceStage moves the job to the given stage. Advancing to a stage the
// job has already passed is a no-op and reports false.
func AdvanceStage(job *Job, to Stage) (bool, error) {
	if job.Stage == to || (job.Stage.Reached(to) && job.Stage != StageEnhancing) {
		return false, nil
	}
	if !CanAdvance(job.Stage, to) {
		return false, fmt.Errorf("%w: %q -> %q (job_id=%s)", ErrStageConflict, job.Stage, to, job.ID)
	}
	job.Stage = to
	return true, nil
}
