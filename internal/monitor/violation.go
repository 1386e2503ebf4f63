package monitor

import (
	"time"

	"github.com/vigil-video/vigil/pkg/types"
)

const (
	// livenessThreshold separates a live modality score from a violation.
	livenessThreshold = 0.6

	// warnAfter is how long a modality may stay sub-threshold before the
	// first warning.
	warnAfter = 10 * time.Second

	// kickAfter is how long a modality may stay sub-threshold before the
	// kick callback fires.
	kickAfter = 20 * time.Second
)

// violationState tracks one modality through the escalation ladder.
type violationState int

const (
	stateClean violationState = iota
	statePending
	stateWarned
	stateKicked
)

// violation is the per-modality duration state machine. Not safe for
// concurrent use; the monitor evaluates it under its own lock.
type violation struct {
	kind       types.FlagKind
	warnMsg    string
	kickReason string

	state     violationState
	startedAt time.Time
}

// tickOutcome is what one evaluation of a violation produced.
type tickOutcome struct {
	// flag is non-nil while the modality is in the warned phase.
	flag *types.SafetyFlag

	// warned is true only on the tick that crossed the warning boundary.
	warned bool

	// kicked is true only on the tick that crossed the kick boundary.
	kicked bool
}

// observe feeds the latest modality score into the state machine. A score at
// or above the threshold resets to clean; a sub-threshold score escalates
// through pending, warned, and kicked based on elapsed time. Kicked is
// terminal until the score recovers.
func (v *violation) observe(score float64, now time.Time) tickOutcome {
	if score >= livenessThreshold {
		v.state = stateClean
		v.startedAt = time.Time{}
		return tickOutcome{}
	}

	switch v.state {
	case stateClean:
		v.state = statePending
		v.startedAt = now
		return tickOutcome{}
	case stateKicked:
		return tickOutcome{}
	}

	elapsed := now.Sub(v.startedAt)
	if elapsed > kickAfter {
		v.state = stateKicked
		return tickOutcome{kicked: true}
	}
	if elapsed > warnAfter {
		firstWarning := v.state != stateWarned
		v.state = stateWarned
		return tickOutcome{
			flag: &types.SafetyFlag{
				Kind:      v.kind,
				Score:     score,
				Threshold: livenessThreshold,
				Flagged:   true,
			},
			warned: firstWarning,
		}
	}
	return tickOutcome{}
}
