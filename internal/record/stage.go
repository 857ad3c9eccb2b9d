package record

// Stage is a named position in the record lifecycle. Each non-terminal
// stage is also the name of its queue.
type Stage string

const (
	StageRaw           Stage = "raw"
	StageCategorized   Stage = "categorized"
	StageValidated     Stage = "validated"
	StageApproved      Stage = "approved"
	StagePendingReview Stage = "pending_review"
	StageDeployed      Stage = "deployed"
	StageVerified      Stage = "verified"
	StageFailed        Stage = "failed"
	// StageError is the dead-letter stage for records that exhausted
	// retries or violated a pipeline invariant.
	StageError Stage = "error"
)

// Stages lists every stage in lifecycle order, dead-letter last.
// Used for status rollups and queue iteration.
var Stages = []Stage{
	StageRaw, StageCategorized, StageValidated,
	StageApproved, StagePendingReview,
	StageDeployed, StageVerified, StageFailed,
	StageError,
}

// allowedTransitions is the lifecycle graph. Records only move forward;
// the single backward-looking path is deployed -> failed (rollback).
// Any transition not listed here is a programming error.
var allowedTransitions = map[Stage]map[Stage]struct{}{
	StageRaw: {
		StageCategorized: {},
		StageError:       {},
	},
	StageCategorized: {
		StageValidated: {},
		StageError:     {},
	},
	StageValidated: {
		StageApproved:      {},
		StagePendingReview: {},
		StageError:         {},
	},
	// Human promotion path: an operator re-injects a reviewed record.
	StagePendingReview: {
		StageApproved: {},
	},
	StageApproved: {
		StageDeployed: {},
		StageError:    {},
	},
	StageDeployed: {
		StageVerified: {},
		StageFailed:   {},
		StageError:    {},
	},
}

// CanTransition reports whether the lifecycle graph permits from -> to.
func CanTransition(from, to Stage) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Terminal reports whether the pipeline stops advancing the record on
// its own. pending_review is terminal here even though a human can
// still promote it to approved; the pipeline itself never will.
func (s Stage) Terminal() bool {
	switch s {
	case StagePendingReview, StageVerified, StageFailed, StageError:
		return true
	}
	return false
}

// Valid reports whether s names a known stage.
func (s Stage) Valid() bool {
	for _, known := range Stages {
		if s == known {
			return true
		}
	}
	return false
}
