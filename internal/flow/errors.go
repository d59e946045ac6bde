package flow

import "github.com/rotisserie/eris"

// Sentinel errors surfaced to callers. None is retried internally; retry
// policy belongs to the surrounding service layer.
var (
	// ErrFlowDisabled means the tenant has turned the save flow off; the
	// caller should not offer a save experience.
	ErrFlowDisabled = eris.New("flow: save flow disabled for tenant")

	// ErrNotFound means the attempt does not exist.
	ErrNotFound = eris.New("flow: attempt not found")

	// ErrAlreadyCompleted means progression or completion was attempted on
	// a terminal attempt.
	ErrAlreadyCompleted = eris.New("flow: attempt already completed")

	// ErrInvalidStage means a stage number fell outside 1..7, which is an
	// internal invariant violation.
	ErrInvalidStage = eris.New("flow: stage out of range")
)
