package engine

import (
	"fmt"

	"rewardkit/core"
)

// Stage names the step of evaluation where a system failure happened.
type Stage string

const (
	StageSelect   Stage = "select"
	StageHistory  Stage = "history"
	StageLoad     Stage = "load"
	StageCommit   Stage = "commit"
	StageCanceled Stage = "canceled"
	StageIngest   Stage = "ingest"
)

// EvaluationError is a system failure that aborted evaluation of an event.
// Business failures never surface as errors; they are recorded outcomes.
// Callers may retry the whole event.
type EvaluationError struct {
	EventID core.EventID
	RuleID  core.RuleID
	Stage   Stage
	Err     error
}

func (e *EvaluationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("evaluate event %s: rule %s: %s: %v", e.EventID, e.RuleID, e.Stage, e.Err)
	}
	return fmt.Sprintf("evaluate event %s: %s: %v", e.EventID, e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
