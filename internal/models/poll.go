package models

// Classification labels the outcome of a single provider call, produced by
// the outcome classifier and consumed by the polling engine and runner.
type Classification string

const (
	ClassNetwork         Classification = "network"
	ClassAuth            Classification = "auth"
	ClassNotFound        Classification = "not_found"
	ClassRateLimited     Classification = "rate_limited"
	ClassTerminalFailure Classification = "terminal_failure"
	ClassInProgress      Classification = "in_progress"
	ClassCompleted       Classification = "completed"
	ClassCancelled       Classification = "cancelled"
)

// Terminal returns true if polling must stop on this classification.
func (c Classification) Terminal() bool {
	switch c {
	case ClassCompleted, ClassTerminalFailure, ClassAuth, ClassNotFound, ClassCancelled:
		return true
	}
	return false
}

// Retryable returns true if the poll loop should back off and try again.
func (c Classification) Retryable() bool {
	switch c {
	case ClassNetwork, ClassRateLimited, ClassInProgress:
		return true
	}
	return false
}

// PollOutcome is the transient result of driving one provider-side job to a
// terminal classification.
type PollOutcome struct {
	Classification Classification `json:"classification"`
	Progress       int            `json:"progress"`
	Result         []OutputRef    `json:"result,omitempty"`
	ErrorDetail    string         `json:"error_detail,omitempty"`
	Attempts       int            `json:"attempts"`
}
