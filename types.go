package kotae

import (
	"time"
)

// RunStatus is the terminal state of a settled run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// RunRecord is the public view of a settled run, delivered to RunHook
// implementations and mirrored by the local history store. No internal
// package imports, so it is safe to use from outside the module.
type RunRecord struct {
	Question      string
	Status        RunStatus
	Response      string
	SQL           string
	ErrorCategory string
	RequestID     string
	TraceID       string
	FromCache     bool
	RowCount      int
	Duration      time.Duration
	SettledAt     time.Time
}

// Answer is the result of a headless Ask call.
type Answer struct {
	Response  string
	SQL       string
	Rows      []map[string]any
	Scalar    any
	RowCount  int
	FromCache bool
	// HasMore reports that the server truncated the result set and offered
	// a continuation. Headless calls do not paginate; use the console to
	// page through large results.
	HasMore   bool
	RequestID string
	TraceID   string
}

// RunError is a classified agent failure. Category uses the same values
// the console's error card shows (connectivity, auth, resource_exhausted,
// syntax, unsupported, transient, schema_drift, token_expired, unknown).
type RunError struct {
	Category          string
	Message           string
	Hint              string
	Retryable         bool
	RetryAfterSeconds int
	RequestID         string
}

func (e *RunError) Error() string {
	return e.Category + ": " + e.Message
}
