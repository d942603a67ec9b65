// Package model defines the core domain types for the Kotae console.
//
// Types mirror the agent service's wire format where they cross the API
// boundary and use strong typing (uuid.UUID, time.Time, enums) everywhere
// else. The package has no dependencies on other kotae packages so that
// every layer can share these types freely.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a question submission.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusStreaming  RunStatus = "streaming"
	RunStatusFinalizing RunStatus = "finalizing"
	RunStatusSucceeded  RunStatus = "succeeded"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCanceled   RunStatus = "canceled"
)

// Terminal reports whether the status is a settled end state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// RunMode selects which agent endpoint a run (and its pagination) uses.
type RunMode string

const (
	// RunModeAuto submits the question for end-to-end execution
	// (streaming with a blocking fallback).
	RunModeAuto RunMode = "auto"

	// RunModePreview generates SQL without executing it.
	RunModePreview RunMode = "preview"

	// RunModeExecute executes previously generated SQL on explicit
	// confirmation.
	RunModeExecute RunMode = "execute"
)

// Run is one question submission and its end-to-end execution cycle.
// A run is created on submit, superseded when a newer submit cancels it,
// and terminal once it succeeded or failed.
type Run struct {
	ID        uuid.UUID
	Mode      RunMode
	Question  string
	TenantID  string
	ThreadID  string
	StartedAt time.Time
}
