package model

import (
	"encoding/json"
)

// AgentRequest is the request body shared by the run, generate, and
// execute endpoints. Pagination continuations reuse the originating
// request with PageToken set.
type AgentRequest struct {
	Question  string `json:"question"`
	TenantID  string `json:"tenant_id"`
	ThreadID  string `json:"thread_id"`
	SQL       string `json:"sql,omitempty"`        // execute variant only
	PageToken string `json:"page_token,omitempty"` // pagination continuation only
}

// AgentResult is the superset result shape returned by the blocking run
// call, the terminal stream event, and the generate/execute endpoints.
// Fields the console does not interpret are kept as raw JSON so newer
// server versions never break decoding.
type AgentResult struct {
	Response            string              `json:"response,omitempty"`
	SQL                 string              `json:"sql,omitempty"`
	CurrentSQL          string              `json:"current_sql,omitempty"`
	Result              json.RawMessage     `json:"result,omitempty"`
	QueryResult         json.RawMessage     `json:"query_result,omitempty"`
	Error               string              `json:"error,omitempty"`
	InteractionID       string              `json:"interaction_id,omitempty"`
	RequestID           string              `json:"request_id,omitempty"`
	FromCache           bool                `json:"from_cache,omitempty"`
	CacheSimilarity     float64             `json:"cache_similarity,omitempty"`
	VizSpec             json.RawMessage     `json:"viz_spec,omitempty"`
	TraceID             string              `json:"trace_id,omitempty"`
	RunID               string              `json:"run_id,omitempty"`
	Completeness        *ResultCompleteness `json:"result_completeness,omitempty"`
	RetrySummary        json.RawMessage     `json:"retry_summary,omitempty"`
	ValidationSummary   json.RawMessage     `json:"validation_summary,omitempty"`
	ValidationReport    json.RawMessage     `json:"validation_report,omitempty"`
	DecisionEvents      []json.RawMessage   `json:"decision_events,omitempty"`
	EmptyResultGuidance string              `json:"empty_result_guidance,omitempty"`
	ErrorMetadata       json.RawMessage     `json:"error_metadata,omitempty"`
}

// GeneratedSQL returns the SQL carried by the result, preferring the
// final sql field over the in-progress current_sql revision.
func (r *AgentResult) GeneratedSQL() string {
	if r.SQL != "" {
		return r.SQL
	}
	return r.CurrentSQL
}

// ResultData returns whichever of result / query_result the server
// populated.
func (r *AgentResult) ResultData() json.RawMessage {
	if len(r.Result) > 0 && string(r.Result) != "null" {
		return r.Result
	}
	if len(r.QueryResult) > 0 && string(r.QueryResult) != "null" {
		return r.QueryResult
	}
	return nil
}

// ErrorDetail is the structured error payload surfaced by the agent API.
type ErrorDetail struct {
	Message   string     `json:"message"`
	Status    int        `json:"status,omitempty"`
	Code      string     `json:"code,omitempty"`
	Details   *ErrorInfo `json:"details,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
}

// ErrorInfo carries the category metadata nested under an error's details.
type ErrorInfo struct {
	ErrorCategory     string          `json:"error_category,omitempty"`
	Hint              string          `json:"hint,omitempty"`
	Retryable         *bool           `json:"retryable,omitempty"`
	RetryAfterSeconds int             `json:"retry_after_seconds,omitempty"`
	DetailsSafe       json.RawMessage `json:"details_safe,omitempty"`
}

// ErrorCategory constants for classified API errors.
const (
	ErrCategorySchemaDrift       = "schema_drift"
	ErrCategoryAuth              = "auth"
	ErrCategoryConnectivity      = "connectivity"
	ErrCategoryResourceExhausted = "resource_exhausted"
	ErrCategorySyntax            = "syntax"
	ErrCategoryUnsupported       = "unsupported"
	ErrCategoryTransient         = "transient"
	ErrCategoryTokenExpired      = "token_expired"
	ErrCategoryUnknown           = "unknown"
)

// ErrorAction is a remediation link offered alongside a classified error.
type ErrorAction struct {
	Label string `json:"label"`
	URL   string `json:"url,omitempty"`
}

// ErrorCard is the normalized, render-ready view of a raised error:
// category, operator-facing message, correlation id, and the static
// remediation actions resolved for the category.
type ErrorCard struct {
	Category          string        `json:"category"`
	Message           string        `json:"message"`
	RequestID         string        `json:"request_id,omitempty"`
	Hint              string        `json:"hint,omitempty"`
	Retryable         bool          `json:"retryable,omitempty"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty"`
	Actions           []ErrorAction `json:"actions,omitempty"`
}
