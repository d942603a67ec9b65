// Package agent provides the HTTP client for the Kotae agent service:
// blocking runs, SSE run streams, SQL generate/execute, and the model
// catalog. All methods are safe for concurrent use.
package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kotae-ai/kotae/internal/model"
)

// APIError represents an error response from the agent service with the
// HTTP status code and the server's structured error payload.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Info       *model.ErrorInfo
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kotae: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Category returns the server-assigned error category, empty when the
// server sent no structured details.
func (e *APIError) Category() string {
	if e.Info == nil {
		return ""
	}
	return e.Info.ErrorCategory
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsTokenFailure reports whether the error indicates a stale or invalid
// continuation token. The server tags these with an explicit category;
// older server versions only mention it in the message text, so both are
// matched.
func IsTokenFailure(err error) bool {
	var e *APIError
	if errors.As(err, &e) {
		if e.Category() == model.ErrCategoryTokenExpired {
			return true
		}
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "token") &&
			(strings.Contains(msg, "expired") || strings.Contains(msg, "invalid")) {
			return true
		}
	}
	return false
}
