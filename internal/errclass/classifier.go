// Package errclass turns raised errors into normalized, render-ready
// error cards. Classification is deterministic and side-effect-free:
// the same error always yields the same card.
package errclass

import (
	"context"
	"errors"

	"github.com/kotae-ai/kotae/internal/agent"
	"github.com/kotae-ai/kotae/internal/model"
)

// categoryActions is the static category to remediation-action lookup.
// Unknown categories resolve to no actions; the card still renders with
// its message and request id.
var categoryActions = map[string][]model.ErrorAction{
	model.ErrCategorySchemaDrift: {
		{Label: "Re-run schema ingestion", URL: "/workflows/schema-ingestion"},
		{Label: "View schema snapshot", URL: "/schema"},
	},
	model.ErrCategoryAuth: {
		{Label: "Check credentials", URL: "/settings/credentials"},
	},
	model.ErrCategoryConnectivity: {
		{Label: "Warehouse connection settings", URL: "/settings/connections"},
		{Label: "Service status", URL: "/status"},
	},
	model.ErrCategoryResourceExhausted: {
		{Label: "Usage and limits", URL: "/settings/usage"},
	},
	model.ErrCategorySyntax: {
		{Label: "Open SQL editor", URL: "/editor"},
	},
	model.ErrCategoryUnsupported: {
		{Label: "Supported query reference", URL: "/docs/query-support"},
	},
	model.ErrCategoryTransient:    nil,
	model.ErrCategoryTokenExpired: nil,
}

// defaultMessages replaces empty server messages per category so a card
// never renders blank.
var defaultMessages = map[string]string{
	model.ErrCategorySchemaDrift:       "The warehouse schema changed since it was last ingested.",
	model.ErrCategoryAuth:              "Authentication with the agent service failed.",
	model.ErrCategoryConnectivity:      "The agent could not reach the data warehouse.",
	model.ErrCategoryResourceExhausted: "A resource limit was hit while answering this question.",
	model.ErrCategorySyntax:            "The generated SQL was rejected by the warehouse.",
	model.ErrCategoryUnsupported:       "This question needs a capability the agent does not support yet.",
	model.ErrCategoryTransient:         "A temporary failure interrupted this run.",
	model.ErrCategoryUnknown:           "Something went wrong while answering this question.",
}

// Classify produces the error card for any raised error. Structured API
// errors keep their server-assigned category, hint, and request id;
// stream timeouts and plain errors map onto the local taxonomy.
func Classify(err error) model.ErrorCard {
	if err == nil {
		return model.ErrorCard{
			Category: model.ErrCategoryUnknown,
			Message:  defaultMessages[model.ErrCategoryUnknown],
		}
	}

	var apiErr *agent.APIError
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr)
	}

	if errors.Is(err, agent.ErrStreamTimeout) {
		return build(model.ErrCategoryTransient, "The agent stopped responding mid-run.", "", "Retry the question; long answers sometimes exceed the streaming window.")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return build(model.ErrCategoryTransient, "The request timed out.", "", "")
	}

	card := build(model.ErrCategoryUnknown, err.Error(), "", "")
	if card.Message == "" {
		card.Message = defaultMessages[model.ErrCategoryUnknown]
	}
	return card
}

func classifyAPI(apiErr *agent.APIError) model.ErrorCard {
	category := apiErr.Category()
	if category == "" {
		category = categoryFromStatus(apiErr.StatusCode)
	}

	card := build(category, apiErr.Message, apiErr.RequestID, "")
	if info := apiErr.Info; info != nil {
		card.Hint = info.Hint
		if info.Retryable != nil {
			card.Retryable = *info.Retryable
		}
		card.RetryAfterSeconds = info.RetryAfterSeconds
	}
	if card.Message == "" {
		card.Message = defaultMessages[category]
		if card.Message == "" {
			card.Message = defaultMessages[model.ErrCategoryUnknown]
		}
	}
	return card
}

// categoryFromStatus maps bare HTTP failures onto the taxonomy when the
// server sent no category.
func categoryFromStatus(status int) string {
	switch status {
	case 401, 403:
		return model.ErrCategoryAuth
	case 408:
		return model.ErrCategoryTransient
	case 429:
		return model.ErrCategoryResourceExhausted
	case 502, 503, 504:
		return model.ErrCategoryConnectivity
	default:
		return model.ErrCategoryUnknown
	}
}

func build(category, message, requestID, hint string) model.ErrorCard {
	card := model.ErrorCard{
		Category:  category,
		Message:   message,
		RequestID: requestID,
		Hint:      hint,
	}
	if actions, ok := categoryActions[category]; ok && len(actions) > 0 {
		card.Actions = append([]model.ErrorAction(nil), actions...)
	}
	return card
}
