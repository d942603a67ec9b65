package tui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kotae-ai/kotae/internal/decisionlog"
)

// decisionBody renders the decision log overlay: normalized entries,
// timestamp-ordered, filtered, capped to the visible window.
func decisionBody(events []json.RawMessage, filter decisionlog.Filter, showAll bool) string {
	entries := decisionlog.SortByTimestamp(decisionlog.Normalize(events))
	filtered := filter.Apply(entries)
	visible := decisionlog.Window(filtered, showAll)

	var b strings.Builder
	for _, e := range visible {
		b.WriteString(decisionLine(e))
		b.WriteString("\n")
	}
	if len(filtered) == 0 {
		if len(entries) == 0 {
			b.WriteString("No decision events recorded for this answer.\n")
		} else {
			b.WriteString("No decision events match the filter.\n")
		}
	}
	if hidden := len(filtered) - len(visible); hidden > 0 {
		fmt.Fprintf(&b, "\n%d more entries hidden. Press a to show all.\n", hidden)
	}
	return b.String()
}

func decisionLine(e decisionlog.Entry) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.TimestampText)
	b.WriteString("]")

	if e.Raw != "" {
		b.WriteString(" ")
		b.WriteString(shorten(e.Raw, 120))
		return b.String()
	}

	if e.Node != "" {
		b.WriteString(" ")
		b.WriteString(e.Node)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(e.Decision)
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	if e.Severity != "" {
		b.WriteString(" [")
		b.WriteString(e.Severity)
		b.WriteString("]")
	}
	return b.String()
}

// decisionStatus summarizes the active filter for the overlay header.
func decisionStatus(total int, filter decisionlog.Filter, showAll bool) string {
	parts := []string{fmt.Sprintf("%d events", total)}
	if filter.Node != "" {
		parts = append(parts, "node="+filter.Node)
	}
	if strings.TrimSpace(filter.Search) != "" {
		parts = append(parts, "search="+strings.TrimSpace(filter.Search))
	}
	if showAll {
		parts = append(parts, "all")
	}
	return strings.Join(parts, "  ")
}
