// Package decisionlog normalizes, orders, and filters the agent's
// decision events for display. Events arrive as loosely shaped JSON
// values produced by many agent versions; every shape must render
// without failing.
package decisionlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultVisible caps the initial display; the show-all toggle lifts it.
const DefaultVisible = 10

// NoTimestamp is the display text for entries missing a timestamp.
const NoTimestamp = "no timestamp"

// NoDecision is the display placeholder for entries missing decision text.
const NoDecision = "(no decision recorded)"

// Entry is one normalized decision event.
type Entry struct {
	// Node is the node or phase tag, empty when absent.
	Node string

	// Decision is the decision text, NoDecision when absent.
	Decision string

	Reason   string
	Severity string
	Type     string

	// Timestamp is the sortable key, nil when the event had none (or an
	// unparseable one). TimestampText preserves the original value for
	// display; NoTimestamp when nil.
	Timestamp     *float64
	TimestampText string

	// Raw holds the original form of entries that were not objects.
	Raw string
}

// rawEvent is the permissive wire shape of a decision event.
type rawEvent struct {
	Node      string          `json:"node"`
	Phase     string          `json:"phase"`
	Decision  string          `json:"decision"`
	Text      string          `json:"text"`
	Reason    string          `json:"reason"`
	Severity  string          `json:"severity"`
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Normalize converts raw decision events into display entries. Non-object
// values become raw-form entries; nothing is dropped.
func Normalize(events []json.RawMessage) []Entry {
	entries := make([]Entry, 0, len(events))
	for _, raw := range events {
		entries = append(entries, normalizeOne(raw))
	}
	return entries
}

func normalizeOne(raw json.RawMessage) Entry {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Entry{
			Decision:      NoDecision,
			TimestampText: NoTimestamp,
			Raw:           strings.TrimSpace(string(raw)),
		}
	}

	entry := Entry{
		Node:     ev.Node,
		Decision: ev.Decision,
		Reason:   ev.Reason,
		Severity: ev.Severity,
		Type:     ev.Type,
	}
	if entry.Node == "" {
		entry.Node = ev.Phase
	}
	if entry.Decision == "" {
		entry.Decision = ev.Text
	}
	if entry.Decision == "" {
		entry.Decision = NoDecision
	}
	entry.Timestamp, entry.TimestampText = parseTimestamp(ev.Timestamp)
	return entry
}

// parseTimestamp accepts the timestamp forms seen in the wild: numbers
// (epoch or plain sequence values) and RFC 3339 strings. Anything else
// counts as missing.
func parseTimestamp(raw json.RawMessage) (*float64, string) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, NoTimestamp
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return &num, fmt.Sprintf("%g", num)
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, str); err == nil {
			key := float64(ts.UnixNano()) / float64(time.Second)
			return &key, str
		}
		if str != "" {
			return nil, str
		}
	}
	return nil, NoTimestamp
}

// SortByTimestamp orders entries by ascending timestamp using a stable
// sort. Entries without a timestamp compare equal to everything, so they
// keep their relative original position.
func SortByTimestamp(entries []Entry) []Entry {
	out := append([]Entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Timestamp, out[j].Timestamp
		if a == nil || b == nil {
			return false
		}
		return *a < *b
	})
	return out
}

// Filter selects entries by free-text search and node/phase tag. Empty
// fields match everything; both set means both must match.
type Filter struct {
	Search string
	Node   string
}

// Apply returns the entries matching the filter, preserving input order.
func (f Filter) Apply(entries []Entry) []Entry {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	node := strings.ToLower(strings.TrimSpace(f.Node))
	if search == "" && node == "" {
		return append([]Entry(nil), entries...)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if node != "" && strings.ToLower(e.Node) != node {
			continue
		}
		if search != "" && !matchesSearch(e, search) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func matchesSearch(e Entry, search string) bool {
	for _, field := range []string{e.Decision, e.Reason, e.Node, e.Raw} {
		if strings.Contains(strings.ToLower(field), search) {
			return true
		}
	}
	return false
}

// Window returns the visible slice of entries. The toggle only changes
// the window size, never the order.
func Window(entries []Entry, showAll bool) []Entry {
	if showAll || len(entries) <= DefaultVisible {
		return entries
	}
	return entries[:DefaultVisible]
}

// Nodes returns the distinct node tags in first-seen order, for building
// the filter choices.
func Nodes(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Node == "" {
			continue
		}
		if _, ok := seen[e.Node]; ok {
			continue
		}
		seen[e.Node] = struct{}{}
		out = append(out, e.Node)
	}
	return out
}
