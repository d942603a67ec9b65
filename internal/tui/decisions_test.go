package tui

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/kotae-ai/kotae/internal/decisionlog"
)

func TestDecisionBodyOrdersAndWindows(t *testing.T) {
	events := make([]json.RawMessage, 0, 12)
	for i := 0; i < 12; i++ {
		ev := fmt.Sprintf(`{"node":"node%d","decision":"step %d","timestamp":%d}`, i%3, i, 12-i)
		events = append(events, json.RawMessage(ev))
	}

	body := decisionBody(events, decisionlog.Filter{}, false)
	if !strings.HasPrefix(body, "[1] node2: step 11") {
		t.Fatalf("entries not ordered by timestamp:\n%s", body)
	}
	if got := strings.Count(body, "step "); got != decisionlog.DefaultVisible {
		t.Fatalf("visible entries: got %d want %d\n%s", got, decisionlog.DefaultVisible, body)
	}
	if !strings.Contains(body, "2 more entries hidden. Press a to show all.") {
		t.Fatalf("hidden note missing:\n%s", body)
	}

	all := decisionBody(events, decisionlog.Filter{}, true)
	if got := strings.Count(all, "step "); got != 12 {
		t.Fatalf("show-all entries: got %d want 12\n%s", got, all)
	}
	if strings.Contains(all, "hidden") {
		t.Fatalf("show-all should not report hidden entries:\n%s", all)
	}
}

func TestDecisionBodyFilters(t *testing.T) {
	events := []json.RawMessage{
		json.RawMessage(`{"node":"router","decision":"use sql"}`),
		json.RawMessage(`{"node":"planner","decision":"join users"}`),
	}

	body := decisionBody(events, decisionlog.Filter{Node: "planner"}, false)
	if strings.Contains(body, "use sql") || !strings.Contains(body, "join users") {
		t.Fatalf("node filter not applied:\n%s", body)
	}

	body = decisionBody(events, decisionlog.Filter{Search: "zzz"}, false)
	if !strings.Contains(body, "No decision events match the filter.") {
		t.Fatalf("no-match notice missing:\n%s", body)
	}

	body = decisionBody(nil, decisionlog.Filter{}, false)
	if !strings.Contains(body, "No decision events recorded for this answer.") {
		t.Fatalf("empty notice missing:\n%s", body)
	}
}

func TestDecisionBodyRawEntries(t *testing.T) {
	events := []json.RawMessage{json.RawMessage(`"free text note"`)}
	body := decisionBody(events, decisionlog.Filter{}, false)
	if !strings.Contains(body, "[no timestamp]") || !strings.Contains(body, "free text note") {
		t.Fatalf("raw entry render:\n%s", body)
	}
}

func TestDecisionLineForms(t *testing.T) {
	full := decisionlog.Entry{
		TimestampText: "3.5",
		Node:          "planner",
		Decision:      "join users",
		Reason:        "fk present",
		Severity:      "info",
	}
	if got := decisionLine(full); got != "[3.5] planner: join users (fk present) [info]" {
		t.Errorf("full entry: %q", got)
	}

	bare := decisionlog.Entry{
		TimestampText: decisionlog.NoTimestamp,
		Decision:      decisionlog.NoDecision,
	}
	if got := decisionLine(bare); got != "[no timestamp] (no decision recorded)" {
		t.Errorf("bare entry: %q", got)
	}

	raw := decisionlog.Entry{TimestampText: decisionlog.NoTimestamp, Raw: "blob"}
	if got := decisionLine(raw); got != "[no timestamp] blob" {
		t.Errorf("raw entry: %q", got)
	}
}

func TestDecisionStatus(t *testing.T) {
	if got := decisionStatus(4, decisionlog.Filter{}, false); got != "4 events" {
		t.Errorf("plain status: %q", got)
	}
	got := decisionStatus(4, decisionlog.Filter{Node: "router", Search: " join "}, true)
	if got != "4 events  node=router  search=join  all" {
		t.Errorf("full status: %q", got)
	}
}
