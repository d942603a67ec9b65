package tui

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/kotae-ai/kotae/internal/model"
)

func TestTranscriptMarkdownEmpty(t *testing.T) {
	got := transcriptMarkdown(nil, nil)
	if !strings.Contains(got, "Ask a question to get started") {
		t.Fatalf("placeholder missing: %q", got)
	}
}

func TestTranscriptMarkdownConversation(t *testing.T) {
	msgs := []model.Message{
		model.NewUserMessage("how many signups last week?"),
		{
			Role: model.RoleAssistant,
			Text: "There were 42 signups.",
			SQL:  "SELECT count(*) FROM signups",
		},
	}
	got := transcriptMarkdown(msgs, nil)
	for _, want := range []string{
		"#### You",
		"how many signups last week?",
		"#### Agent",
		"There were 42 signups.",
		"```sql",
		"SELECT count(*) FROM signups",
		"\n---\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("transcript missing %q:\n%s", want, got)
		}
	}
}

func TestTranscriptMarkdownPreviewHint(t *testing.T) {
	msgs := []model.Message{{
		Role:   model.RoleAssistant,
		SQL:    "SELECT 1",
		Origin: &model.Origin{Mode: model.RunModePreview},
	}}
	got := transcriptMarkdown(msgs, nil)
	if !strings.Contains(got, "Previewed SQL. Press e to edit, x to execute.") {
		t.Fatalf("preview hint missing:\n%s", got)
	}
}

func TestTranscriptMarkdownAppendsErrorCard(t *testing.T) {
	msgs := []model.Message{model.NewUserMessage("q")}
	card := &model.ErrorCard{Category: "quota_exceeded", Message: "daily budget spent"}
	got := transcriptMarkdown(msgs, card)
	if !strings.Contains(got, "> **quota exceeded**: daily budget spent") {
		t.Fatalf("error card missing or category not humanized:\n%s", got)
	}
	if strings.Index(got, "#### You") > strings.Index(got, "quota exceeded") {
		t.Fatalf("error card should follow the messages:\n%s", got)
	}
}

func TestTranscriptMarkdownDecisionAndVizNotes(t *testing.T) {
	msgs := []model.Message{{
		Role:           model.RoleAssistant,
		Text:           "done",
		DecisionEvents: []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{}`)},
		VizSpec:        json.RawMessage(`{"mark":"bar"}`),
	}}
	got := transcriptMarkdown(msgs, nil)
	if !strings.Contains(got, "2 decision events recorded. Press d to inspect.") {
		t.Errorf("decision note missing:\n%s", got)
	}
	if !strings.Contains(got, "A chart spec is attached") {
		t.Errorf("viz note missing:\n%s", got)
	}
}

func TestTranscriptMarkdownEmptyResultGuidance(t *testing.T) {
	msgs := []model.Message{{
		Role:                model.RoleAssistant,
		Text:                "No matching rows.",
		Result:              &model.QueryResult{},
		EmptyResultGuidance: "Try widening the date range.",
	}}
	got := transcriptMarkdown(msgs, nil)
	if !strings.Contains(got, "_Try widening the date range._") {
		t.Fatalf("guidance missing:\n%s", got)
	}

	msgs[0].Result = &model.QueryResult{Rows: []model.Row{{"id": 1}}}
	got = transcriptMarkdown(msgs, nil)
	if strings.Contains(got, "widening the date range") {
		t.Fatalf("guidance should be suppressed when rows exist:\n%s", got)
	}
}

// ---- result tables --------------------------------------------------------

func TestResultTable(t *testing.T) {
	result := &model.QueryResult{Rows: []model.Row{
		{"name": "ada", "id": 1},
		{"name": "bob", "id": 2},
	}}
	got := resultTable(result)
	wantLines := []string{
		"| id | name |",
		"| --- | --- |",
		"| 1 | ada |",
		"| 2 | bob |",
	}
	for _, want := range wantLines {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "| 1 |") > strings.Index(got, "| 2 |") {
		t.Errorf("row order not preserved:\n%s", got)
	}
}

func TestResultTableScalar(t *testing.T) {
	got := resultTable(&model.QueryResult{Scalar: float64(42)})
	if !strings.Contains(got, "Result: `42`") {
		t.Fatalf("scalar render mismatch: %q", got)
	}
	if resultTable(nil) != "" {
		t.Fatal("nil result should render nothing")
	}
	if resultTable(&model.QueryResult{}) != "" {
		t.Fatal("empty result should render nothing")
	}
}

func TestCellText(t *testing.T) {
	if got := cellText(nil); got != "" {
		t.Errorf("nil cell: %q", got)
	}
	if got := cellText("a|b"); got != `a\|b` {
		t.Errorf("pipe escaping: %q", got)
	}
	if got := cellText("line1\nline2"); got != "line1 line2" {
		t.Errorf("newline flattening: %q", got)
	}
	long := strings.Repeat("x", maxCellWidth+10)
	if got := cellText(long); len(got) != maxCellWidth || !strings.HasSuffix(got, "...") {
		t.Errorf("long cell not shortened: %q", got)
	}
}

// ---- completeness ---------------------------------------------------------

func TestCompletenessLine(t *testing.T) {
	cases := []struct {
		name string
		cc   *model.ResultCompleteness
		want string
	}{
		{"nil", nil, ""},
		{"complete", &model.ResultCompleteness{RowsReturned: 3}, ""},
		{
			"schema mismatch",
			&model.ResultCompleteness{RowsReturned: 10, SchemaMismatch: true},
			"Showing 10 rows. Pagination stopped: result columns changed between pages.",
		},
		{
			"token expired",
			&model.ResultCompleteness{RowsReturned: 10, TokenExpired: true},
			"Showing 10 rows. The continuation token expired; re-run the question for fresh pages.",
		},
		{
			"has more",
			&model.ResultCompleteness{RowsReturned: 50, NextPageToken: "t1"},
			"Showing 50 rows. More available: press l to load the next page.",
		},
		{
			"limited with reason",
			&model.ResultCompleteness{RowsReturned: 100, IsLimited: true, StoppedReason: "guardrail row cap"},
			"Showing 100 rows (row limit applied). Stopped: guardrail row cap.",
		},
		{
			"truncated",
			&model.ResultCompleteness{RowsReturned: 100, IsTruncated: true},
			"Showing 100 rows (result truncated).",
		},
	}
	for _, tc := range cases {
		if got := completenessLine(tc.cc); got != tc.want {
			t.Errorf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestCacheBadge(t *testing.T) {
	if got := cacheBadge(model.Message{}); got != "" {
		t.Errorf("uncached badge: %q", got)
	}
	if got := cacheBadge(model.Message{FromCache: true}); got != "  `cached`" {
		t.Errorf("plain cached badge: %q", got)
	}
	got := cacheBadge(model.Message{FromCache: true, CacheSimilarity: 0.97})
	if got != "  `cached 97% match`" {
		t.Errorf("similarity badge: %q", got)
	}
}

// ---- error cards ----------------------------------------------------------

func TestErrorCardMarkdown(t *testing.T) {
	card := &model.ErrorCard{
		Category:          model.ErrCategoryResourceExhausted,
		Message:           "too many requests",
		Hint:              "The agent is rate limiting this tenant.",
		Retryable:         true,
		RetryAfterSeconds: 30,
		Actions:           []model.ErrorAction{{Label: "Status page", URL: "https://status.example.com"}},
		RequestID:         "req-9",
	}
	got := errorCardMarkdown(card)
	for _, want := range []string{
		"too many requests",
		"The agent is rate limiting this tenant.",
		"Retryable: wait 30s, then press r.",
		"- [Status page](https://status.example.com)",
		"request id: `req-9`",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("card missing %q:\n%s", want, got)
		}
	}

	card.RetryAfterSeconds = 0
	got = errorCardMarkdown(card)
	if !strings.Contains(got, "Retryable: press r to retry.") {
		t.Errorf("retry line without delay missing:\n%s", got)
	}
}

// ---- phase line -----------------------------------------------------------

func TestPhaseLineIdle(t *testing.T) {
	got := phaseLine(model.PhaseProgress{})
	want := "router  plan  execute  synthesize  visualize"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPhaseLineInProgress(t *testing.T) {
	p := model.PhaseProgress{
		Current:   model.PhaseExecute,
		Completed: []string{model.PhaseRouter, model.PhasePlan},
	}
	got := phaseLine(p)
	want := "✓router  ✓plan  ▸execute  synthesize  visualize"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPhaseLineCorrectionLoop(t *testing.T) {
	p := model.PhaseProgress{
		Current:            model.PhaseCorrect,
		Completed:          []string{model.PhaseRouter, model.PhasePlan, model.PhaseExecute},
		CorrectionAttempts: 1,
	}
	got := phaseLine(p)
	want := "✓router  ✓plan  ✓execute  synthesize  visualize  [correct]  (1 correction)"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}

	p.CorrectionAttempts = 3
	if got := phaseLine(p); !strings.HasSuffix(got, "(3 corrections)") {
		t.Fatalf("plural corrections: %q", got)
	}
}

func TestShorten(t *testing.T) {
	if got := shorten("  hi  ", 10); got != "hi" {
		t.Errorf("trim: %q", got)
	}
	if got := shorten(strings.Repeat("a", 50), 10); got != "aaaaaaa..." {
		t.Errorf("truncate: %q", got)
	}
	if got := shorten("abcdef", 3); got != "abc" {
		t.Errorf("tiny limit: %q", got)
	}
}
