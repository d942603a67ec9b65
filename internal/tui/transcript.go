package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kotae-ai/kotae/internal/model"
)

const maxCellWidth = 48

// transcriptMarkdown renders the conversation as markdown, ready for
// glamour. The error card, when present, appears after the last message.
func transcriptMarkdown(msgs []model.Message, card *model.ErrorCard) string {
	if len(msgs) == 0 && card == nil {
		return "_Ask a question to get started._"
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		writeMessage(&b, msg)
	}
	if card != nil {
		if len(msgs) > 0 {
			b.WriteString("\n---\n\n")
		}
		b.WriteString(errorCardMarkdown(card))
	}
	return b.String()
}

func writeMessage(b *strings.Builder, msg model.Message) {
	if msg.Role == model.RoleUser {
		b.WriteString("#### You\n\n")
		b.WriteString(msg.Text)
		b.WriteString("\n")
		return
	}

	b.WriteString("#### Agent")
	b.WriteString(cacheBadge(msg))
	b.WriteString("\n\n")

	if msg.Text != "" {
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}
	if msg.SQL != "" {
		b.WriteString("\n```sql\n")
		b.WriteString(msg.SQL)
		b.WriteString("\n```\n")
	}
	if msg.Origin != nil && msg.Origin.Mode == model.RunModePreview {
		b.WriteString("\n_Previewed SQL. Press e to edit, x to execute._\n")
	}

	if table := resultTable(msg.Result); table != "" {
		b.WriteString("\n")
		b.WriteString(table)
	}
	if msg.EmptyResultGuidance != "" && rowCount(msg.Result) == 0 && msg.Result != nil {
		b.WriteString("\n_")
		b.WriteString(msg.EmptyResultGuidance)
		b.WriteString("_\n")
	}
	if line := completenessLine(msg.Completeness); line != "" {
		b.WriteString("\n_")
		b.WriteString(line)
		b.WriteString("_\n")
	}
	if len(msg.DecisionEvents) > 0 {
		fmt.Fprintf(b, "\n_%d decision events recorded. Press d to inspect._\n", len(msg.DecisionEvents))
	}
	if len(msg.VizSpec) > 0 {
		b.WriteString("\n_A chart spec is attached (not rendered here)._\n")
	}
}

func rowCount(result *model.QueryResult) int {
	if result == nil {
		return 0
	}
	return len(result.Rows)
}

// resultTable renders rows as a markdown table with stable column order.
// Scalar results render as a single line.
func resultTable(result *model.QueryResult) string {
	if result == nil {
		return ""
	}
	if len(result.Rows) == 0 {
		if result.Scalar != nil {
			return fmt.Sprintf("Result: `%v`\n", result.Scalar)
		}
		return ""
	}

	cols := columnsOf(result.Rows[0])
	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(cols, " | "))
	b.WriteString(" |\n|")
	b.WriteString(strings.Repeat(" --- |", len(cols)))
	b.WriteString("\n")
	for _, row := range result.Rows {
		cells := make([]string, 0, len(cols))
		for _, c := range cols {
			cells = append(cells, cellText(row[c]))
		}
		b.WriteString("| ")
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString(" |\n")
	}
	return b.String()
}

func columnsOf(row model.Row) []string {
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func cellText(v any) string {
	if v == nil {
		return ""
	}
	s := fmt.Sprintf("%v", v)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return shorten(s, maxCellWidth)
}

// completenessLine explains the pagination state of a result set.
func completenessLine(cc *model.ResultCompleteness) string {
	if cc == nil {
		return ""
	}
	switch {
	case cc.SchemaMismatch:
		return fmt.Sprintf("Showing %d rows. Pagination stopped: result columns changed between pages.", cc.RowsReturned)
	case cc.TokenExpired:
		return fmt.Sprintf("Showing %d rows. The continuation token expired; re-run the question for fresh pages.", cc.RowsReturned)
	case cc.HasMore():
		return fmt.Sprintf("Showing %d rows. More available: press l to load the next page.", cc.RowsReturned)
	case cc.IsLimited:
		return withStoppedReason(fmt.Sprintf("Showing %d rows (row limit applied).", cc.RowsReturned), cc.StoppedReason)
	case cc.IsTruncated:
		return withStoppedReason(fmt.Sprintf("Showing %d rows (result truncated).", cc.RowsReturned), cc.StoppedReason)
	}
	return ""
}

func withStoppedReason(line, reason string) string {
	if reason == "" {
		return line
	}
	return line + " Stopped: " + reason + "."
}

func cacheBadge(msg model.Message) string {
	if !msg.FromCache {
		return ""
	}
	if msg.CacheSimilarity > 0 {
		return fmt.Sprintf("  `cached %.0f%% match`", msg.CacheSimilarity*100)
	}
	return "  `cached`"
}

func errorCardMarkdown(card *model.ErrorCard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "> **%s**: %s\n", strings.ReplaceAll(card.Category, "_", " "), card.Message)
	if card.Hint != "" {
		b.WriteString(">\n> ")
		b.WriteString(card.Hint)
		b.WriteString("\n")
	}
	if card.Retryable {
		if card.RetryAfterSeconds > 0 {
			fmt.Fprintf(&b, ">\n> Retryable: wait %ds, then press r.\n", card.RetryAfterSeconds)
		} else {
			b.WriteString(">\n> Retryable: press r to retry.\n")
		}
	}
	for _, a := range card.Actions {
		fmt.Fprintf(&b, ">\n> - [%s](%s)\n", a.Label, a.URL)
	}
	if card.RequestID != "" {
		fmt.Fprintf(&b, ">\n> request id: `%s`\n", card.RequestID)
	}
	return b.String()
}

// phaseLine renders run progress as a single line: completed phases get a
// check, the current one a pointer, non-canonical phases show in brackets
// after the pipeline.
func phaseLine(p model.PhaseProgress) string {
	completed := make(map[string]bool, len(p.Completed))
	for _, name := range p.Completed {
		completed[name] = true
	}

	parts := make([]string, 0, len(canonicalDisplay))
	for _, name := range canonicalDisplay {
		switch {
		case name == p.Current:
			parts = append(parts, "▸"+name)
		case completed[name]:
			parts = append(parts, "✓"+name)
		default:
			parts = append(parts, name)
		}
	}
	line := strings.Join(parts, "  ")

	if p.Current != "" && !model.IsCanonicalPhase(p.Current) {
		line += "  [" + p.Current + "]"
	}
	if p.CorrectionAttempts == 1 {
		line += "  (1 correction)"
	} else if p.CorrectionAttempts > 1 {
		line += fmt.Sprintf("  (%d corrections)", p.CorrectionAttempts)
	}
	return line
}

var canonicalDisplay = model.CanonicalPhases()

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
