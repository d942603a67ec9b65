package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// QueryResult holds the structured payload of an assistant answer:
// tabular rows, or a single scalar for aggregate-style answers.
type QueryResult struct {
	Rows   []Row `json:"rows,omitempty"`
	Scalar any   `json:"scalar,omitempty"`
}

// RowCount returns the number of tabular rows, zero for scalar results.
func (q *QueryResult) RowCount() int {
	if q == nil {
		return 0
	}
	return len(q.Rows)
}

// ParseResultData decodes the result payload of an AgentResult. The
// server sends either a JSON array of row objects, a {"rows": [...]}
// wrapper, or a bare scalar.
func ParseResultData(raw json.RawMessage) (*QueryResult, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var rows []Row
	if err := json.Unmarshal(raw, &rows); err == nil {
		return &QueryResult{Rows: rows}, nil
	}
	var wrapped struct {
		Rows []Row `json:"rows"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Rows != nil {
		return &QueryResult{Rows: wrapped.Rows}, nil
	}
	var scalar any
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return nil, err
	}
	return &QueryResult{Scalar: scalar}, nil
}

// ResultCompleteness describes how much of the full result set a message
// currently holds and whether more can be fetched.
//
// Invariant: once TokenExpired or SchemaMismatch is set, NextPageToken is
// cleared and must never be reused.
type ResultCompleteness struct {
	RowsReturned   int    `json:"rows_returned"`
	NextPageToken  string `json:"next_page_token,omitempty"`
	IsTruncated    bool   `json:"is_truncated,omitempty"`
	IsLimited      bool   `json:"is_limited,omitempty"`
	TokenExpired   bool   `json:"token_expired,omitempty"`
	SchemaMismatch bool   `json:"schema_mismatch,omitempty"`

	// Auto-pagination bookkeeping reported by the server.
	PagesFetched  int    `json:"pages_fetched,omitempty"`
	StoppedReason string `json:"stopped_reason,omitempty"`
	PrefetchPages int    `json:"prefetch_pages,omitempty"`
	PrefetchRows  int    `json:"prefetch_rows,omitempty"`
}

// HasMore reports whether a further page can be requested.
func (c *ResultCompleteness) HasMore() bool {
	return c != nil && c.NextPageToken != "" && !c.TokenExpired && !c.SchemaMismatch
}

// ExpireToken records a token-related continuation failure. The token is
// cleared so it can never be replayed.
func (c *ResultCompleteness) ExpireToken() {
	c.NextPageToken = ""
	c.TokenExpired = true
}

// MarkSchemaMismatch terminates pagination after a column-shape change.
func (c *ResultCompleteness) MarkSchemaMismatch() {
	c.NextPageToken = ""
	c.SchemaMismatch = true
}

// MergeServer folds a continuation page's completeness into the local
// state. The incoming token always wins (an absent token means the
// result set is exhausted), local terminal flags stick, and bookkeeping
// fields are carried forward rather than dropped when the server stops
// sending them.
func (c *ResultCompleteness) MergeServer(in *ResultCompleteness) {
	if in == nil {
		c.NextPageToken = ""
		return
	}
	c.NextPageToken = in.NextPageToken
	c.IsTruncated = in.IsTruncated
	c.IsLimited = in.IsLimited
	if in.TokenExpired {
		c.TokenExpired = true
	}
	if in.SchemaMismatch {
		c.SchemaMismatch = true
	}
	if in.PagesFetched != 0 {
		c.PagesFetched = in.PagesFetched
	}
	if in.StoppedReason != "" {
		c.StoppedReason = in.StoppedReason
	}
	if in.PrefetchPages != 0 {
		c.PrefetchPages = in.PrefetchPages
	}
	if in.PrefetchRows != 0 {
		c.PrefetchRows = in.PrefetchRows
	}
	if c.TokenExpired || c.SchemaMismatch {
		c.NextPageToken = ""
	}
}

// Origin records how an assistant message was produced so pagination can
// replay the originating request with a continuation token.
type Origin struct {
	Mode    RunMode      `json:"mode"`
	Request AgentRequest `json:"request"`
}

// Message is one entry in the conversation transcript. User messages
// carry only Text; assistant messages carry the full answer envelope.
type Message struct {
	ID     uuid.UUID    `json:"id"`
	Role   Role         `json:"role"`
	Text   string       `json:"text,omitempty"`
	SQL    string       `json:"sql,omitempty"`
	Result *QueryResult `json:"result,omitempty"`
	Error  *ErrorCard   `json:"error,omitempty"`

	InteractionID string `json:"interaction_id,omitempty"`
	RequestID     string `json:"request_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
	RunID         string `json:"run_id,omitempty"`

	FromCache       bool    `json:"from_cache,omitempty"`
	CacheSimilarity float64 `json:"cache_similarity,omitempty"`

	VizSpec             json.RawMessage     `json:"viz_spec,omitempty"`
	Completeness        *ResultCompleteness `json:"completeness,omitempty"`
	RetrySummary        json.RawMessage     `json:"retry_summary,omitempty"`
	ValidationSummary   json.RawMessage     `json:"validation_summary,omitempty"`
	ValidationReport    json.RawMessage     `json:"validation_report,omitempty"`
	DecisionEvents      []json.RawMessage   `json:"decision_events,omitempty"`
	EmptyResultGuidance string              `json:"empty_result_guidance,omitempty"`

	Origin    *Origin   `json:"origin,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage builds a transcript entry for operator input.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.New(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistantMessage builds a transcript entry from a terminal agent
// result. Result decoding failures degrade to a text-only message rather
// than dropping the answer.
func NewAssistantMessage(res *AgentResult, origin *Origin) Message {
	msg := Message{
		ID:                  uuid.New(),
		Role:                RoleAssistant,
		Text:                res.Response,
		SQL:                 res.GeneratedSQL(),
		InteractionID:       res.InteractionID,
		RequestID:           res.RequestID,
		TraceID:             res.TraceID,
		RunID:               res.RunID,
		FromCache:           res.FromCache,
		CacheSimilarity:     res.CacheSimilarity,
		VizSpec:             res.VizSpec,
		RetrySummary:        res.RetrySummary,
		ValidationSummary:   res.ValidationSummary,
		ValidationReport:    res.ValidationReport,
		DecisionEvents:      res.DecisionEvents,
		EmptyResultGuidance: res.EmptyResultGuidance,
		Origin:              origin,
		CreatedAt:           time.Now().UTC(),
	}
	if qr, err := ParseResultData(res.ResultData()); err == nil && qr != nil {
		msg.Result = qr
	}
	if res.Completeness != nil {
		cc := *res.Completeness
		if cc.RowsReturned == 0 {
			cc.RowsReturned = msg.Result.RowCount()
		}
		if cc.TokenExpired || cc.SchemaMismatch {
			cc.NextPageToken = ""
		}
		msg.Completeness = &cc
	}
	return msg
}
