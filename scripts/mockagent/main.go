// Command mockagent runs a local stand-in for the kotae agent service.
//
// Usage (run from the repo root):
//
//	go run ./scripts/mockagent [-addr :8000] [-delay 300ms] [-fail category]
//
// Then point the console at it. The defaults line up, so this is enough:
//
//	KOTAE_API_KEY=demo go run ./cmd/kotae
//
// mockagent accepts any tenant/key pair and speaks the wire protocol the
// console client expects:
//
//	POST /v1/auth/token         exchange a tenant/key pair for a signed JWT
//	GET  /v1/agent/run/stream   SSE phase progress followed by a result event
//	POST /v1/agent/run          blocking run; page_token fetches continuations
//	POST /v1/agent/sql/generate SQL preview without execution
//	POST /v1/agent/sql/execute  run operator-edited SQL
//	GET  /v1/models             canned model list for the requested provider
//	GET  /health                unauthenticated liveness report
//
// Answers come from a built-in revenue dataset served three rows per page,
// so streaming, pagination, preview, and decision-log inspection can all be
// tried without a live deployment. Continuation pages repeat the previous
// page's last row, which the console deduplicates. The question text picks
// the answer shape: "count" comes back as a scalar, "chart" attaches a viz
// spec, "empty" returns no rows plus follow-up guidance, and "correct"
// inserts a correction loop into the streamed phases.
//
// -delay spaces out the streamed phases. -fail makes every run raise a
// classified error of the given category instead (for example
// -fail resource_exhausted), so the error card can be exercised.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kotae-ai/kotae/internal/model"
)

const pageSize = 3

const tokenTTL = 15 * time.Minute

const demoSQL = `SELECT region, month, SUM(amount) AS revenue
FROM orders
GROUP BY region, month
ORDER BY month, region`

const demoResponse = "Revenue is trending up month over month. NA is the " +
	"largest region at roughly 60% of the total; EMEA dipped in February " +
	"and recovered in March."

var demoRows = []model.Row{
	{"region": "APAC", "month": "2025-01", "revenue": 291830.25},
	{"region": "EMEA", "month": "2025-01", "revenue": 412000.50},
	{"region": "NA", "month": "2025-01", "revenue": 583200.00},
	{"region": "APAC", "month": "2025-02", "revenue": 310224.00},
	{"region": "EMEA", "month": "2025-02", "revenue": 398410.75},
	{"region": "NA", "month": "2025-02", "revenue": 601950.10},
	{"region": "EMEA", "month": "2025-03", "revenue": 455870.30},
	{"region": "NA", "month": "2025-03", "revenue": 612400.80},
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	delay := flag.Duration("delay", 300*time.Millisecond, "pause between streamed phases")
	fail := flag.String("fail", "", "fail every run with this error category")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		logger.Error("mockagent: generate signing key", "error", err)
		os.Exit(1)
	}

	m := &mockAgent{
		logger: logger,
		delay:  *delay,
		fail:   *fail,
		key:    key,
		seen:   make(map[string]struct{}),
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           m.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("mockagent listening", "addr", *addr, "delay", *delay, "fail", *fail)
	if err := server.ListenAndServe(); err != nil {
		logger.Error("mockagent: serve", "error", err)
		os.Exit(1)
	}
}

// mockAgent holds the canned behavior shared by all handlers. Tokens are
// signed with a random per-process key, so restarting the mock invalidates
// tokens the console may still hold and exercises its re-auth path.
type mockAgent struct {
	logger *slog.Logger
	delay  time.Duration
	fail   string
	key    []byte

	mu   sync.Mutex
	seen map[string]struct{}
}

func (m *mockAgent) routes() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated endpoints.
	mux.HandleFunc("POST /v1/auth/token", m.handleToken)
	mux.HandleFunc("GET /health", m.handleHealth)

	// Everything else requires a bearer token from /v1/auth/token.
	mux.HandleFunc("GET /v1/models", m.auth(m.handleModels))
	mux.HandleFunc("GET /v1/agent/run/stream", m.auth(m.handleRunStream))
	mux.HandleFunc("POST /v1/agent/run", m.auth(m.handleRun))
	mux.HandleFunc("POST /v1/agent/sql/generate", m.auth(m.handleGenerate))
	mux.HandleFunc("POST /v1/agent/sql/execute", m.auth(m.handleExecute))
	return mux
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func (m *mockAgent) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
		APIKey   string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TenantID == "" || req.APIKey == "" {
		writeErr(w, http.StatusBadRequest, model.ErrorDetail{
			Code:    "invalid_request",
			Message: "tenant_id and api_key are required",
		})
		return
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": req.TenantID,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, model.ErrorDetail{
			Code:    "internal",
			Message: "sign token",
		})
		return
	}

	m.logger.Info("issued token", "tenant", req.TenantID, "ttl", tokenTTL)

	// The token response is not wrapped in the data envelope.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// auth verifies the bearer token minted by handleToken.
func (m *mockAgent) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" || raw == r.Header.Get("Authorization") {
			writeErr(w, http.StatusUnauthorized, model.ErrorDetail{
				Code:    "unauthorized",
				Message: "missing bearer token",
			})
			return
		}
		_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return m.key, nil
		}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
		if err != nil {
			writeErr(w, http.StatusUnauthorized, model.ErrorDetail{
				Code:    "unauthorized",
				Message: "invalid or expired bearer token",
			})
			return
		}
		next(w, r)
	}
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func (m *mockAgent) handleRunStream(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if question == "" {
		writeErr(w, http.StatusBadRequest, model.ErrorDetail{
			Code:    "invalid_request",
			Message: "question is required",
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, http.StatusInternalServerError, model.ErrorDetail{
			Code:    "internal",
			Message: "streaming not supported",
		})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Idle SSE connections must outlive the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ctx := r.Context()
	m.logger.Info("stream started", "question", question)

	phases := []string{
		model.PhaseRouter,
		model.PhasePlan,
		model.PhaseExecute,
		model.PhaseSynthesize,
		model.PhaseVisualize,
	}
	if strings.Contains(strings.ToLower(question), "correct") {
		phases = []string{
			model.PhaseRouter,
			model.PhasePlan,
			model.PhaseExecute,
			model.PhaseCorrect,
			model.PhaseExecute,
			model.PhaseSynthesize,
			model.PhaseVisualize,
		}
	}

	if m.fail != "" {
		// Fail partway through so the console shows phases before the card.
		phases = phases[:2]
	}

	for _, phase := range phases {
		if !sleepCtx(ctx, m.delay) {
			return
		}
		if err := writeSSE(w, flusher, "progress", map[string]string{"phase": phase}); err != nil {
			return
		}
	}

	if !sleepCtx(ctx, m.delay) {
		return
	}
	if m.fail != "" {
		detail := failDetail(m.fail)
		_ = writeSSE(w, flusher, "error", detail)
		return
	}

	res := m.answer(model.AgentRequest{Question: question}, 1)
	_ = writeSSE(w, flusher, "result", res)
}

func (m *mockAgent) handleRun(w http.ResponseWriter, r *http.Request) {
	var req model.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeErr(w, http.StatusBadRequest, model.ErrorDetail{
			Code:    "invalid_request",
			Message: "question is required",
		})
		return
	}

	if m.fail != "" {
		detail := failDetail(m.fail)
		writeErr(w, detail.Status, detail)
		return
	}

	page := 1
	if req.PageToken != "" {
		parsed, ok := parsePageToken(req.PageToken)
		if !ok {
			writeErr(w, http.StatusGone, model.ErrorDetail{
				Code:    "token_expired",
				Message: "the continuation token is no longer valid",
				Details: &model.ErrorInfo{ErrorCategory: model.ErrCategoryTokenExpired},
			})
			return
		}
		page = parsed
	}

	m.logger.Info("blocking run", "question", req.Question, "page", page)
	writeData(w, http.StatusOK, m.answer(req, page))
}

func (m *mockAgent) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req model.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		writeErr(w, http.StatusBadRequest, model.ErrorDetail{
			Code:    "invalid_request",
			Message: "question is required",
		})
		return
	}

	m.logger.Info("generate sql", "question", req.Question)
	writeData(w, http.StatusOK, model.AgentResult{
		Response:  "Here is the SQL I would run for that question.",
		SQL:       demoSQL,
		RequestID: uuid.NewString(),
	})
}

func (m *mockAgent) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req model.AgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SQL == "" {
		writeErr(w, http.StatusBadRequest, model.ErrorDetail{
			Code:    "invalid_request",
			Message: "sql is required",
		})
		return
	}

	if strings.Contains(strings.ToLower(req.SQL), "drop ") {
		writeErr(w, http.StatusBadRequest, model.ErrorDetail{
			Code:    "syntax",
			Message: "statement rejected: only read queries are allowed",
			Details: &model.ErrorInfo{ErrorCategory: model.ErrCategorySyntax},
		})
		return
	}

	m.logger.Info("execute sql", "bytes", len(req.SQL))
	res := m.answer(req, 1)
	res.Response = "Ran the provided SQL against the demo dataset."
	res.SQL = req.SQL
	writeData(w, http.StatusOK, res)
}

// answer builds the result for one page of the demo dataset. Page 1
// carries the narrative, SQL, and decision events; continuation pages
// carry only rows.
func (m *mockAgent) answer(req model.AgentRequest, page int) model.AgentResult {
	res := model.AgentResult{
		RequestID:     uuid.NewString(),
		InteractionID: uuid.NewString(),
		TraceID:       strings.ReplaceAll(uuid.NewString(), "-", ""),
		RunID:         uuid.NewString(),
	}

	question := strings.ToLower(req.Question)

	if page == 1 {
		res.Response = demoResponse
		res.SQL = demoSQL
		res.DecisionEvents = demoDecisions(time.Now().UTC())
		res.FromCache = m.recordQuestion(question)

		switch {
		case strings.Contains(question, "count") || strings.Contains(question, "how many"):
			res.Response = fmt.Sprintf("There are %d region-month revenue rows in the demo dataset.", len(demoRows))
			res.Result = mustJSON(len(demoRows))
			res.Completeness = &model.ResultCompleteness{RowsReturned: 0}
			return res
		case strings.Contains(question, "empty"):
			res.Response = "No rows matched that question."
			res.Result = mustJSON([]model.Row{})
			res.EmptyResultGuidance = "Try widening the date range or removing the region filter."
			res.Completeness = &model.ResultCompleteness{RowsReturned: 0}
			return res
		case strings.Contains(question, "chart") || strings.Contains(question, "plot") || strings.Contains(question, "graph"):
			res.VizSpec = mustJSON(map[string]any{
				"mark": "bar",
				"encoding": map[string]any{
					"x": map[string]string{"field": "month"},
					"y": map[string]string{"field": "revenue"},
				},
			})
		}
	}

	start, end := pageWindow(page)
	rows := demoRows[start:end]
	res.Result = mustJSON(rows)

	completeness := &model.ResultCompleteness{
		RowsReturned: len(rows),
		PagesFetched: page,
	}
	if page*pageSize < len(demoRows) {
		completeness.NextPageToken = fmt.Sprintf("page-%d", page+1)
	}
	res.Completeness = completeness
	return res
}

// recordQuestion reports whether the question was asked before, marking
// repeats as cache hits. Execute requests carry no question and are
// never cache hits.
func (m *mockAgent) recordQuestion(question string) bool {
	if question == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[question]; ok {
		return true
	}
	m.seen[question] = struct{}{}
	return false
}

// pageWindow returns the demoRows bounds for a 1-based page. Continuation
// pages start one row early; the console drops the duplicate.
func pageWindow(page int) (int, int) {
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(demoRows) {
		start = len(demoRows)
	}
	if end > len(demoRows) {
		end = len(demoRows)
	}
	if page > 1 && start > 0 {
		start--
	}
	return start, end
}

func parsePageToken(token string) (int, bool) {
	var page int
	if _, err := fmt.Sscanf(token, "page-%d", &page); err != nil || page < 2 {
		return 0, false
	}
	if (page-1)*pageSize >= len(demoRows) {
		return 0, false
	}
	return page, true
}

type decisionEvent struct {
	Node      string `json:"node"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Timestamp string `json:"timestamp"`
}

func demoDecisions(now time.Time) []json.RawMessage {
	events := []decisionEvent{
		{
			Node:      "router",
			Decision:  "analytical question, no clarification needed",
			Timestamp: now.Format(time.RFC3339),
		},
		{
			Node:      "planner",
			Decision:  "aggregate orders by region and month",
			Reason:    "question asks for a revenue breakdown",
			Severity:  "info",
			Timestamp: now.Add(120 * time.Millisecond).Format(time.RFC3339),
		},
		{
			Node:      "executor",
			Decision:  "applied the tenant row cap",
			Reason:    "result sets are limited to 1000 rows",
			Severity:  "warn",
			Timestamp: now.Add(340 * time.Millisecond).Format(time.RFC3339),
		},
	}
	out := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		out = append(out, mustJSON(ev))
	}
	return out
}

// ---------------------------------------------------------------------------
// Models and health
// ---------------------------------------------------------------------------

func (m *mockAgent) handleModels(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		writeErr(w, http.StatusBadRequest, model.ErrorDetail{
			Code:    "invalid_request",
			Message: "provider is required",
		})
		return
	}

	type modelInfo struct {
		ID          string `json:"id"`
		Provider    string `json:"provider"`
		DisplayName string `json:"display_name,omitempty"`
		Default     bool   `json:"default,omitempty"`
	}

	models := []modelInfo{
		{ID: provider + "-large", Provider: provider, DisplayName: "Large", Default: true},
		{ID: provider + "-small", Provider: provider, DisplayName: "Small"},
	}
	if provider == "openai" {
		models = []modelInfo{
			{ID: "gpt-4o", Provider: provider, DisplayName: "GPT-4o", Default: true},
			{ID: "gpt-4o-mini", Provider: provider, DisplayName: "GPT-4o mini"},
			{ID: "o3-mini", Provider: provider, DisplayName: "o3-mini"},
		}
	}

	writeData(w, http.StatusOK, map[string]any{"models": models})
}

func (m *mockAgent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	// The health response is not wrapped in the data envelope.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "mockagent",
	})
}

// ---------------------------------------------------------------------------
// Failure injection
// ---------------------------------------------------------------------------

// failDetail builds the classified error payload for the -fail flag.
// Unknown categories pass through so classifier fallbacks can be tested.
func failDetail(category string) model.ErrorDetail {
	retryable := true
	detail := model.ErrorDetail{
		Status:    http.StatusInternalServerError,
		Code:      category,
		Message:   "injected failure for testing",
		RequestID: uuid.NewString(),
		Details:   &model.ErrorInfo{ErrorCategory: category},
	}

	switch category {
	case model.ErrCategorySchemaDrift:
		detail.Status = http.StatusConflict
		detail.Message = "column orders.amount no longer exists in the warehouse"
		detail.Details.Hint = "Re-ingest the schema, then ask again."
	case model.ErrCategoryAuth:
		detail.Status = http.StatusUnauthorized
		detail.Message = "the warehouse rejected the service credentials"
	case model.ErrCategoryConnectivity:
		detail.Status = http.StatusBadGateway
		detail.Message = "could not reach the warehouse"
		detail.Details.Retryable = &retryable
	case model.ErrCategoryResourceExhausted:
		detail.Status = http.StatusTooManyRequests
		detail.Message = "the tenant query budget is exhausted"
		detail.Details.Retryable = &retryable
		detail.Details.RetryAfterSeconds = 30
	case model.ErrCategorySyntax:
		detail.Status = http.StatusBadRequest
		detail.Message = "generated SQL was rejected by the warehouse"
	case model.ErrCategoryUnsupported:
		detail.Status = http.StatusUnprocessableEntity
		detail.Message = "window functions over arrays are not supported yet"
	case model.ErrCategoryTransient:
		detail.Status = http.StatusServiceUnavailable
		detail.Message = "the agent hit a temporary failure"
		detail.Details.Retryable = &retryable
	case model.ErrCategoryTokenExpired:
		detail.Status = http.StatusGone
		detail.Message = "the continuation token is no longer valid"
	}
	return detail
}

// ---------------------------------------------------------------------------
// Wire helpers
// ---------------------------------------------------------------------------

// writeData writes a response wrapped in the standard {"data": ...} envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// writeErr writes a classified error in the envelope the console parses.
func writeErr(w http.ResponseWriter, status int, detail model.ErrorDetail) {
	detail.Status = status
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": detail})
}

// writeSSE writes one event/data frame and flushes it.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// sleepCtx waits for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
