// Package kotae is the public API for embedding the kotae operator console.
//
// Consumers import this package to run the console, submit headless
// questions, and observe settled runs without forking the repo:
//
//	app, err := kotae.New(
//	    kotae.WithVersion(version),
//	    kotae.WithLogger(logger),
//	    kotae.WithRunHook(myAuditHook{}),
//	)
//	if err != nil { ... }
//	defer app.Close()
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kotae (root) imports
// internal/*, but internal/* never imports kotae (root). Public types
// (RunRecord, Answer, RunError) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file
// that sees both sides of the boundary.
package kotae

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/kotae-ai/kotae/internal/agent"
	"github.com/kotae-ai/kotae/internal/config"
	"github.com/kotae-ai/kotae/internal/errclass"
	"github.com/kotae-ai/kotae/internal/history"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/run"
	"github.com/kotae-ai/kotae/internal/telemetry"
	"github.com/kotae-ai/kotae/internal/tui"
)

// App is the console lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	client       *agent.Client
	hub          *run.Hub
	orch         *run.Orchestrator
	store        *history.Store // nil when history is disabled
	hooks        []RunHook
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the console. It loads configuration, sets up telemetry,
// opens the local history store, and wires the run orchestrator. It does
// NOT start any goroutines or open the terminal UI; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.agentURL != "" {
		cfg.AgentURL = o.agentURL
	}
	if o.tenantID != "" {
		cfg.TenantID = o.tenantID
	}
	if o.apiKey != "" {
		cfg.APIKey = o.apiKey
	}
	if o.historyPath != "" {
		cfg.HistoryPath = o.historyPath
	}
	if o.requestTimeout > 0 {
		cfg.RequestTimeout = o.requestTimeout
	}
	if o.streamTimeout > 0 {
		cfg.StreamTimeout = o.streamTimeout
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kotae starting", "version", version, "agent", cfg.AgentURL, "tenant", cfg.TenantID)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	client, err := agent.NewClient(agent.Config{
		BaseURL:  cfg.AgentURL,
		TenantID: cfg.TenantID,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.RequestTimeout,
	})
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, err
	}

	var store *history.Store
	if !o.noHistory {
		path := cfg.HistoryPath
		if path == "" {
			path, err = history.DefaultPath()
			if err != nil {
				_ = otelShutdown(context.Background())
				return nil, err
			}
		}
		store, err = history.Open(path)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, err
		}
	}

	hub := run.NewHub()
	orch := run.New(client, hub, logger, run.Options{StreamTimeout: cfg.StreamTimeout})

	return &App{
		cfg:          cfg,
		client:       client,
		hub:          hub,
		orch:         orch,
		store:        store,
		hooks:        o.runHooks,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run opens the terminal UI and blocks until the operator quits or ctx is
// canceled. History recording and run hooks are active for the duration.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var recorderCh chan run.Update
	var recorderDone chan struct{}
	if a.store != nil {
		rec := history.NewRecorder(a.store, a.logger)
		recorderCh = a.hub.Subscribe()
		recorderDone = make(chan struct{})
		go func() {
			defer close(recorderDone)
			rec.Run(ctx, recorderCh)
		}()
	}

	var hooksCh chan run.Update
	var hooksDone chan struct{}
	if len(a.hooks) > 0 {
		hooksCh = a.hub.Subscribe()
		hooksDone = make(chan struct{})
		go func() {
			defer close(hooksDone)
			a.dispatchHooks(ctx, hooksCh)
		}()
	}

	uiCh := a.hub.Subscribe()
	defer a.hub.Unsubscribe(uiCh)

	p := tea.NewProgram(tui.New(a.orch, uiCh, a.cfg.TenantID),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()

	a.orch.Cancel()
	if recorderCh != nil {
		a.hub.Unsubscribe(recorderCh)
		<-recorderDone
	}
	if hooksCh != nil {
		a.hub.Unsubscribe(hooksCh)
		<-hooksDone
	}
	return err
}

// Ask submits one question headlessly with a single blocking call and
// returns the answer. It does not open the console, record history, or
// fire hooks. Failed calls return a *RunError.
func (a *App) Ask(ctx context.Context, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, &RunError{Category: "unsupported", Message: "question is empty"}
	}
	res, err := a.client.Run(ctx, model.AgentRequest{
		Question: question,
		ThreadID: uuid.NewString(),
	})
	if err != nil {
		return Answer{}, toRunError(errclass.Classify(err))
	}
	return toAnswer(res), nil
}

// Preview generates SQL for a question without executing it.
func (a *App) Preview(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", &RunError{Category: "unsupported", Message: "question is empty"}
	}
	res, err := a.client.GenerateSQL(ctx, model.AgentRequest{
		Question: question,
		ThreadID: uuid.NewString(),
	})
	if err != nil {
		return "", toRunError(errclass.Classify(err))
	}
	return res.GeneratedSQL(), nil
}

// History returns up to limit recorded runs, newest first. Returns nil
// when history is disabled.
func (a *App) History(ctx context.Context, limit int) ([]RunRecord, error) {
	if a.store == nil {
		return nil, nil
	}
	entries, err := a.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	records := make([]RunRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, toRunRecord(e, e.CreatedAt))
	}
	return records, nil
}

// Close releases the history store and flushes telemetry. Call after Run
// returns (or instead of Run for headless use).
func (a *App) Close() error {
	var firstErr error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.otelShutdown(context.Background()); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// dispatchHooks watches status updates and delivers one RunRecord per
// settled run, edge-triggered the same way the history recorder is.
func (a *App) dispatchHooks(ctx context.Context, updates <-chan run.Update) {
	prev := model.RunStatusIdle
	var started time.Time

	for u := range updates {
		if u.Kind != run.UpdateStatus {
			continue
		}
		status := u.Snapshot.Status
		if status == model.RunStatusStreaming && prev != model.RunStatusStreaming {
			started = time.Now()
		}
		settled := status.Terminal() && prev != status
		prev = status
		if !settled {
			continue
		}

		entry := history.EntryFromSnapshot(u.Snapshot)
		if !started.IsZero() {
			entry.Duration = time.Since(started)
		}
		record := toRunRecord(entry, time.Now().UTC())
		for _, hook := range a.hooks {
			if err := hook.OnRunSettled(ctx, record); err != nil {
				a.logger.Warn("run hook failed", "error", err)
			}
		}
	}
}

func toRunRecord(e history.Entry, settledAt time.Time) RunRecord {
	return RunRecord{
		Question:      e.Question,
		Status:        RunStatus(e.Status),
		Response:      e.Response,
		SQL:           e.SQL,
		ErrorCategory: e.ErrorCategory,
		RequestID:     e.RequestID,
		TraceID:       e.TraceID,
		FromCache:     e.FromCache,
		RowCount:      e.RowCount,
		Duration:      e.Duration,
		SettledAt:     settledAt,
	}
}

func toAnswer(res *model.AgentResult) Answer {
	ans := Answer{
		Response:  res.Response,
		SQL:       res.GeneratedSQL(),
		FromCache: res.FromCache,
		RequestID: res.RequestID,
		TraceID:   res.TraceID,
	}
	if qr, err := model.ParseResultData(res.ResultData()); err == nil && qr != nil {
		for _, row := range qr.Rows {
			ans.Rows = append(ans.Rows, map[string]any(row))
		}
		ans.Scalar = qr.Scalar
		ans.RowCount = len(qr.Rows)
	}
	if cc := res.Completeness; cc != nil {
		ans.HasMore = cc.HasMore()
	}
	return ans
}

func toRunError(card model.ErrorCard) *RunError {
	return &RunError{
		Category:          card.Category,
		Message:           card.Message,
		Hint:              card.Hint,
		Retryable:         card.Retryable,
		RetryAfterSeconds: card.RetryAfterSeconds,
		RequestID:         card.RequestID,
	}
}
