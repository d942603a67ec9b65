// Package run drives the lifecycle of agent runs for the console: stream
// consumption with bounded per-event waits, monotonic phase progress,
// fallback to a blocking call when streaming fails, supersede-on-resubmit
// cancellation, and paginated result continuation.
package run

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kotae-ai/kotae/internal/agent"
	"github.com/kotae-ai/kotae/internal/errclass"
	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/telemetry"
)

// DefaultStreamTimeout is the per-event wait before a stream is declared
// stalled and the blocking fallback takes over.
const DefaultStreamTimeout = 30 * time.Second

var tracer = otel.Tracer("kotae/run")

var (
	// ErrEmptyQuestion rejects blank submissions before any network call.
	ErrEmptyQuestion = errors.New("kotae: question is empty")

	// ErrPaginationBusy rejects a continuation while another is in flight.
	ErrPaginationBusy = errors.New("kotae: a pagination request is already in flight")

	// ErrNoMorePages rejects continuation of an exhausted or terminated
	// result set.
	ErrNoMorePages = errors.New("kotae: no further pages available")

	// ErrMessageNotFound reports a stale message reference.
	ErrMessageNotFound = errors.New("kotae: message not found")

	// ErrNotPreviewed rejects SQL execution against a message that does
	// not carry previewed SQL.
	ErrNotPreviewed = errors.New("kotae: message has no previewed SQL")
)

// Agent is the slice of the agent service client the orchestrator uses.
// *agent.Client satisfies it.
type Agent interface {
	Run(ctx context.Context, req model.AgentRequest) (*model.AgentResult, error)
	RunStream(ctx context.Context, req model.AgentRequest) (<-chan agent.StreamEvent, <-chan error, error)
	GenerateSQL(ctx context.Context, req model.AgentRequest) (*model.AgentResult, error)
	ExecuteSQL(ctx context.Context, req model.AgentRequest) (*model.AgentResult, error)
}

// Options tune orchestrator behavior.
type Options struct {
	// StreamTimeout is the per-event wait window. Defaults to
	// DefaultStreamTimeout.
	StreamTimeout time.Duration

	// ThreadID resumes an existing conversation thread. A fresh thread id
	// is generated when empty.
	ThreadID string
}

// Snapshot is a self-consistent copy of orchestrator state. Message
// payloads (results, completeness, error cards) are replaced rather than
// mutated in place, so holding a snapshot across later updates is safe.
type Snapshot struct {
	Status          model.RunStatus
	Phase           model.PhaseProgress
	Messages        []model.Message
	Error           *model.ErrorCard
	ThreadID        string
	LastQuestion    string
	PagingMessageID uuid.UUID
}

// Orchestrator owns the conversation state of one console session. All
// exported methods are safe for concurrent use; state changes are
// published to the hub as they happen.
type Orchestrator struct {
	api     Agent
	hub     *Hub
	logger  *slog.Logger
	timeout time.Duration

	runsTotal    metric.Int64Counter
	fallbacks    metric.Int64Counter
	streamEvents metric.Int64Counter
	runDuration  metric.Float64Histogram

	mu           sync.Mutex
	status       model.RunStatus
	phase        model.PhaseProgress
	messages     []model.Message
	errorCard    *model.ErrorCard
	threadID     string
	lastQuestion string

	// runSeq identifies the run allowed to mutate state. Every submit
	// and cancel bumps it; settlements from older runs are dropped at
	// each checkpoint.
	runSeq uint64
	cancel context.CancelFunc

	// pagingMsg is the single pagination in-flight guard. uuid.Nil means
	// no continuation is running.
	pagingMsg uuid.UUID
}

// New creates an orchestrator. hub may be nil when no subscriber needs
// push updates (tests, one-shot CLI runs).
func New(api Agent, hub *Hub, logger *slog.Logger, opts Options) *Orchestrator {
	timeout := opts.StreamTimeout
	if timeout <= 0 {
		timeout = DefaultStreamTimeout
	}
	threadID := opts.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	meter := telemetry.Meter("kotae/run")
	runsTotal, _ := meter.Int64Counter("kotae.runs",
		metric.WithDescription("Runs submitted"),
	)
	fallbacks, _ := meter.Int64Counter("kotae.run.fallbacks",
		metric.WithDescription("Stream failures recovered via the blocking call"),
	)
	streamEvents, _ := meter.Int64Counter("kotae.stream.events",
		metric.WithDescription("Stream events consumed"),
	)
	runDuration, _ := meter.Float64Histogram("kotae.run.duration",
		metric.WithDescription("Run wall time from submit to settlement (ms)"),
		metric.WithUnit("ms"),
	)

	return &Orchestrator{
		api:          api,
		hub:          hub,
		logger:       logger,
		timeout:      timeout,
		threadID:     threadID,
		status:       model.RunStatusIdle,
		runsTotal:    runsTotal,
		fallbacks:    fallbacks,
		streamEvents: streamEvents,
		runDuration:  runDuration,
	}
}

// Submit starts a streaming run for a question. Blank questions are
// rejected with ErrEmptyQuestion before any network call or state
// change. An active run is superseded: its cancellation fires first and
// its eventual settlement is discarded.
func (o *Orchestrator) Submit(question string) error {
	req, seq, ctx, err := o.begin(question)
	if err != nil {
		return err
	}
	go o.runStreaming(ctx, seq, req)
	return nil
}

// SubmitPreview asks the agent to generate SQL for a question without
// executing it. The resulting message carries the SQL and can be executed
// later with ExecuteSQL.
func (o *Orchestrator) SubmitPreview(question string) error {
	req, seq, ctx, err := o.begin(question)
	if err != nil {
		return err
	}
	go o.runBlocking(ctx, seq, req, model.RunModePreview)
	return nil
}

// ExecuteSQL runs the (possibly operator-edited) SQL attached to a
// previewed message. The execution joins the originating request's
// thread so downstream attribution and pagination replay line up.
func (o *Orchestrator) ExecuteSQL(messageID uuid.UUID, sql string) error {
	sql = strings.TrimSpace(sql)

	o.mu.Lock()
	msg := o.findMessage(messageID)
	if msg == nil {
		o.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Origin == nil || msg.Origin.Mode != model.RunModePreview {
		o.mu.Unlock()
		return ErrNotPreviewed
	}
	if sql == "" {
		sql = msg.SQL
	}
	if sql == "" {
		o.mu.Unlock()
		return ErrNotPreviewed
	}

	req := msg.Origin.Request
	req.SQL = sql
	req.PageToken = ""

	seq, ctx := o.beginRunLocked()
	o.status = model.RunStatusStreaming
	o.errorCard = nil
	o.phase.Reset()
	o.mu.Unlock()

	o.publish(UpdateStatus)
	go o.runBlocking(ctx, seq, req, model.RunModeExecute)
	return nil
}

// Cancel aborts the active run, if any. The superseded run's settlement
// is discarded at its next checkpoint.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.status.Terminal() || o.status == model.RunStatusIdle {
		o.mu.Unlock()
		return
	}
	o.runSeq++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.status = model.RunStatusCanceled
	o.phase.Reset()
	o.mu.Unlock()

	o.publish(UpdateStatus)
}

// AcknowledgeTerminal moves a settled run back to idle once the UI has
// consumed the terminal state. Phase progress clears; a failure's error
// card stays visible until the next submission.
func (o *Orchestrator) AcknowledgeTerminal() {
	o.mu.Lock()
	if !o.status.Terminal() {
		o.mu.Unlock()
		return
	}
	o.status = model.RunStatusIdle
	o.phase.Reset()
	o.mu.Unlock()

	o.publish(UpdateStatus)
}

// RetryQuestion returns the last submitted question so the input can be
// re-populated for a retry.
func (o *Orchestrator) RetryQuestion() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastQuestion
}

// ClearHistory drops the transcript and starts a fresh thread. An active
// run is canceled first.
func (o *Orchestrator) ClearHistory() {
	o.mu.Lock()
	o.runSeq++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.messages = nil
	o.errorCard = nil
	o.phase.Reset()
	o.status = model.RunStatusIdle
	o.threadID = uuid.NewString()
	o.pagingMsg = uuid.Nil
	o.mu.Unlock()

	o.publish(UpdateMessages)
	o.publish(UpdateStatus)
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	msgs := make([]model.Message, len(o.messages))
	copy(msgs, o.messages)
	return Snapshot{
		Status:          o.status,
		Phase:           o.phase.Clone(),
		Messages:        msgs,
		Error:           o.errorCard,
		ThreadID:        o.threadID,
		LastQuestion:    o.lastQuestion,
		PagingMessageID: o.pagingMsg,
	}
}

// ---------------------------------------------------------------------------
// Run lifecycle
// ---------------------------------------------------------------------------

// begin validates a submission and flips shared state into a new run:
// previous run superseded, error cleared, phase reset, user message
// appended, status streaming.
func (o *Orchestrator) begin(question string) (model.AgentRequest, uint64, context.Context, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return model.AgentRequest{}, 0, nil, ErrEmptyQuestion
	}

	o.mu.Lock()
	seq, ctx := o.beginRunLocked()
	o.errorCard = nil
	o.phase.Reset()
	o.status = model.RunStatusStreaming
	o.messages = append(o.messages, model.NewUserMessage(trimmed))
	o.lastQuestion = trimmed
	req := model.AgentRequest{Question: trimmed, ThreadID: o.threadID}
	o.mu.Unlock()

	o.publish(UpdateMessages)
	o.publish(UpdateStatus)
	return req, seq, ctx, nil
}

// beginRunLocked supersedes any active run and installs a fresh
// cancellation handle. Callers hold o.mu.
func (o *Orchestrator) beginRunLocked() (uint64, context.Context) {
	o.runSeq++
	seq := o.runSeq
	if o.cancel != nil {
		o.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	return seq, ctx
}

// owns reports whether seq is still the active run. Every goroutine
// checks it before mutating shared state, so settlements of superseded
// runs disappear without a trace.
func (o *Orchestrator) owns(seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return seq == o.runSeq
}

// runStreaming is the primary lifecycle: consume the SSE stream, and on
// any stream failure fall back to one blocking call with the same
// request.
func (o *Orchestrator) runStreaming(ctx context.Context, seq uint64, req model.AgentRequest) {
	ctx, span := tracer.Start(ctx, "run.streaming", trace.WithAttributes(
		attribute.String("kotae.thread_id", req.ThreadID),
	))
	defer span.End()
	started := time.Now()
	o.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(model.RunModeAuto))))

	res, err := o.streamOnce(ctx, seq, req)
	if err != nil {
		if ctx.Err() != nil || !o.owns(seq) {
			return // Superseded; drop the settlement.
		}

		o.logger.Warn("stream failed, falling back to blocking call",
			"thread_id", req.ThreadID, "error", err)
		o.fallbacks.Add(ctx, 1)
		o.setStatus(seq, model.RunStatusFinalizing)

		res, err = o.api.Run(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.settleFailure(ctx, seq, err)
			o.runDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
			return
		}
	}

	o.settleSuccess(ctx, seq, res, model.RunModeAuto, req)
	o.runDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
}

// runBlocking is the lifecycle for preview and execute runs, which use a
// single blocking call and emit no phase events.
func (o *Orchestrator) runBlocking(ctx context.Context, seq uint64, req model.AgentRequest, mode model.RunMode) {
	ctx, span := tracer.Start(ctx, "run.blocking", trace.WithAttributes(
		attribute.String("kotae.thread_id", req.ThreadID),
		attribute.String("kotae.mode", string(mode)),
	))
	defer span.End()
	started := time.Now()
	o.runsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))

	var res *model.AgentResult
	var err error
	switch mode {
	case model.RunModePreview:
		res, err = o.api.GenerateSQL(ctx, req)
	case model.RunModeExecute:
		res, err = o.api.ExecuteSQL(ctx, req)
	default:
		res, err = o.api.Run(ctx, req)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.settleFailure(ctx, seq, err)
	} else {
		o.settleSuccess(ctx, seq, res, mode, req)
	}
	o.runDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
}

// streamOnce opens the SSE stream and consumes it to a terminal outcome.
func (o *Orchestrator) streamOnce(ctx context.Context, seq uint64, req model.AgentRequest) (*model.AgentResult, error) {
	events, errs, err := o.api.RunStream(ctx, req)
	if err != nil {
		return nil, err
	}

	return consumeStream(ctx, events, errs, o.timeout, func(phase string) {
		o.streamEvents.Add(ctx, 1)
		o.observePhase(seq, phase)
	})
}

// observePhase applies one progress event under the monotonic rule.
func (o *Orchestrator) observePhase(seq uint64, phase string) {
	o.mu.Lock()
	if seq != o.runSeq {
		o.mu.Unlock()
		return
	}
	o.phase.Observe(phase)
	o.mu.Unlock()

	o.publish(UpdatePhase)
}

func (o *Orchestrator) setStatus(seq uint64, status model.RunStatus) {
	o.mu.Lock()
	if seq != o.runSeq {
		o.mu.Unlock()
		return
	}
	o.status = status
	o.mu.Unlock()

	o.publish(UpdateStatus)
}

// settleSuccess appends the assistant message and locks phase progress
// to done. Exactly one settlement lands per submission: stale sequence
// numbers are dropped here.
func (o *Orchestrator) settleSuccess(ctx context.Context, seq uint64, res *model.AgentResult, mode model.RunMode, req model.AgentRequest) {
	origin := &model.Origin{Mode: mode, Request: req}
	msg := model.NewAssistantMessage(res, origin)

	o.mu.Lock()
	if seq != o.runSeq {
		o.mu.Unlock()
		return
	}
	o.phase.Finish()
	o.status = model.RunStatusSucceeded
	o.errorCard = nil
	o.messages = append(o.messages, msg)
	o.cancel = nil
	o.mu.Unlock()

	o.logger.Info("run succeeded",
		"thread_id", req.ThreadID,
		"mode", string(mode),
		"request_id", res.RequestID,
		"from_cache", res.FromCache)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("kotae.request_id", res.RequestID),
		attribute.Bool("kotae.from_cache", res.FromCache),
	)

	o.publish(UpdatePhase)
	o.publish(UpdateMessages)
	o.publish(UpdateStatus)
}

// settleFailure classifies the error into a card and parks the run in
// the failed state. The card stays until the next submission.
func (o *Orchestrator) settleFailure(ctx context.Context, seq uint64, err error) {
	card := errclass.Classify(err)

	o.mu.Lock()
	if seq != o.runSeq {
		o.mu.Unlock()
		return
	}
	o.status = model.RunStatusFailed
	o.errorCard = &card
	o.cancel = nil
	o.mu.Unlock()

	o.logger.Error("run failed",
		"category", card.Category,
		"request_id", card.RequestID,
		"error", err)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("kotae.error_category", card.Category),
	)

	o.publish(UpdateError)
	o.publish(UpdateStatus)
}

func (o *Orchestrator) findMessage(id uuid.UUID) *model.Message {
	for i := range o.messages {
		if o.messages[i].ID == id {
			return &o.messages[i]
		}
	}
	return nil
}

func (o *Orchestrator) publish(kind string) {
	if o.hub == nil {
		return
	}
	o.mu.Lock()
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.hub.Publish(Update{Kind: kind, Snapshot: snap})
}
