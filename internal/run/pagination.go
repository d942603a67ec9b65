package run

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kotae-ai/kotae/internal/agent"
	"github.com/kotae-ai/kotae/internal/errclass"
	"github.com/kotae-ai/kotae/internal/model"
)

// LoadMore fetches the next result page for a message and merges it in.
// The continuation replays the message's originating request with the
// stored page token, so thread and tenant attribution stay intact. Only
// one continuation may be in flight at a time; the affected message is
// marked busy via Snapshot.PagingMessageID.
func (o *Orchestrator) LoadMore(messageID uuid.UUID) error {
	o.mu.Lock()
	if o.pagingMsg != uuid.Nil {
		o.mu.Unlock()
		return ErrPaginationBusy
	}
	msg := o.findMessage(messageID)
	if msg == nil {
		o.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Origin == nil || !msg.Completeness.HasMore() {
		o.mu.Unlock()
		return ErrNoMorePages
	}

	req := msg.Origin.Request
	req.PageToken = msg.Completeness.NextPageToken
	mode := msg.Origin.Mode
	o.pagingMsg = messageID
	o.mu.Unlock()

	o.publish(UpdateMessages)
	go o.continuePage(messageID, mode, req)
	return nil
}

// continuePage replays the originating call with the continuation token.
func (o *Orchestrator) continuePage(messageID uuid.UUID, mode model.RunMode, req model.AgentRequest) {
	ctx, span := tracer.Start(context.Background(), "run.paginate", trace.WithAttributes(
		attribute.String("kotae.thread_id", req.ThreadID),
		attribute.String("kotae.mode", string(mode)),
	))
	defer span.End()

	var res *model.AgentResult
	var err error
	switch mode {
	case model.RunModeExecute:
		res, err = o.api.ExecuteSQL(ctx, req)
	default:
		res, err = o.api.Run(ctx, req)
	}
	o.finishPage(ctx, messageID, res, err)
}

// finishPage merges the continuation outcome into the message. Token
// failures and schema drift degrade the message (pagination disabled,
// rows intact) instead of raising an error banner; any other failure
// surfaces through the classifier without touching the message.
func (o *Orchestrator) finishPage(ctx context.Context, messageID uuid.UUID, res *model.AgentResult, err error) {
	o.mu.Lock()
	o.pagingMsg = uuid.Nil

	msg := o.findMessage(messageID)
	if msg == nil {
		// History was cleared while the request was in flight.
		o.mu.Unlock()
		o.publish(UpdateMessages)
		return
	}

	if err != nil {
		if agent.IsTokenFailure(err) {
			cc := completenessCopy(msg)
			cc.ExpireToken()
			msg.Completeness = cc
			o.mu.Unlock()

			o.logger.Warn("pagination token expired", "message_id", messageID)
			o.publish(UpdateMessages)
			return
		}

		card := errclass.Classify(err)
		o.errorCard = &card
		o.mu.Unlock()

		o.logger.Error("pagination failed",
			"message_id", messageID,
			"category", card.Category,
			"error", err)
		o.publish(UpdateError)
		o.publish(UpdateMessages)
		return
	}

	var existing []model.Row
	var scalar any
	if msg.Result != nil {
		existing = msg.Result.Rows
		scalar = msg.Result.Scalar
	}

	var incoming []model.Row
	if qr, perr := model.ParseResultData(res.ResultData()); perr == nil && qr != nil {
		incoming = qr.Rows
	}

	// Column-shape check before any merge: a drifted page terminates
	// pagination for this message and appends nothing.
	if len(existing) > 0 && len(incoming) > 0 && !SameColumnShape(existing[0], incoming[0]) {
		cc := completenessCopy(msg)
		cc.MarkSchemaMismatch()
		msg.Completeness = cc
		o.mu.Unlock()

		o.logger.Warn("pagination stopped on schema mismatch", "message_id", messageID)
		trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("kotae.schema_mismatch", true))
		o.publish(UpdateMessages)
		return
	}

	surviving := DedupeRows(existing, incoming)
	merged := make([]model.Row, 0, len(existing)+len(surviving))
	merged = append(merged, existing...)
	merged = append(merged, surviving...)

	// Replace payloads instead of mutating them; earlier snapshots stay
	// valid.
	msg.Result = &model.QueryResult{Rows: merged, Scalar: scalar}
	cc := completenessCopy(msg)
	cc.MergeServer(res.Completeness)
	cc.RowsReturned = len(merged)
	msg.Completeness = cc
	o.mu.Unlock()

	o.logger.Info("pagination merged page",
		"message_id", messageID,
		"new_rows", len(surviving),
		"total_rows", len(merged),
		"has_more", cc.HasMore())
	o.publish(UpdateMessages)
}

// completenessCopy returns a fresh copy of the message's completeness,
// zero-valued when it had none.
func completenessCopy(msg *model.Message) *model.ResultCompleteness {
	if msg.Completeness == nil {
		return &model.ResultCompleteness{}
	}
	cc := *msg.Completeness
	return &cc
}
