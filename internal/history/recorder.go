package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kotae-ai/kotae/internal/model"
	"github.com/kotae-ai/kotae/internal/run"
)

// Recorder subscribes to orchestrator updates and persists one history
// row per settled run.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu      sync.Mutex
	last    model.RunStatus
	started time.Time
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, last: model.RunStatusIdle}
}

// Run consumes updates until the channel closes.
func (r *Recorder) Run(ctx context.Context, updates <-chan run.Update) {
	for u := range updates {
		r.Observe(ctx, u)
	}
}

// Observe inspects one update and records the run when it settles.
// Recording is edge-triggered on the status transition, so repeated
// publications of a terminal snapshot write a single row.
func (r *Recorder) Observe(ctx context.Context, u run.Update) {
	if u.Kind != run.UpdateStatus {
		return
	}
	snap := u.Snapshot

	r.mu.Lock()
	prev := r.last
	r.last = snap.Status
	if snap.Status == model.RunStatusStreaming && prev != model.RunStatusStreaming {
		r.started = time.Now()
	}
	started := r.started
	r.mu.Unlock()

	if !snap.Status.Terminal() || prev == snap.Status {
		return
	}

	entry := EntryFromSnapshot(snap)
	if !started.IsZero() {
		entry.Duration = time.Since(started)
	}
	if _, err := r.store.Record(ctx, entry); err != nil {
		r.logger.Warn("history record failed", "error", err)
	}
}

// EntryFromSnapshot extracts the recordable fields of a settled run:
// the answer envelope for successes, the error card for failures.
// Duration is not set; callers that track the run start fill it in.
func EntryFromSnapshot(snap run.Snapshot) Entry {
	e := Entry{
		Question: snap.LastQuestion,
		Status:   string(snap.Status),
	}

	switch snap.Status {
	case model.RunStatusSucceeded:
		for i := len(snap.Messages) - 1; i >= 0; i-- {
			msg := snap.Messages[i]
			if msg.Role != model.RoleAssistant {
				continue
			}
			e.Response = msg.Text
			e.SQL = msg.SQL
			e.RequestID = msg.RequestID
			e.TraceID = msg.TraceID
			e.FromCache = msg.FromCache
			if msg.Result != nil {
				e.RowCount = len(msg.Result.Rows)
			}
			break
		}
	case model.RunStatusFailed:
		if snap.Error != nil {
			e.ErrorCategory = snap.Error.Category
			e.RequestID = snap.Error.RequestID
		}
	}
	return e
}
