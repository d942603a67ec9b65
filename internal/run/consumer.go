package run

import (
	"context"
	"errors"
	"time"

	"github.com/kotae-ai/kotae/internal/agent"
	"github.com/kotae-ai/kotae/internal/model"
)

// errStreamClosed marks a stream that ended without a terminal event.
// Treated as a transport failure; the orchestrator falls back to the
// blocking call and the operator never sees this error directly.
var errStreamClosed = errors.New("kotae: stream ended without result")

// consumeStream pulls events until a terminal one arrives, racing each
// pull against the per-event timeout and the run's cancellation. The
// first settled outcome wins:
//
//   - cancellation: returns ctx.Err(); the caller already knows it
//     superseded this run and reports nothing upward.
//   - timeout: returns agent.ErrStreamTimeout.
//   - progress event: onProgress is invoked and the timeout restarts.
//   - error event: consumption stops, the event's error is returned.
//   - result event: consumption stops, the payload is returned.
//
// A closed event channel without a terminal event yields the transport
// error when one was reported, errStreamClosed otherwise. Consumption
// always terminates; it never reads past a result or error event.
func consumeStream(ctx context.Context, events <-chan agent.StreamEvent, errs <-chan error, timeout time.Duration, onProgress func(phase string)) (*model.AgentResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			return nil, agent.ErrStreamTimeout

		case ev, ok := <-events:
			if !ok {
				if err := <-errs; err != nil {
					return nil, err
				}
				return nil, errStreamClosed
			}

			switch ev.Type {
			case agent.EventProgress:
				if onProgress != nil {
					onProgress(ev.Phase)
				}
				timer.Reset(timeout)

			case agent.EventError:
				return nil, ev.Err

			case agent.EventResult:
				return ev.Result, nil
			}
		}
	}
}
