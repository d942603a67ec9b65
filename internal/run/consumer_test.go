package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotae-ai/kotae/internal/agent"
	"github.com/kotae-ai/kotae/internal/model"
)

// openStream returns channels pre-loaded with events, closed in the same
// order the client closes them: error first, then events.
func openStream(streamErr error, events ...agent.StreamEvent) (<-chan agent.StreamEvent, <-chan error) {
	ch := make(chan agent.StreamEvent, len(events))
	errs := make(chan error, 1)
	for _, ev := range events {
		ch <- ev
	}
	if streamErr != nil {
		errs <- streamErr
	}
	close(errs)
	close(ch)
	return ch, errs
}

func TestConsumeStream_ResultTerminates(t *testing.T) {
	events, errs := openStream(nil,
		agent.StreamEvent{Type: agent.EventProgress, Phase: "router"},
		agent.StreamEvent{Type: agent.EventProgress, Phase: "plan"},
		agent.StreamEvent{Type: agent.EventResult, Result: &model.AgentResult{Response: "done"}},
	)

	var phases []string
	res, err := consumeStream(context.Background(), events, errs, time.Second, func(p string) {
		phases = append(phases, p)
	})

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "done", res.Response)
	assert.Equal(t, []string{"router", "plan"}, phases)
}

func TestConsumeStream_ErrorEventRaised(t *testing.T) {
	apiErr := &agent.APIError{StatusCode: 502, Message: "warehouse unreachable"}
	events, errs := openStream(nil,
		agent.StreamEvent{Type: agent.EventError, Err: apiErr},
	)

	_, err := consumeStream(context.Background(), events, errs, time.Second, nil)
	require.Error(t, err)

	var got *agent.APIError
	require.True(t, errors.As(err, &got))
	assert.Equal(t, 502, got.StatusCode)
}

func TestConsumeStream_TimeoutWhenNoEvents(t *testing.T) {
	events := make(chan agent.StreamEvent)
	errs := make(chan error, 1)

	start := time.Now()
	_, err := consumeStream(context.Background(), events, errs, 50*time.Millisecond, nil)

	assert.ErrorIs(t, err, agent.ErrStreamTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConsumeStream_TimeoutRestartsPerEvent(t *testing.T) {
	events := make(chan agent.StreamEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		// Each gap is under the window, the total is well over it.
		for _, phase := range []string{"router", "plan", "execute"} {
			time.Sleep(40 * time.Millisecond)
			events <- agent.StreamEvent{Type: agent.EventProgress, Phase: phase}
		}
		time.Sleep(40 * time.Millisecond)
		events <- agent.StreamEvent{Type: agent.EventResult, Result: &model.AgentResult{Response: "slow but steady"}}
	}()

	res, err := consumeStream(context.Background(), events, errs, 100*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, "slow but steady", res.Response)
}

func TestConsumeStream_CancellationWins(t *testing.T) {
	events := make(chan agent.StreamEvent)
	errs := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := consumeStream(ctx, events, errs, time.Minute, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConsumeStream_ClosedWithoutTerminal(t *testing.T) {
	events, errs := openStream(nil)
	_, err := consumeStream(context.Background(), events, errs, time.Second, nil)
	assert.ErrorIs(t, err, errStreamClosed)
}

func TestConsumeStream_TransportErrorSurfaced(t *testing.T) {
	transport := errors.New("connection reset")
	events, errs := openStream(transport,
		agent.StreamEvent{Type: agent.EventProgress, Phase: "router"},
	)

	_, err := consumeStream(context.Background(), events, errs, time.Second, nil)
	assert.ErrorIs(t, err, transport)
}

func TestConsumeStream_NeverReadsPastResult(t *testing.T) {
	// A malformed stream with frames after the terminal event: the
	// consumer must stop at the result.
	events, errs := openStream(nil,
		agent.StreamEvent{Type: agent.EventResult, Result: &model.AgentResult{Response: "first"}},
		agent.StreamEvent{Type: agent.EventProgress, Phase: "synthesize"},
	)

	var phases []string
	res, err := consumeStream(context.Background(), events, errs, time.Second, func(p string) {
		phases = append(phases, p)
	})

	require.NoError(t, err)
	assert.Equal(t, "first", res.Response)
	assert.Empty(t, phases)
}
