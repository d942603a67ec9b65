package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotae-ai/kotae/internal/model"
)

// sseHandler writes pre-baked SSE frames with a flush after each one.
func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
			flusher.Flush()
		}
	}
}

func sseFrame(event string, payload any) string {
	raw, _ := json.Marshal(payload)
	return "event: " + event + "\ndata: " + string(raw) + "\n\n"
}

func collectEvents(t *testing.T, events <-chan StreamEvent, errs <-chan error) ([]StreamEvent, error) {
	t.Helper()
	var out []StreamEvent
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out, <-errs
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func TestRunStream_EmitsTypedEvents(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/agent/run/stream": sseHandler(t, []string{
			sseFrame(EventProgress, map[string]string{"phase": "router"}),
			sseFrame(EventProgress, map[string]string{"phase": "plan"}),
			sseFrame(EventResult, model.AgentResult{Response: "Here are the results", SQL: "SELECT 1"}),
		}),
	})
	defer srv.Close()

	events, errs, err := newTestClient(t, srv.URL).RunStream(context.Background(), model.AgentRequest{Question: "How many users?"})
	require.NoError(t, err)

	got, streamErr := collectEvents(t, events, errs)
	require.NoError(t, streamErr)
	require.Len(t, got, 3)

	assert.Equal(t, EventProgress, got[0].Type)
	assert.Equal(t, "router", got[0].Phase)
	assert.Equal(t, "plan", got[1].Phase)

	require.Equal(t, EventResult, got[2].Type)
	require.NotNil(t, got[2].Result)
	assert.Equal(t, "Here are the results", got[2].Result.Response)
	assert.True(t, got[2].Terminal())
}

func TestRunStream_StopsAtErrorEvent(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/agent/run/stream": sseHandler(t, []string{
			sseFrame(EventProgress, map[string]string{"phase": "execute"}),
			sseFrame(EventError, model.ErrorDetail{
				Message:   "warehouse unreachable",
				Status:    http.StatusBadGateway,
				RequestID: "req-3",
				Details:   &model.ErrorInfo{ErrorCategory: model.ErrCategoryConnectivity},
			}),
			// Must never be delivered: the error event is terminal.
			sseFrame(EventProgress, map[string]string{"phase": "synthesize"}),
		}),
	})
	defer srv.Close()

	events, errs, err := newTestClient(t, srv.URL).RunStream(context.Background(), model.AgentRequest{Question: "q"})
	require.NoError(t, err)

	got, streamErr := collectEvents(t, events, errs)
	require.NoError(t, streamErr)
	require.Len(t, got, 2)

	require.Equal(t, EventError, got[1].Type)
	require.NotNil(t, got[1].Err)
	assert.Equal(t, model.ErrCategoryConnectivity, got[1].Err.Category())
	assert.Equal(t, "req-3", got[1].Err.RequestID)
}

func TestRunStream_SkipsUnknownEvents(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/agent/run/stream": sseHandler(t, []string{
			sseFrame("heartbeat", map[string]string{"ts": "now"}),
			sseFrame(EventResult, model.AgentResult{Response: "done"}),
		}),
	})
	defer srv.Close()

	events, errs, err := newTestClient(t, srv.URL).RunStream(context.Background(), model.AgentRequest{Question: "q"})
	require.NoError(t, err)

	got, streamErr := collectEvents(t, events, errs)
	require.NoError(t, streamErr)
	require.Len(t, got, 1)
	assert.Equal(t, EventResult, got[0].Type)
}

func TestRunStream_SendsQueryParams(t *testing.T) {
	var gotQuery map[string]string
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/agent/run/stream": func(w http.ResponseWriter, r *http.Request) {
			gotQuery = map[string]string{
				"question":  r.URL.Query().Get("question"),
				"tenant_id": r.URL.Query().Get("tenant_id"),
				"thread_id": r.URL.Query().Get("thread_id"),
			}
			sseHandler(t, []string{sseFrame(EventResult, model.AgentResult{})})(w, r)
		},
	})
	defer srv.Close()

	events, errs, err := newTestClient(t, srv.URL).RunStream(context.Background(), model.AgentRequest{
		Question: "show revenue",
		ThreadID: "th-7",
	})
	require.NoError(t, err)
	_, _ = collectEvents(t, events, errs)

	assert.Equal(t, "show revenue", gotQuery["question"])
	assert.Equal(t, "tenant-test", gotQuery["tenant_id"])
	assert.Equal(t, "th-7", gotQuery["thread_id"])
}

func TestRunStream_RejectsEmptyQuestion(t *testing.T) {
	c, err := NewClient(Config{BaseURL: "http://localhost:1", TenantID: "t", APIKey: "k"})
	require.NoError(t, err)

	_, _, err = c.RunStream(context.Background(), model.AgentRequest{Question: "   "})
	assert.ErrorContains(t, err, "question")
}

func TestRunStream_NonOKStatusReturnsAPIError(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/agent/run/stream": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": model.ErrorDetail{Message: "slow down", Code: "RATE_LIMITED"},
			})
		},
	})
	defer srv.Close()

	_, _, err := newTestClient(t, srv.URL).RunStream(context.Background(), model.AgentRequest{Question: "q"})
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}

func TestRunStream_ContextCancelStopsReader(t *testing.T) {
	release := make(chan struct{})
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/agent/run/stream": func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(sseFrame(EventProgress, map[string]string{"phase": "router"})))
			flusher.Flush()
			<-release // hold the stream open
		},
	})
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	events, errs, err := newTestClient(t, srv.URL).RunStream(ctx, model.AgentRequest{Question: "q"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "router", ev.Phase)
	case <-time.After(5 * time.Second):
		t.Fatal("no first event")
	}

	cancel()

	select {
	case _, ok := <-events:
		if ok {
			// Drain anything buffered before close.
			for range events {
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event channel did not close after cancel")
	}
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("error channel did not settle after cancel")
	}
}
