package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kotae-ai/kotae/internal/model"
)

// Stream event kinds emitted by the run stream.
const (
	EventProgress = "progress"
	EventError    = "error"
	EventResult   = "result"
)

// ErrStreamTimeout is raised when no stream event arrives within the
// per-event wait window. Treated as a stream transport failure.
var ErrStreamTimeout = errors.New("kotae: stream timeout")

// StreamEvent is one typed event from a run stream. Exactly one of the
// payload fields is set, matching Type.
type StreamEvent struct {
	Type   string
	Phase  string
	Result *model.AgentResult
	Err    *APIError
}

// Terminal reports whether this event ends the stream.
func (e *StreamEvent) Terminal() bool {
	return e.Type == EventError || e.Type == EventResult
}

// progressPayload is the data shape of a progress event.
type progressPayload struct {
	Phase string `json:"phase"`
}

// RunStream submits a question and streams run events over SSE. The
// returned event channel closes when the stream ends; the error channel
// receives at most one transport-level error. Cancel ctx to abandon the
// stream.
func (c *Client) RunStream(ctx context.Context, req model.AgentRequest) (<-chan StreamEvent, <-chan error, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, nil, fmt.Errorf("kotae: question is required")
	}

	params := url.Values{}
	params.Set("question", req.Question)
	params.Set("tenant_id", c.tenantID)
	if req.ThreadID != "" {
		params.Set("thread_id", req.ThreadID)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/agent/run/stream?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("kotae: create stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.streaming.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("kotae: open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		return nil, nil, parseErrorResponse(resp.StatusCode, body)
	}

	events := make(chan StreamEvent, 64)
	errs := make(chan error, 1)
	go func() {
		defer func() { _ = resp.Body.Close() }()
		defer close(events)
		defer close(errs)
		if err := readRunSSE(ctx, resp.Body, events); err != nil {
			errs <- err
		}
	}()
	return events, errs, nil
}

// readRunSSE parses the SSE wire format (event:/data: lines, blank-line
// dispatch) and emits typed events. Returns nil on clean end of stream
// or after a terminal event; reading never continues past a result or
// error event.
func readRunSSE(ctx context.Context, r io.Reader, out chan<- StreamEvent) error {
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 4096)
	var event string
	var data []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n"))
				if idx == -1 {
					break
				}
				line := string(bytes.TrimRight(buf[:idx], "\r"))
				buf = buf[idx+1:]
				if line == "" {
					if len(data) > 0 {
						ev, ok := decodeStreamEvent(event, data)
						if ok {
							select {
							case out <- ev:
							case <-ctx.Done():
								return ctx.Err()
							}
							if ev.Terminal() {
								return nil
							}
						}
					}
					event = ""
					data = data[:0]
					continue
				}
				if strings.HasPrefix(line, "event:") {
					event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
					continue
				}
				if strings.HasPrefix(line, "data:") {
					payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
					data = append(data, []byte(payload)...)
				}
			}
		}
		if err != nil {
			// A canceled context aborts the body read; report the
			// cancellation rather than the transport's wrapping of it.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// decodeStreamEvent turns one dispatched SSE block into a StreamEvent.
// Unknown event names and undecodable payloads are skipped so newer
// server versions cannot break the console.
func decodeStreamEvent(event string, data []byte) (StreamEvent, bool) {
	switch event {
	case EventProgress:
		var p progressPayload
		if err := json.Unmarshal(data, &p); err != nil || p.Phase == "" {
			return StreamEvent{}, false
		}
		return StreamEvent{Type: EventProgress, Phase: p.Phase}, true
	case EventError:
		var detail model.ErrorDetail
		if err := json.Unmarshal(data, &detail); err != nil {
			return StreamEvent{}, false
		}
		apiErr := &APIError{StatusCode: detail.Status}
		fillFromDetail(apiErr, &detail)
		return StreamEvent{Type: EventError, Err: apiErr}, true
	case EventResult:
		var res model.AgentResult
		if err := json.Unmarshal(data, &res); err != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{Type: EventResult, Result: &res}, true
	default:
		return StreamEvent{}, false
	}
}
