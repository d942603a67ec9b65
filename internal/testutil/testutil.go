// Package testutil provides shared test infrastructure: a scriptable
// fake of the agent service's HTTP surface and common helpers.
//
// Usage:
//
//	srv := testutil.NewAgentServer(t, map[string]http.HandlerFunc{
//	    "POST /v1/agent/run": func(w http.ResponseWriter, r *http.Request) {
//	        testutil.WriteJSON(w, http.StatusOK, map[string]any{"data": result})
//	    },
//	})
//	defer srv.Close()
package testutil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// TestToken mints a signed JWT with the given lifetime. Clients read
// only the exp claim; the signature is never verified.
func TestToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(ttl).Unix(),
		"sub": "tenant-test",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("testutil: sign token: %v", err)
	}
	return token
}

// NewAgentServer starts an httptest server that mimics the agent
// service. An auth endpoint issuing hour-long tokens is installed unless
// the caller registers their own.
func NewAgentServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	if _, ok := handlers["POST /v1/auth/token"]; !ok {
		mux.HandleFunc("POST /v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]any{"token": TestToken(t, time.Hour)})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SSEHandler serves pre-baked SSE frames with a flush after each one.
// Build frames with SSEFrame.
func SSEHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
			flusher.Flush()
		}
	}
}

// SSEFrame formats one SSE event block with a JSON-encoded payload.
func SSEFrame(event string, payload any) string {
	raw, _ := json.Marshal(payload)
	return "event: " + event + "\ndata: " + string(raw) + "\n\n"
}
