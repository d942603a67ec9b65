package run

import (
	"sync"
)

// Update kinds published by the orchestrator.
const (
	UpdatePhase    = "phase"
	UpdateMessages = "messages"
	UpdateStatus   = "status"
	UpdateError    = "error"
)

// Update is one state-change notification. It carries a full snapshot so
// subscribers never need to read orchestrator state under their own
// locking.
type Update struct {
	Kind     string
	Snapshot Snapshot
}

// Hub fans out orchestrator updates to subscribers (the TUI event loop,
// the history recorder). Safe for concurrent use.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Update]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[chan Update]struct{})}
}

// Subscribe returns a channel that receives updates.
// The caller must call Unsubscribe when done.
func (h *Hub) Subscribe() chan Update {
	ch := make(chan Update, 64) // Buffer to avoid blocking the publisher.
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (h *Hub) Unsubscribe(ch chan Update) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	close(ch)
}

// Publish sends an update to all subscribers. Subscribers with a full
// buffer are skipped (each update carries a complete snapshot, so a
// dropped intermediate update is superseded by the next one).
func (h *Hub) Publish(update Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers {
		select {
		case ch <- update:
		default:
		}
	}
}
