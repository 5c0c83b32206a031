package queue

import (
	"sync"

	"github.com/ahrdadan/sessionfixture/internal/fixture"
)

// Event represents a run event
type Event struct {
	RunID   string          `json:"run_id"`
	Status  RunStatus       `json:"status"`
	Message string          `json:"message,omitempty"`
	Result  *fixture.Result `json:"result,omitempty"`
}

// EventHub fans run events out to subscribers.
type EventHub struct {
	subscribers map[string][]chan Event
	mu          sync.RWMutex
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		subscribers: make(map[string][]chan Event),
	}
}

// Subscribe creates a subscription for run events
func (h *EventHub) Subscribe(runID string) <-chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 16)
	h.subscribers[runID] = append(h.subscribers[runID], ch)
	return ch
}

// Unsubscribe removes a subscription and closes its channel
func (h *EventHub) Unsubscribe(runID string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[runID]
	for i, sub := range subs {
		if sub == ch {
			h.subscribers[runID] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(h.subscribers[runID]) == 0 {
		delete(h.subscribers, runID)
	}
}

// Emit sends an event to all subscribers of a run
func (h *EventHub) Emit(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers[event.RunID] {
		select {
		case ch <- event:
		default:
			// slow subscriber
		}
	}
}

// Close closes all subscriptions
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for runID, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subscribers, runID)
	}
}
