// Package stream fans events out to realtime subscribers. Delivery is
// lossy: slow consumers drop their oldest buffered event so the latest
// state always gets through.
package stream

import (
	"sync"
)

const (
	// ScopeAdmin receives every event regardless of run.
	ScopeAdmin = "admin"
)

// RunScope names the subscription scope for one run's events.
func RunScope(runID string) string {
	return "run:" + runID
}

type Event struct {
	Name    string
	Payload any
}

type Subscription struct {
	scope     string
	ch        chan Event
	hub       *Hub
	closeOnce sync.Once
}

// Events is the receive side; it closes when the subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
		close(s.ch)
	})
}

type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[string]map[*Subscription]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(scope string) *Subscription {
	sub := &Subscription{scope: scope, ch: make(chan Event, h.buffer), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[scope]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[scope] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers to the scope's subscribers and mirrors run-scoped events
// to admin subscribers. Never blocks the publisher.
func (h *Hub) Publish(scope string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(scope, ev)
	if scope != ScopeAdmin {
		h.deliverLocked(ScopeAdmin, ev)
	}
}

func (h *Hub) deliverLocked(scope string, ev Event) {
	for sub := range h.subs[scope] {
		for {
			select {
			case sub.ch <- ev:
			default:
				// Full buffer: evict the oldest event and retry.
				select {
				case <-sub.ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.scope]
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.scope)
	}
}

// SubscriberCount reports active subscriptions for a scope.
func (h *Hub) SubscriberCount(scope string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[scope])
}
