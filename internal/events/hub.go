package events

import (
	"context"
	"sync"

	"github.com/nazeru/medstore-orders-go/pkg/contracts"
)

// Subscriber is one connected observer. Admins see every event; customers
// only customer-facing events of their own orders.
type Subscriber struct {
	UserID string
	Admin  bool
	C      chan contracts.Event
}

func (s *Subscriber) Wants(e contracts.Event) bool {
	if s.Admin {
		return true
	}
	return s.UserID != "" && e.UserID == s.UserID && e.CustomerFacing()
}

// Hub is the in-process broadcast sink behind the SSE endpoint. A subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[*Subscriber]struct{}), buffer: buffer}
}

func (h *Hub) Name() string { return "sse" }

// Subscribe registers an observer. The returned func unregisters it and must
// be called exactly once.
func (h *Hub) Subscribe(userID string, admin bool) (*Subscriber, func()) {
	s := &Subscriber{UserID: userID, Admin: admin, C: make(chan contracts.Event, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s, func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
	}
}

func (h *Hub) Deliver(_ context.Context, e contracts.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if !s.Wants(e) {
			continue
		}
		select {
		case s.C <- e:
		default:
		}
	}
	return nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
