// Package events delivers domain events to observers without ever blocking
// or failing the operation that produced them.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/nazeru/medstore-orders-go/pkg/contracts"
	"github.com/nazeru/medstore-orders-go/pkg/logging"
	"github.com/nazeru/medstore-orders-go/pkg/metrics"
)

// Sink is one delivery channel. Deliver may block up to the emitter's
// per-sink timeout.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e contracts.Event) error
}

// Emitter fans events out to sinks from a single background goroutine.
// Publish never blocks: when the queue is full the event is dropped.
type Emitter struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan contracts.Event
	sinks   []Sink
	metrics *metrics.OrderMetrics
	timeout time.Duration
	done    chan struct{}
}

func NewEmitter(buffer int, m *metrics.OrderMetrics, sinks ...Sink) *Emitter {
	if buffer <= 0 {
		buffer = 256
	}
	e := &Emitter{
		queue:   make(chan contracts.Event, buffer),
		sinks:   sinks,
		metrics: m,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Emitter) Publish(ev contracts.Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- ev:
	default:
		if e.metrics != nil {
			e.metrics.EventsDropped.Inc()
		}
		logging.Log(logging.Fields{Service: "events", OrderID: ev.OrderID, EventID: ev.EventID, Step: "publish", Status: "dropped", Message: ev.Type})
	}
}

// Close stops accepting events and waits until queued ones are delivered or
// ctx ends.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Emitter) loop() {
	defer close(e.done)
	for ev := range e.queue {
		for _, s := range e.sinks {
			e.deliver(s, ev)
		}
	}
}

func (e *Emitter) deliver(s Sink, ev contracts.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	result := "ok"
	if err := s.Deliver(ctx, ev); err != nil {
		result = "error"
		logging.Log(logging.Fields{
			Service: "events",
			OrderID: ev.OrderID,
			EventID: ev.EventID,
			Step:    "deliver:" + s.Name(),
			Status:  "failed",
			Message: ev.Type,
			Error:   err.Error(),
		})
	}
	if e.metrics != nil {
		e.metrics.Events.WithLabelValues(s.Name(), result).Inc()
	}
}
