// Package eventbus is the in-process pub/sub seam between the ingestion use
// case and its downstream consumers (broadcast manager, alert sink). A
// single dispatch goroutine drains a queue, so events published by one
// producer reach every handler in publish order.
package eventbus

import (
	"log/slog"
	"sync"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// Handler consumes a domain event. Handlers run on the dispatch goroutine;
// long work should be handed off (the broadcast manager enqueues into its
// own mailbox).
type Handler func(event domain.DomainEvent)

// Bus fans domain events out to registered handlers. Publish only enqueues;
// delivery happens on the dispatch goroutine. A panicking handler is
// isolated and logged, never taking down dispatch or other handlers.
type Bus struct {
	mu       sync.Mutex
	handlers map[int64]Handler
	order    []int64
	nextID   int64
	closed   bool

	queue   chan domain.DomainEvent
	done    chan struct{}
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Bus and starts its dispatch goroutine. bufferSize bounds
// how far publication may run ahead of delivery.
func New(logger *slog.Logger, metrics *observability.Metrics, bufferSize int) *Bus {
	b := &Bus{
		handlers: make(map[int64]Handler),
		queue:    make(chan domain.DomainEvent, bufferSize),
		done:     make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler and returns its id for Unsubscribe.
// Additions are visible to subsequent publishes, not to one already in
// flight.
func (b *Bus) Subscribe(h Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = h
	b.order = append(b.order, id)
	return id
}

// Unsubscribe removes a handler. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[id]; !ok {
		return
	}
	delete(b.handlers, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Publish enqueues an event for delivery to every registered handler.
// Blocks only while the queue is full. Events published after Close are
// dropped with a warning.
func (b *Bus) Publish(event domain.DomainEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("event published after bus close, dropping", "kind", event.Kind())
		return
	}
	// Enqueue under the lock so Close cannot slip between the check and the
	// send and close the queue out from under us.
	b.queue <- event
	b.mu.Unlock()

	b.metrics.EventsPublished.WithLabelValues(event.Kind()).Inc()
}

// Close stops dispatch after draining already-queued events.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.queue)
	<-b.done
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		for _, h := range b.snapshot() {
			b.invoke(h, event)
		}
	}
}

// snapshot copies the handlers in registration order so delivery never
// holds the lock and mid-flight unsubscribes don't shift the iteration.
func (b *Bus) snapshot() []Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	return hs
}

func (b *Bus) invoke(h Handler, event domain.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "kind", event.Kind(), "panic", r)
		}
	}()
	h(event)
}
