// Package broadcast bridges domain events to live subscriber connections.
// A single actor goroutine owns the subscription registry and the delivery
// loop, so registry reads never observe a half-updated entry and each
// connection sees events in publish order.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// SubscriptionKind is a connection's declared interest level.
type SubscriptionKind string

const (
	// KindAllEvents receives every detection and every alert.
	KindAllEvents SubscriptionKind = "all_events"
	// KindSignificantOnly receives alerts but not plain detections.
	KindSignificantOnly SubscriptionKind = "significant_only"
)

// Conn is one live transport connection. Send fails if the connection is
// gone or its buffer is exhausted; the manager drops the subscription on
// the first failure.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
}

// Envelope is the wire format delivered to subscribers. Type discriminates
// the payload; Timestamp is the delivery time, distinct from the event's
// occurrence time.
type Envelope struct {
	Type      string             `json:"type"`
	Data      domain.DomainEvent `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
}

type subscriber struct {
	kind SubscriptionKind
	conn Conn
}

// --- actor commands ---

type managerCmd interface{ managerCmd() }

type cmdRegister struct {
	id   uuid.UUID
	kind SubscriptionKind
	conn Conn
}

func (cmdRegister) managerCmd() {}

type cmdUnregister struct {
	id uuid.UUID
}

func (cmdUnregister) managerCmd() {}

type cmdCount struct {
	reply chan int
}

func (cmdCount) managerCmd() {}

// Manager consumes published domain events, filters them per subscription,
// and pushes them to live connections with a minimum spacing between sends.
type Manager struct {
	cmdCh   chan managerCmd
	events  chan domain.DomainEvent
	subs    map[uuid.UUID]subscriber
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.Metrics

	sendTimeout time.Duration
	done        chan struct{}
}

// NewManager creates a Manager. minInterval is the pacing delay between
// successive outbound sends; zero disables pacing. Run must be started for
// commands and events to be processed.
func NewManager(minInterval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &Manager{
		cmdCh:       make(chan managerCmd, 256),
		events:      make(chan domain.DomainEvent, 256),
		subs:        make(map[uuid.UUID]subscriber),
		limiter:     limiter,
		logger:      logger,
		metrics:     metrics,
		sendTimeout: 5 * time.Second,
		done:        make(chan struct{}),
	}
}

// HandleEvent enqueues a published event for delivery. It is the bus
// handler: it never blocks dispatch; if the mailbox is full the event is
// dropped with a warning (subscribers are a live feed, not a durable log).
func (m *Manager) HandleEvent(event domain.DomainEvent) {
	select {
	case m.events <- event:
	default:
		m.logger.Warn("broadcast mailbox full, dropping event", "kind", event.Kind())
	}
}

// Register adds or replaces the subscription for a connection id.
// Re-registering with a different kind is an upsert.
func (m *Manager) Register(id uuid.UUID, kind SubscriptionKind, conn Conn) {
	m.cmdCh <- cmdRegister{id: id, kind: kind, conn: conn}
}

// Unregister removes a subscription. Unknown ids are a no-op.
func (m *Manager) Unregister(id uuid.UUID) {
	m.cmdCh <- cmdUnregister{id: id}
}

// SubscriberCount reports the number of registered subscriptions. Returns 0
// after the manager has stopped.
func (m *Manager) SubscriberCount() int {
	reply := make(chan int, 1)
	select {
	case m.cmdCh <- cmdCount{reply: reply}:
	case <-m.done:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-m.done:
		return 0
	}
}

// Run processes commands and delivers events until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("broadcast manager stopping", "reason", ctx.Err())
			return
		case cmd := <-m.cmdCh:
			m.handle(cmd)
		case event := <-m.events:
			m.deliver(ctx, event)
		}
	}
}

func (m *Manager) handle(cmd managerCmd) {
	switch c := cmd.(type) {
	case cmdRegister:
		m.subs[c.id] = subscriber{kind: c.kind, conn: c.conn}
		m.metrics.ActiveSubscribers.Set(float64(len(m.subs)))
		m.logger.Info("subscriber registered", "connection_id", c.id, "kind", c.kind)
	case cmdUnregister:
		if _, ok := m.subs[c.id]; !ok {
			return
		}
		delete(m.subs, c.id)
		m.metrics.ActiveSubscribers.Set(float64(len(m.subs)))
		m.logger.Info("subscriber unregistered", "connection_id", c.id)
	case cmdCount:
		c.reply <- len(m.subs)
	}
}

// deliver sends one event to every matching subscription, waiting on the
// shared limiter before each send. Because every send goes through the same
// limiter, spacing holds both across recipients of one event and across
// distinct events.
func (m *Manager) deliver(ctx context.Context, event domain.DomainEvent) {
	targets := make([]uuid.UUID, 0, len(m.subs))
	for id, sub := range m.subs {
		if matches(sub.kind, event) {
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(Envelope{
		Type:      event.Kind(),
		Data:      event,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		m.logger.Error("marshal broadcast envelope", "kind", event.Kind(), "error", err)
		return
	}

	for _, id := range targets {
		// Pacing can stretch one delivery over seconds; keep register and
		// unregister responsive by draining pending commands between sends.
		m.drainCmds()

		// A disconnect processed above may have removed the target.
		sub, ok := m.subs[id]
		if !ok {
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return
		}

		sendCtx, cancel := context.WithTimeout(ctx, m.sendTimeout)
		err := sub.conn.Send(sendCtx, payload)
		cancel()
		if err != nil {
			m.logger.Warn("send failed, dropping subscriber", "connection_id", id, "error", err)
			delete(m.subs, id)
			m.metrics.ActiveSubscribers.Set(float64(len(m.subs)))
			m.metrics.BroadcastErrors.Inc()
			continue
		}
		m.metrics.BroadcastsSent.Inc()
	}
}

func (m *Manager) drainCmds() {
	for {
		select {
		case cmd := <-m.cmdCh:
			m.handle(cmd)
		default:
			return
		}
	}
}

// matches applies the filter rule: detections go only to all-events
// subscribers, alerts go to everyone.
func matches(kind SubscriptionKind, event domain.DomainEvent) bool {
	switch event.Kind() {
	case domain.KindEventDetected:
		return kind == KindAllEvents
	case domain.KindSignificantAlert:
		return true
	default:
		return false
	}
}
