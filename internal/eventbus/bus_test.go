package eventbus_test

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/eventbus"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// recorder collects delivered events behind a mutex so tests can poll it
// from the outside while the dispatch goroutine appends.
type recorder struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func (r *recorder) handle(ev domain.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []domain.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	b := eventbus.New(slog.Default(), observability.NewMetricsForTesting(), 64)
	t.Cleanup(b.Close)
	return b
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}
	b.Subscribe(rec.handle)

	for i := 0; i < 5; i++ {
		b.Publish(domain.EventDetected{ExternalID: string(rune('a' + i))})
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == 5 })

	got := rec.snapshot()
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(rune('a'+i)), got[i].(domain.EventDetected).ExternalID)
	}
}

func TestBus_AllHandlersReceiveEachEvent(t *testing.T) {
	b := newBus(t)
	first := &recorder{}
	second := &recorder{}
	b.Subscribe(first.handle)
	b.Subscribe(second.handle)

	b.Publish(domain.SignificantAlert{ExternalID: "x"})

	waitFor(t, func() bool {
		return len(first.snapshot()) == 1 && len(second.snapshot()) == 1
	})
}

func TestBus_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := newBus(t)
	b.Subscribe(func(domain.DomainEvent) { panic("boom") })
	rec := &recorder{}
	b.Subscribe(rec.handle)

	b.Publish(domain.EventDetected{ExternalID: "ok"})

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newBus(t)
	rec := &recorder{}
	id := b.Subscribe(rec.handle)

	b.Publish(domain.EventDetected{ExternalID: "one"})
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	b.Unsubscribe(id)
	b.Publish(domain.EventDetected{ExternalID: "two"})

	// Give dispatch a moment; the second event must not arrive.
	time.Sleep(50 * time.Millisecond)
	require.Len(t, rec.snapshot(), 1)

	// Unknown id is a no-op.
	b.Unsubscribe(9999)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := eventbus.New(slog.Default(), observability.NewMetricsForTesting(), 8)
	rec := &recorder{}
	b.Subscribe(rec.handle)
	b.Close()

	b.Publish(domain.EventDetected{ExternalID: "late"})
	assert.Empty(t, rec.snapshot())
}
