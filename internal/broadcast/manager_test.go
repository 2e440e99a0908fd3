package broadcast_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-monitor/internal/broadcast"
	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// fakeConn records delivered payloads; fail makes every send error.
type fakeConn struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
}

func (c *fakeConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("connection gone")
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
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

func startManager(t *testing.T, minInterval time.Duration) *broadcast.Manager {
	t.Helper()
	m := broadcast.NewManager(minInterval, slog.Default(), observability.NewMetricsForTesting())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m
}

func detected(id string) domain.EventDetected {
	return domain.EventDetected{ExternalID: id, Magnitude: 3.2, Tier: domain.TierLow}
}

func alert(id string) domain.SignificantAlert {
	return domain.SignificantAlert{ExternalID: id, Magnitude: 6.0, Tier: domain.TierHigh}
}

func TestManager_FiltersBySubscriptionKind(t *testing.T) {
	m := startManager(t, 0)

	all := &fakeConn{}
	significant := &fakeConn{}
	m.Register(uuid.New(), broadcast.KindAllEvents, all)
	m.Register(uuid.New(), broadcast.KindSignificantOnly, significant)
	waitFor(t, func() bool { return m.SubscriberCount() == 2 })

	m.HandleEvent(detected("quiet"))
	m.HandleEvent(alert("loud"))

	// The all-events subscriber receives both; the significant-only
	// subscriber receives only the alert.
	waitFor(t, func() bool { return len(all.received()) == 2 })
	waitFor(t, func() bool { return len(significant.received()) == 1 })

	var env struct {
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp time.Time       `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(significant.received()[0], &env))
	assert.Equal(t, domain.KindSignificantAlert, env.Type)
	assert.False(t, env.Timestamp.IsZero())

	var data domain.SignificantAlert
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "loud", data.ExternalID)
}

func TestManager_PacingSpacesSends(t *testing.T) {
	const delay = 20 * time.Millisecond
	m := startManager(t, delay)

	conn := &fakeConn{}
	m.Register(uuid.New(), broadcast.KindAllEvents, conn)
	waitFor(t, func() bool { return m.SubscriberCount() == 1 })

	const events = 4
	start := time.Now()
	for i := 0; i < events; i++ {
		m.HandleEvent(detected("ev"))
	}
	waitFor(t, func() bool { return len(conn.received()) == events })

	// The limiter allows one immediate send, so K events take at least
	// (K-1) spacing intervals.
	assert.GreaterOrEqual(t, time.Since(start), time.Duration(events-1)*delay)
}

func TestManager_FailedSendDropsOnlyThatSubscriber(t *testing.T) {
	m := startManager(t, 0)

	bad := &fakeConn{fail: true}
	good := &fakeConn{}
	m.Register(uuid.New(), broadcast.KindAllEvents, bad)
	m.Register(uuid.New(), broadcast.KindAllEvents, good)
	waitFor(t, func() bool { return m.SubscriberCount() == 2 })

	m.HandleEvent(detected("ev"))

	waitFor(t, func() bool { return len(good.received()) == 1 })
	waitFor(t, func() bool { return m.SubscriberCount() == 1 })
}

func TestManager_UnregisterUnknownIsNoOp(t *testing.T) {
	m := startManager(t, 0)
	m.Unregister(uuid.New())
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_ReRegisterReplacesKind(t *testing.T) {
	m := startManager(t, 0)

	conn := &fakeConn{}
	id := uuid.New()
	m.Register(id, broadcast.KindAllEvents, conn)
	m.Register(id, broadcast.KindSignificantOnly, conn)
	waitFor(t, func() bool { return m.SubscriberCount() == 1 })

	m.HandleEvent(detected("skipped"))
	m.HandleEvent(alert("seen"))

	waitFor(t, func() bool { return len(conn.received()) == 1 })

	var env struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(conn.received()[0], &env))
	assert.Equal(t, domain.KindSignificantAlert, env.Type)
}

func TestManager_NoSubscribers(t *testing.T) {
	m := startManager(t, 0)
	// Must not block or panic with an empty registry.
	m.HandleEvent(detected("ev"))
	m.HandleEvent(alert("ev"))
	assert.Equal(t, 0, m.SubscriberCount())
}
