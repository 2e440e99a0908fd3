// Package transport exposes the live event feed over websockets. Each
// connection gets a dedicated writer goroutine; the read loop handles
// subscription commands and the broadcast manager pushes events through
// the writer's buffer.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/couchcryptid/quake-monitor/internal/broadcast"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards connect from arbitrary origins.
	},
}

// Registry is the subscription surface of the broadcast manager.
type Registry interface {
	Register(id uuid.UUID, kind broadcast.SubscriptionKind, conn broadcast.Conn)
	Unregister(id uuid.UUID)
}

type clientMessage struct {
	Action string `json:"action"`
}

type serverMessage struct {
	Type         string `json:"type"`
	Subscription string `json:"subscription,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WSHandler upgrades HTTP requests and bridges each connection into the
// broadcast manager's registry.
type WSHandler struct {
	registry Registry
	logger   *slog.Logger
}

func NewWSHandler(registry Registry, logger *slog.Logger) *WSHandler {
	return &WSHandler{registry: registry, logger: logger}
}

// Handle serves one websocket connection until the peer disconnects.
func (h *WSHandler) Handle(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}

	id := uuid.New()
	writer := newConnWriter(ws)
	defer func() {
		h.registry.Unregister(id)
		writer.stop()
	}()

	h.logger.Info("websocket connected", "connection_id", id, "remote", c.RealIP())
	h.readLoop(id, ws, writer)
	h.logger.Info("websocket disconnected", "connection_id", id)
	return nil
}

// readLoop processes subscription commands until the connection errors out.
func (h *WSHandler) readLoop(id uuid.UUID, ws *websocket.Conn, writer *connWriter) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "connection_id", id, "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			writer.reply(serverMessage{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Action {
		case "subscribe_events":
			h.registry.Register(id, broadcast.KindAllEvents, writer)
			writer.reply(serverMessage{Type: "subscription_confirmed", Subscription: "events"})
		case "subscribe_alerts":
			h.registry.Register(id, broadcast.KindSignificantOnly, writer)
			writer.reply(serverMessage{Type: "subscription_confirmed", Subscription: "alerts"})
		default:
			writer.reply(serverMessage{Type: "error", Error: "unknown action"})
		}
	}
}

// connWriter serializes every outbound frame through one goroutine, since
// gorilla connections allow only a single concurrent writer.
type connWriter struct {
	conn     *websocket.Conn
	sendCh   chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newConnWriter(conn *websocket.Conn) *connWriter {
	w := &connWriter{
		conn:   conn,
		sendCh: make(chan []byte, messageBufferSize),
		done:   make(chan struct{}),
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongDeadline))
	})
	w.wg.Add(1)
	go w.run()
	return w
}

// Send enqueues a broadcast payload. A full buffer means the peer cannot
// keep up with the feed; report it as a failure so the manager drops the
// subscription instead of stalling delivery to everyone else.
func (w *connWriter) Send(ctx context.Context, payload []byte) error {
	select {
	case w.sendCh <- payload:
		return nil
	case <-w.done:
		return errors.New("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("send buffer full")
	}
}

// reply enqueues a control message to the peer, best effort.
func (w *connWriter) reply(msg serverMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case w.sendCh <- payload:
	case <-w.done:
	default:
	}
}

func (w *connWriter) run() {
	defer w.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-w.sendCh:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *connWriter) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
	w.wg.Wait()
}
