// Package ws streams settlement operation lifecycle messages to WebSocket
// clients. The hub subscribes to the signal bus once and fans every message
// out to all connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betchain/settlementd/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are vetted by the CORS middleware on the HTTP side.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub owns the set of connected clients and the signal-bus subscription.
type Hub struct {
	bus       domain.SignalBus
	logger    *slog.Logger
	startedAt time.Time

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// NewHub creates a hub bridging the given signal bus to WebSocket clients.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws")),
		startedAt: time.Now().UTC(),
		conns:     make(map[*conn]struct{}),
	}
}

// Run subscribes to the lifecycle channel and fans messages out until ctx
// is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, domain.OpsChannel)
	if err != nil {
		h.logger.Error("subscribe failed", slog.String("channel", domain.OpsChannel), slog.Any("err", err))
		return err
	}
	h.logger.Info("streaming operation lifecycle", slog.String("channel", domain.OpsChannel))

	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("signal bus subscription closed")
				return nil
			}
			h.fanOut(data)
		}
	}
}

func (h *Hub) fanOut(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			// Slow consumer; drop the frame rather than block the stream.
			h.logger.Warn("dropping frame for slow client")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closing = true
	for c := range h.conns {
		close(c.send)
		delete(h.conns, c)
	}
}

func (h *Hub) attach(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[c] = struct{}{}
	h.logger.Info("client connected", slog.Int("clients", len(h.conns)))
	return true
}

func (h *Hub) detach(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
		h.logger.Info("client disconnected", slog.Int("clients", len(h.conns)))
	}
}

// HandleWS upgrades the request and starts the client's read and write
// loops.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.Any("err", err))
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}
	if !h.attach(c) {
		ws.Close()
		return
	}

	c.queueHello(h.startedAt)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// queueHello enqueues a status envelope so the client can mark the stream
// healthy before any operation messages arrive.
func (c *conn) queueHello(startedAt time.Time) {
	uptime := int64(time.Since(startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	hello, err := json.Marshal(map[string]any{
		"type": "engine_status",
		"payload": map[string]any{
			"connected":      true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- hello:
	default:
	}
}

// readLoop drains inbound frames. The stream is one-way; inbound frames
// only serve pong handling and close detection.
func (h *Hub) readLoop(c *conn) {
	defer func() {
		h.detach(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("unexpected close", slog.Any("err", err))
			}
			return
		}
	}
}

// writeLoop pushes queued frames and keepalive pings to the client.
func (h *Hub) writeLoop(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
