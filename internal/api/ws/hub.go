// Package ws pushes alert events to connected WebSocket clients. The
// hub is a notification sink: delivery is fire-and-forget and a slow
// client is dropped rather than allowed to block the core.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/profilium/fleet/backend/internal/infrastructure/logging"
	"github.com/profilium/fleet/backend/internal/infrastructure/monitoring"
	"github.com/profilium/fleet/backend/internal/shared/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced by the CORS layer.
	},
}

type client struct {
	conn   *websocket.Conn
	send   chan envelope
	userID string
}

type envelope struct {
	Type  string      `json:"type"`
	Alert types.Alert `json:"alert,omitempty"`
}

// Hub fans alerts out to subscribed connections.
type Hub struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		logger:  logger.Named("ws"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// Emit implements the alert sink. Alerts are delivered to clients
// subscribed for the alert's user; a full send buffer drops the client.
func (h *Hub) Emit(alert types.Alert) error {
	msg := envelope{Type: "alert", Alert: alert}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if c.userID != "" && alert.UserID != "" && c.userID != alert.UserID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Buffer full; the write pump will notice the closed channel.
			go h.drop(c)
		}
	}
	return nil
}

// HandleConnection upgrades the request and serves the connection until
// the client disconnects. The optional user query parameter scopes which
// alerts the client receives.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		conn:   conn,
		send:   make(chan envelope, sendBufferSize),
		userID: c.Query("user"),
	}

	h.mu.Lock()
	h.clients[cl] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetWSConnections(count)

	h.logger.Debug("client connected", zap.Int("clients", count))

	go h.writePump(cl)
	h.readPump(cl)
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.drop(c)
	}
}

// readPump discards inbound frames; the socket is push-only apart from
// keepalive handling.
func (h *Hub) readPump(cl *client) {
	defer h.drop(cl)

	cl.conn.SetReadLimit(512)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(cl)
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			if !ok {
				return
			}
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(cl *client) {
	h.mu.Lock()
	_, present := h.clients[cl]
	if present {
		delete(h.clients, cl)
		close(cl.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if present {
		cl.conn.Close()
		h.metrics.SetWSConnections(count)
		h.logger.Debug("client disconnected", zap.Int("clients", count))
	}
}
