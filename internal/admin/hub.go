package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

const (
	writeTimeout   = 5 * time.Second
	maxInboundSize = 64 << 10
)

// wsConn is the part of *websocket.Conn the hub writes through
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Hub fans events out to authenticated admin WebSocket connections.
// Each connection has its own write lock and broadcasts write to all
// connections in parallel, so a stalled client holds up no one else's writes.
type Hub struct {
	mu      sync.Mutex
	conns   map[wsConn]*client
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

type client struct {
	mu   sync.Mutex
	conn wsConn
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// NewHub creates an empty hub
func NewHub(metrics *middleware.Metrics, logger *logrus.Logger) *Hub {
	return &Hub{
		conns:   map[wsConn]*client{},
		metrics: metrics,
		logger:  logger,
	}
}

// Add registers a connection for broadcasts
func (h *Hub) Add(conn wsConn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.conns[conn] = &client{conn: conn}
	}
	h.reportLocked()
	h.mu.Unlock()
}

// Remove unregisters and closes a connection
func (h *Hub) Remove(conn wsConn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.reportLocked()
	h.mu.Unlock()
	_ = conn.Close()
}

// Broadcast writes data to every connection in parallel and waits for the
// writes to finish. A connection whose write fails is dropped.
func (h *Hub) Broadcast(data []byte) {
	if len(data) == 0 {
		return
	}

	h.mu.Lock()
	clients := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed []*client
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := c.write(data); err != nil {
				h.logger.WithError(err).Warn("WebSocket broadcast failed, dropping connection")
				failMu.Lock()
				failed = append(failed, c)
				failMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range failed {
		if h.conns[c.conn] == c {
			delete(h.conns, c.conn)
		}
	}
	h.reportLocked()
	h.mu.Unlock()
	for _, c := range failed {
		_ = c.conn.Close()
	}
}

// Send writes data to a single connection. Registered connections share
// their broadcast write lock; an unregistered one is only written by its
// own reader.
func (h *Hub) Send(conn wsConn, data []byte) error {
	h.mu.Lock()
	c, ok := h.conns[conn]
	h.mu.Unlock()
	if !ok {
		c = &client{conn: conn}
	}
	return c.write(data)
}

// Count returns the number of registered connections
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes and forgets every connection
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = map[wsConn]*client{}
	h.reportLocked()
	h.mu.Unlock()
	for conn := range conns {
		_ = conn.Close()
	}
}

func (h *Hub) reportLocked() {
	if h.metrics != nil {
		h.metrics.SetWSConnections(len(h.conns))
	}
}

type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

var (
	msgAuthSuccess  = []byte(`{"type":"auth_success"}`)
	msgAuthFailed   = []byte(`{"type":"auth_failed"}`)
	msgAuthRequired = []byte(`{"type":"auth_required"}`)
	msgPong         = []byte(`{"type":"pong"}`)
)

// handleWebSocket serves /ws. The admin token arrives either as the token
// query parameter or in a first {"type":"auth"} message; only authenticated
// connections receive events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}

	if token != "" && !s.validToken(token) {
		closeWithPolicy(conn, "Invalid auth token")
		return
	}

	authenticated := token != ""
	if authenticated {
		s.hub.Add(conn)
	}
	defer s.hub.Remove(conn)

	conn.SetReadLimit(maxInboundSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch {
		case !authenticated && msg.Type == "auth":
			if !s.validToken(msg.Token) {
				s.hub.Send(conn, msgAuthFailed)
				closeWithPolicy(conn, "Authentication failed")
				return
			}
			authenticated = true
			s.hub.Add(conn)
			s.hub.Send(conn, msgAuthSuccess)
		case msg.Type == "ping":
			s.hub.Send(conn, msgPong)
		case !authenticated:
			s.hub.Send(conn, msgAuthRequired)
		}
	}
}

func closeWithPolicy(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
