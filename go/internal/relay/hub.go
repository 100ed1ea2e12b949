package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/protocol"
)

// ConnConfig holds configuration for WebSocket connections.
type ConnConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnConfig returns default WebSocket configuration.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Browser extensions connect from arbitrary origins.
			return true
		},
	}
}

// RequestHandler executes one client request and returns the reply
// envelope, or nil when no reply is due.
type RequestHandler interface {
	Handle(c *Conn, env protocol.Envelope) *protocol.Envelope
	ConnClosed(c *Conn)
}

// Hub manages the relay's WebSocket connections, organized into
// per-session pools for push broadcasting.
type Hub struct {
	mu           sync.RWMutex
	sessionConns map[uuid.UUID]map[*Conn]bool

	upgrader websocket.Upgrader
	config   ConnConfig
	handler  RequestHandler
}

// Conn represents one client connection.
type Conn struct {
	ID     string
	UserID string

	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	sessionID uuid.UUID

	ConnectedAt time.Time
	LastPing    time.Time
}

// NewHub creates a connection hub.
func NewHub(config ConnConfig) *Hub {
	return &Hub{
		sessionConns: make(map[uuid.UUID]map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// SetHandler installs the request handler. Must happen before Upgrade is
// first called.
func (h *Hub) SetHandler(handler RequestHandler) {
	h.handler = handler
}

// Upgrade turns an HTTP request into a managed WebSocket connection.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, userID string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade connection: %w", err)
	}

	conn := &Conn{
		ID:          uuid.NewString(),
		UserID:      userID,
		hub:         h,
		ws:          ws,
		send:        make(chan []byte, 256),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Msg("client connected")
	return nil
}

// SessionID returns the session the connection currently belongs to.
func (c *Conn) SessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// JoinSession moves a connection into a session pool, leaving any
// previous one.
func (h *Hub) JoinSession(c *Conn, sessionID uuid.UUID) {
	h.LeaveSession(c)

	h.mu.Lock()
	if h.sessionConns[sessionID] == nil {
		h.sessionConns[sessionID] = make(map[*Conn]bool)
	}
	h.sessionConns[sessionID][c] = true
	h.mu.Unlock()

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	log.Debug().
		Str("connection_id", c.ID).
		Str("session_id", sessionID.String()).
		Msg("connection joined session pool")
}

// LeaveSession removes a connection from its session pool, if any, and
// reports whether the pool is now empty.
func (h *Hub) LeaveSession(c *Conn) (sessionID uuid.UUID, empty bool) {
	c.mu.Lock()
	sessionID = c.sessionID
	c.sessionID = uuid.Nil
	c.mu.Unlock()
	if sessionID == uuid.Nil {
		return uuid.Nil, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessionConns[sessionID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.sessionConns, sessionID)
			return sessionID, true
		}
	}
	return sessionID, false
}

// SessionSize returns how many connections a session pool holds.
func (h *Hub) SessionSize(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessionConns[sessionID])
}

// BroadcastPush sends a push envelope to every member of a session,
// except the optional sender.
func (h *Hub) BroadcastPush(sessionID uuid.UUID, typ protocol.MessageType, payload interface{}, except *Conn) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal push payload")
		return
	}
	frame, err := json.Marshal(protocol.Envelope{Type: typ, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", string(typ)).Msg("failed to marshal push envelope")
		return
	}

	h.mu.RLock()
	var targets []*Conn
	for conn := range h.sessionConns[sessionID] {
		if conn != except {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.enqueue(frame)
	}

	log.Debug().
		Str("type", string(typ)).
		Str("session_id", sessionID.String()).
		Int("connections", len(targets)).
		Msg("push broadcast")
}

// Stats returns statistics about active connections.
func (h *Hub) Stats() (totalConns, activeSessions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.sessionConns {
		totalConns += len(conns)
	}
	return totalConns, len(h.sessionConns)
}

// enqueue hands a frame to the write pump, evicting the connection when
// its buffer is full: a client that slow is better off reconnecting.
func (c *Conn) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("send buffer full, closing connection")
		c.ws.Close()
	}
}

// reply sends a reply envelope back on this connection.
func (c *Conn) reply(env protocol.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	c.enqueue(frame)
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump reads request envelopes off the socket and dispatches them.
func (c *Conn) readPump() {
	defer func() {
		c.hub.handler.ConnClosed(c)
		c.ws.Close()

		log.Info().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Msg("client disconnected")
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected close")
			}
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))

		var env protocol.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Warn().
				Err(err).
				Str("connection_id", c.ID).
				Msg("undecodable request")
			continue
		}
		if reply := c.hub.handler.Handle(c, env); reply != nil {
			c.reply(*reply)
		}
	}
}
