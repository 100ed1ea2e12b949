// Package client maintains the persistent relay connection for a watch
// client: request/reply correlation over one WebSocket, push dispatch,
// and reconnection with session reboot.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/chat"
	"github.com/mcdev12/watchparty/go/internal/engine"
	"github.com/mcdev12/watchparty/go/internal/protocol"
)

// ErrNotConnected is returned for requests issued while the relay link is
// down; the affected cycle is simply skipped.
var ErrNotConnected = errors.New("not connected to relay")

// Config holds client connection settings.
type Config struct {
	URL           string // ws:// or wss:// endpoint of the relay
	Version       string // client version reported on clock probes
	UserID        string // stable identity; generated when empty
	ReconnectWait time.Duration
}

// DefaultConfig returns client defaults for a local relay.
func DefaultConfig() Config {
	return Config{
		URL:           "ws://localhost:8080/ws",
		ReconnectWait: 2 * time.Second,
	}
}

// Client is the relay connection. It implements engine.Relay, so the
// synchronization engine drives its probes and proposals through it.
type Client struct {
	cfg    Config
	engine *engine.Engine
	chat   *chat.Log

	mu      sync.Mutex // guards conn and pending
	conn    *websocket.Conn
	pending map[uint64]chan protocol.Envelope

	writeMu sync.Mutex
	nextID  atomic.Uint64

	onPresence atomic.Pointer[func(bool)]
	onMessage  atomic.Pointer[func(protocol.ChatMessage)]
}

// New creates a client. Bind must be called before Run.
func New(cfg Config) *Client {
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &Client{
		cfg:     cfg,
		chat:    chat.New(),
		pending: make(map[uint64]chan protocol.Envelope),
	}
}

// Bind attaches the synchronization engine that consumes pushes.
func (c *Client) Bind(e *engine.Engine) { c.engine = e }

// Chat exposes the client's chat log.
func (c *Client) Chat() *chat.Log { return c.chat }

// UserID returns the client's stable identity.
func (c *Client) UserID() string { return c.cfg.UserID }

// OnPresence installs a callback for typing-presence pushes.
func (c *Client) OnPresence(fn func(anyoneTyping bool)) {
	c.onPresence.Store(&fn)
}

// OnMessage installs a callback invoked for every chat message push,
// after the message has entered the chat log.
func (c *Client) OnMessage(fn func(protocol.ChatMessage)) {
	c.onMessage.Store(&fn)
}

// Run dials the relay and keeps the connection alive until ctx is
// cancelled, rebooting the session after every reconnect.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("relay connection lost")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectWait):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.teardown()

	log.Info().Str("url", c.cfg.URL).Msg("connected to relay")

	// If the relay restarted while we were away it has no memory of the
	// session; resupply our last-known truth and take its answer back.
	if err := c.reboot(ctx); err != nil {
		log.Warn().Err(err).Msg("session reboot failed")
	}
	c.engine.EnqueueProbe()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read relay message: %w", err)
		}
		var env protocol.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			log.Warn().Err(err).Msg("undecodable relay message")
			continue
		}
		if env.ID != 0 {
			c.deliverReply(env)
			continue
		}
		c.dispatchPush(env)
	}
}

// teardown drops the connection and fails every pending call.
func (c *Client) teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) deliverReply(env protocol.Envelope) {
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (c *Client) dispatchPush(env protocol.Envelope) {
	payload, err := protocol.ParsePush(env)
	if err != nil {
		log.Warn().Err(err).Str("type", string(env.Type)).Msg("undecodable push")
		return
	}
	switch p := payload.(type) {
	case protocol.PlaybackState:
		c.engine.ApplyAuthoritative(p)
	case protocol.ChatMessage:
		c.chat.Append(p)
		if fn := c.onMessage.Load(); fn != nil {
			(*fn)(p)
		}
	case protocol.PresencePush:
		if fn := c.onPresence.Load(); fn != nil {
			(*fn)(p.AnyoneTyping)
		}
	default:
		log.Debug().Str("type", string(env.Type)).Msg("ignoring unknown push")
	}
}

// call sends one request and decodes its reply into out (which may be
// nil for pure acks).
func (c *Client) call(ctx context.Context, typ protocol.MessageType, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", typ, err)
	}

	id := c.nextID.Add(1)
	ch := make(chan protocol.Envelope, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	env := protocol.Envelope{ID: id, Type: typ, Data: data}
	c.writeMu.Lock()
	err = conn.WriteJSON(env)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("send %s request: %w", typ, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if out != nil && len(reply.Data) > 0 {
			if err := json.Unmarshal(reply.Data, out); err != nil {
				return fmt.Errorf("decode %s reply: %w", typ, err)
			}
		}
		return nil
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// reboot resupplies the client's last-known truth after a reconnect, so
// a relay that crashed can reconstruct the session.
func (c *Client) reboot(ctx context.Context) error {
	st := c.engine.Snapshot()
	if !st.Active() {
		return nil
	}
	req := protocol.RebootRequest{
		SessionID:     st.SessionID.String(),
		OwnerID:       st.OwnerID,
		UserID:        c.cfg.UserID,
		VideoID:       st.VideoID,
		Messages:      c.chat.Messages(),
		PlaybackState: protocol.NewPlaybackState(st.Position, st.AsOf, st.PlayState),
	}
	var reply protocol.RebootReply
	if err := c.call(ctx, protocol.TypeReboot, req, &reply); err != nil {
		return err
	}
	c.engine.ApplyAuthoritative(reply.PlaybackState)
	return nil
}

// ServerTime implements clock probing for the engine.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var reply protocol.GetServerTimeReply
	req := protocol.GetServerTimeRequest{ClientVersion: c.cfg.Version}
	if err := c.call(ctx, protocol.TypeGetServerTime, req, &reply); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(reply.ServerTime), nil
}

// UpdateSession implements the engine's optimistic proposal. A relay
// rejection surfaces as *protocol.ConflictError.
func (c *Client) UpdateSession(ctx context.Context, proposal protocol.PlaybackState) error {
	var reply protocol.UpdateSessionReply
	req := protocol.UpdateSessionRequest{PlaybackState: proposal}
	if err := c.call(ctx, protocol.TypeUpdateSession, req, &reply); err != nil {
		return err
	}
	if reply.ErrorMessage != "" {
		return &protocol.ConflictError{Message: reply.ErrorMessage}
	}
	return nil
}
