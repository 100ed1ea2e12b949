package relay

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/protocol"
)

// Handler executes relay requests against the store and fans out the
// resulting pushes.
type Handler struct {
	store  *Store
	hub    *Hub
	clock  clockwork.Clock
	fanout *Fanout // optional

	typingMu sync.Mutex
	typing   map[uuid.UUID]map[string]bool
}

// NewHandler wires request handling to a store and hub.
func NewHandler(store *Store, hub *Hub, clk clockwork.Clock) *Handler {
	return &Handler{
		store:  store,
		hub:    hub,
		clock:  clk,
		typing: make(map[uuid.UUID]map[string]bool),
	}
}

// SetFanout enables inter-instance fan-out of accepted updates.
func (h *Handler) SetFanout(f *Fanout) {
	h.fanout = f
}

func reply(id uint64, payload interface{}) *protocol.Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply payload")
		return &protocol.Envelope{ID: id}
	}
	return &protocol.Envelope{ID: id, Data: data}
}

// Handle dispatches one request envelope.
func (h *Handler) Handle(c *Conn, env protocol.Envelope) *protocol.Envelope {
	switch env.Type {
	case protocol.TypeGetServerTime:
		return reply(env.ID, protocol.GetServerTimeReply{ServerTime: h.clock.Now().UnixMilli()})

	case protocol.TypeCreateSession:
		return h.handleCreate(c, env)

	case protocol.TypeJoinSession:
		return h.handleJoin(c, env)

	case protocol.TypeLeaveSession:
		return h.handleLeave(c, env)

	case protocol.TypeUpdateSession:
		return h.handleUpdate(c, env)

	case protocol.TypeReboot:
		return h.handleReboot(c, env)

	case protocol.TypeSendMessage:
		return h.handleSendMessage(c, env)

	case protocol.TypeTyping:
		return h.handleTyping(c, env)

	default:
		log.Warn().
			Str("type", string(env.Type)).
			Str("connection_id", c.ID).
			Msg("unknown request type")
		return nil
	}
}

func (h *Handler) handleCreate(c *Conn, env protocol.Envelope) *protocol.Envelope {
	var req protocol.CreateSessionRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		log.Warn().Err(err).Msg("bad createSession payload")
		return reply(env.ID, protocol.UpdateSessionReply{ErrorMessage: "malformed request"})
	}

	ownerID := ""
	if req.ControlLock {
		ownerID = c.UserID
	}
	sess := h.store.Create(req.VideoID, ownerID)
	h.hub.JoinSession(c, sess.ID)

	return reply(env.ID, protocol.CreateSessionReply{
		SessionID:     sess.ID.String(),
		PlaybackState: protocol.NewPlaybackState(sess.Position, sess.AsOf, sess.PlayState),
	})
}

func (h *Handler) handleJoin(c *Conn, env protocol.Envelope) *protocol.Envelope {
	var req protocol.JoinSessionRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return reply(env.ID, protocol.JoinSessionReply{ErrorMessage: "malformed request"})
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return reply(env.ID, protocol.JoinSessionReply{ErrorMessage: "invalid session id"})
	}
	if _, ok := h.store.Get(sessionID); !ok {
		return reply(env.ID, protocol.JoinSessionReply{ErrorMessage: "session not found"})
	}

	h.hub.JoinSession(c, sessionID)
	h.systemMessage(sessionID, c.UserID, "joined the session", nil)

	// Snapshot after the join message so the backlog includes it.
	sess, ok := h.store.Get(sessionID)
	if !ok {
		return reply(env.ID, protocol.JoinSessionReply{ErrorMessage: "session not found"})
	}
	return reply(env.ID, protocol.JoinSessionReply{
		OwnerID:       sess.OwnerID,
		VideoID:       sess.VideoID,
		Messages:      sess.Messages,
		PlaybackState: protocol.NewPlaybackState(sess.Position, sess.AsOf, sess.PlayState),
	})
}

func (h *Handler) handleLeave(c *Conn, env protocol.Envelope) *protocol.Envelope {
	h.departed(c)
	return reply(env.ID, protocol.LeaveSessionReply{})
}

func (h *Handler) handleUpdate(c *Conn, env protocol.Envelope) *protocol.Envelope {
	var req protocol.UpdateSessionRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return reply(env.ID, protocol.UpdateSessionReply{ErrorMessage: "malformed request"})
	}
	sessionID := c.SessionID()
	if sessionID == uuid.Nil {
		return reply(env.ID, protocol.UpdateSessionReply{ErrorMessage: "not in a session"})
	}

	if err := h.store.Update(sessionID, c.UserID, req.Pos(), req.Time(), req.State()); err != nil {
		log.Debug().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("user_id", c.UserID).
			Msg("proposal rejected")
		return reply(env.ID, protocol.UpdateSessionReply{ErrorMessage: err.Error()})
	}

	// The proposer already holds this state; everyone else gets pushed.
	h.hub.BroadcastPush(sessionID, protocol.TypeUpdate, req.PlaybackState, c)
	if h.fanout != nil {
		h.fanout.Publish(sessionID, req.PlaybackState)
	}
	return reply(env.ID, protocol.UpdateSessionReply{})
}

func (h *Handler) handleReboot(c *Conn, env protocol.Envelope) *protocol.Envelope {
	var req protocol.RebootRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return reply(env.ID, protocol.UpdateSessionReply{ErrorMessage: "malformed request"})
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		return reply(env.ID, protocol.UpdateSessionReply{ErrorMessage: "invalid session id"})
	}

	sess := h.store.Reboot(sessionID, req.VideoID, req.OwnerID, req.Pos(), req.Time(), req.State(), req.Messages)
	h.hub.JoinSession(c, sessionID)

	return reply(env.ID, protocol.RebootReply{
		PlaybackState: protocol.NewPlaybackState(sess.Position, sess.AsOf, sess.PlayState),
	})
}

func (h *Handler) handleSendMessage(c *Conn, env protocol.Envelope) *protocol.Envelope {
	var req protocol.SendMessageRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return reply(env.ID, struct{}{})
	}
	sessionID := c.SessionID()
	if sessionID == uuid.Nil || req.Body == "" {
		return reply(env.ID, struct{}{})
	}

	msg := protocol.ChatMessage{
		UserID: c.UserID,
		Body:   req.Body,
		SentAt: h.clock.Now().UnixMilli(),
	}
	if err := h.store.AppendMessage(sessionID, msg); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("failed to store message")
		return reply(env.ID, struct{}{})
	}

	// Everyone sees the message as a push, the sender included; the ack
	// only confirms delivery to the relay.
	h.hub.BroadcastPush(sessionID, protocol.TypeSendMessage, msg, nil)
	return reply(env.ID, struct{}{})
}

func (h *Handler) handleTyping(c *Conn, env protocol.Envelope) *protocol.Envelope {
	var req protocol.TypingRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return reply(env.ID, struct{}{})
	}
	sessionID := c.SessionID()
	if sessionID == uuid.Nil {
		return reply(env.ID, struct{}{})
	}

	h.typingMu.Lock()
	if h.typing[sessionID] == nil {
		h.typing[sessionID] = make(map[string]bool)
	}
	if req.Typing {
		h.typing[sessionID][c.UserID] = true
	} else {
		delete(h.typing[sessionID], c.UserID)
	}
	anyone := len(h.typing[sessionID]) > 0
	h.typingMu.Unlock()

	h.hub.BroadcastPush(sessionID, protocol.TypeSetPresence, protocol.PresencePush{AnyoneTyping: anyone}, c)
	return reply(env.ID, struct{}{})
}

// systemMessage appends and broadcasts a system chat message. except
// limits the broadcast, usually to skip the member the message is about.
func (h *Handler) systemMessage(sessionID uuid.UUID, userID, body string, except *Conn) {
	msg := protocol.ChatMessage{
		UserID:          userID,
		Body:            body,
		IsSystemMessage: true,
		SentAt:          h.clock.Now().UnixMilli(),
	}
	if err := h.store.AppendMessage(sessionID, msg); err != nil {
		return
	}
	h.hub.BroadcastPush(sessionID, protocol.TypeSendMessage, msg, except)
}

// departed handles a member leaving, whether explicitly or by
// disconnect: the pool shrinks, typing state is cleared, and an empty
// session is removed entirely.
func (h *Handler) departed(c *Conn) {
	sessionID, empty := h.hub.LeaveSession(c)
	if sessionID == uuid.Nil {
		return
	}

	h.typingMu.Lock()
	if typers, ok := h.typing[sessionID]; ok {
		delete(typers, c.UserID)
		if empty || len(typers) == 0 {
			delete(h.typing, sessionID)
		}
	}
	h.typingMu.Unlock()

	if empty {
		h.store.Remove(sessionID)
		return
	}
	h.systemMessage(sessionID, c.UserID, "left the session", nil)
}

// ConnClosed implements RequestHandler for connection teardown.
func (h *Handler) ConnClosed(c *Conn) {
	h.departed(c)
}
