package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/protocol"
	"github.com/mcdev12/watchparty/go/internal/session"
)

// ErrVideoMismatch reports a join attempt against a session that was
// started for a different video. The session is left again before this
// is returned.
var ErrVideoMismatch = errors.New("that session is for a different video")

// CreateSession opens a new session for videoID. With controlLock set,
// this client becomes the session owner and the relay will refuse
// proposals from anyone else. The local player state is announced as the
// session's first authoritative state.
func (c *Client) CreateSession(ctx context.Context, controlLock bool, videoID int64) (uuid.UUID, error) {
	req := protocol.CreateSessionRequest{ControlLock: controlLock, VideoID: videoID}
	var reply protocol.CreateSessionReply
	if err := c.call(ctx, protocol.TypeCreateSession, req, &reply); err != nil {
		return uuid.Nil, err
	}
	sessionID, err := uuid.Parse(reply.SessionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("relay returned invalid session id %q: %w", reply.SessionID, err)
	}

	ownerID := ""
	if controlLock {
		ownerID = c.cfg.UserID
	}
	c.chat.Reset(nil)
	c.engine.SetSession(session.State{
		SessionID: sessionID,
		OwnerID:   ownerID,
		VideoID:   videoID,
		Position:  reply.Pos(),
		PlayState: reply.State(),
		AsOf:      reply.Time(),
	}, true)

	log.Info().
		Str("session_id", sessionID.String()).
		Bool("control_lock", controlLock).
		Msg("session created")
	return sessionID, nil
}

// JoinSession joins an existing session, rejecting locally when the
// session's video does not match the one on this client's surface.
func (c *Client) JoinSession(ctx context.Context, sessionID uuid.UUID, videoID int64) error {
	req := protocol.JoinSessionRequest{SessionID: sessionID.String()}
	var reply protocol.JoinSessionReply
	if err := c.call(ctx, protocol.TypeJoinSession, req, &reply); err != nil {
		return err
	}
	if reply.ErrorMessage != "" {
		return errors.New(reply.ErrorMessage)
	}
	if reply.VideoID != videoID {
		if err := c.call(ctx, protocol.TypeLeaveSession, struct{}{}, nil); err != nil {
			log.Warn().Err(err).Msg("failed to leave mismatched session")
		}
		return ErrVideoMismatch
	}

	c.chat.Reset(reply.Messages)
	c.engine.SetSession(session.State{
		SessionID: sessionID,
		OwnerID:   reply.OwnerID,
		VideoID:   videoID,
		Position:  reply.Pos(),
		PlayState: reply.State(),
		AsOf:      reply.Time(),
	}, false)

	log.Info().Str("session_id", sessionID.String()).Msg("session joined")
	return nil
}

// LeaveSession leaves the current session, if any.
func (c *Client) LeaveSession(ctx context.Context) error {
	if err := c.call(ctx, protocol.TypeLeaveSession, struct{}{}, nil); err != nil {
		return err
	}
	c.engine.ClearSession()
	log.Info().Msg("session left")
	return nil
}

// SendChat relays a chat message to the session. The message comes back
// as a push to every member, this client included, where it enters the
// chat log.
func (c *Client) SendChat(ctx context.Context, body string) error {
	return c.call(ctx, protocol.TypeSendMessage, protocol.SendMessageRequest{Body: body}, nil)
}

// SetTyping reports typing presence to the session.
func (c *Client) SetTyping(ctx context.Context, typing bool) error {
	return c.call(ctx, protocol.TypeTyping, protocol.TypingRequest{Typing: typing}, nil)
}
