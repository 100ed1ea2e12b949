package protocol

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/watchparty/go/internal/session"
)

// MessageType identifies a relay message.
type MessageType string

const (
	TypeGetServerTime MessageType = "getServerTime"
	TypeCreateSession MessageType = "createSession"
	TypeJoinSession   MessageType = "joinSession"
	TypeLeaveSession  MessageType = "leaveSession"
	TypeUpdateSession MessageType = "updateSession"
	TypeReboot        MessageType = "reboot"
	TypeSendMessage   MessageType = "sendMessage"
	TypeTyping        MessageType = "typing"

	// Relay-to-client pushes.
	TypeUpdate      MessageType = "update"
	TypeSetPresence MessageType = "setPresence"
)

// Envelope frames every message on the persistent channel. Requests carry
// a nonzero ID that the reply echoes; pushes carry a type and no ID.
type Envelope struct {
	ID   uint64          `json:"id,omitempty"`
	Type MessageType     `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// PlaybackState is the wire form of the authoritative playback triple.
// Positions and timestamps travel as integer milliseconds.
type PlaybackState struct {
	Position  int64  `json:"position"`
	AsOf      int64  `json:"asOf"`
	PlayState string `json:"playState"`
}

// NewPlaybackState converts model types to wire fields.
func NewPlaybackState(position time.Duration, asOf time.Time, ps session.PlayState) PlaybackState {
	return PlaybackState{
		Position:  position.Milliseconds(),
		AsOf:      asOf.UnixMilli(),
		PlayState: string(ps),
	}
}

// Pos returns the position as a duration.
func (p PlaybackState) Pos() time.Duration {
	return time.Duration(p.Position) * time.Millisecond
}

// Time returns the AsOf timestamp.
func (p PlaybackState) Time() time.Time {
	return time.UnixMilli(p.AsOf)
}

// State returns the play state, defaulting to paused on garbage input.
func (p PlaybackState) State() session.PlayState {
	ps := session.PlayState(p.PlayState)
	if !ps.Valid() {
		return session.Paused
	}
	return ps
}

// ChatMessage is a single chat entry relayed between session members.
type ChatMessage struct {
	UserID          string `json:"userId"`
	Body            string `json:"body"`
	IsSystemMessage bool   `json:"isSystemMessage,omitempty"`
	SentAt          int64  `json:"sentAt,omitempty"`
}

type GetServerTimeRequest struct {
	ClientVersion string `json:"clientVersion"`
}

type GetServerTimeReply struct {
	ServerTime int64 `json:"serverTime"`
}

type CreateSessionRequest struct {
	ControlLock bool  `json:"controlLock"`
	VideoID     int64 `json:"videoId"`
}

type CreateSessionReply struct {
	SessionID string `json:"sessionId"`
	PlaybackState
}

type JoinSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type JoinSessionReply struct {
	ErrorMessage string        `json:"errorMessage,omitempty"`
	OwnerID      string        `json:"ownerId,omitempty"`
	VideoID      int64         `json:"videoId,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`
	PlaybackState
}

type LeaveSessionReply struct{}

// UpdateSessionRequest is an optimistic-concurrency proposal: the relay
// either applies it silently or answers with an error message, in which
// case the proposer must roll back its speculative state.
type UpdateSessionRequest struct {
	PlaybackState
}

type UpdateSessionReply struct {
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// RebootRequest resupplies a client's last-known truth after a relay
// restart so the session can be reconstructed.
type RebootRequest struct {
	SessionID string        `json:"sessionId"`
	OwnerID   string        `json:"ownerId,omitempty"`
	UserID    string        `json:"userId"`
	VideoID   int64         `json:"videoId"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	PlaybackState
}

// RebootReply carries the relay's current truth back down.
type RebootReply struct {
	PlaybackState
}

type SendMessageRequest struct {
	Body string `json:"body"`
}

type TypingRequest struct {
	Typing bool `json:"typing"`
}

type PresencePush struct {
	AnyoneTyping bool `json:"anyoneTyping"`
}

// ParsePush decodes the payload of a relay-to-client push. Unknown types
// decode to nil without error so a newer relay does not break an older
// client.
func ParsePush(env Envelope) (interface{}, error) {
	switch env.Type {
	case TypeUpdate:
		var p PlaybackState
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeSendMessage:
		var p ChatMessage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeSetPresence:
		var p PresencePush
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, nil
	}
}
