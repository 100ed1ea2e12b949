// Package relay implements the authoritative session server: an
// in-memory session store, a WebSocket connection hub, request handling,
// and optional NATS fan-out between relay instances.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/protocol"
	"github.com/mcdev12/watchparty/go/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrControlLocked   = errors.New("session is control locked by its owner")
)

// Session is the relay's canonical record for one watch party.
type Session struct {
	ID        uuid.UUID
	VideoID   int64
	OwnerID   string // empty unless control locked
	Position  time.Duration
	PlayState session.PlayState
	AsOf      time.Time
	Messages  []protocol.ChatMessage
}

// Store keeps every live session in memory. Persistence is deliberately
// absent: a relay restart is recovered by client reboot messages, not by
// a database.
type Store struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewStore creates an empty store.
func NewStore(clk clockwork.Clock) *Store {
	return &Store{
		clock:    clk,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Create opens a new session for videoID, paused at zero. A non-empty
// ownerID control-locks the session to that user.
func (s *Store) Create(videoID int64, ownerID string) Session {
	sess := &Session{
		ID:        uuid.New(),
		VideoID:   videoID,
		OwnerID:   ownerID,
		PlayState: session.Paused,
		AsOf:      s.clock.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	log.Info().
		Str("session_id", sess.ID.String()).
		Int64("video_id", videoID).
		Bool("control_lock", ownerID != "").
		Msg("session created")
	return *sess
}

// Get returns a copy of the session.
func (s *Store) Get(id uuid.UUID) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Update applies a proposal under last-accepted-write-wins, except that a
// control-locked session only accepts proposals from its owner.
func (s *Store) Update(id uuid.UUID, userID string, pos time.Duration, asOf time.Time, ps session.PlayState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if sess.OwnerID != "" && sess.OwnerID != userID {
		return ErrControlLocked
	}
	sess.Position = pos
	sess.AsOf = asOf
	sess.PlayState = ps
	return nil
}

// AppendMessage records a chat message in the session backlog.
func (s *Store) AppendMessage(id uuid.UUID, msg protocol.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.Messages = append(sess.Messages, msg)
	return nil
}

// Reboot reconstructs a session from client-supplied truth after a relay
// restart. When the session still exists the relay's record wins and is
// returned unchanged; otherwise the client's copy becomes the record.
func (s *Store) Reboot(id uuid.UUID, videoID int64, ownerID string, pos time.Duration, asOf time.Time, ps session.PlayState, messages []protocol.ChatMessage) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return *sess
	}
	sess := &Session{
		ID:        id,
		VideoID:   videoID,
		OwnerID:   ownerID,
		Position:  pos,
		PlayState: ps,
		AsOf:      asOf,
		Messages:  append([]protocol.ChatMessage(nil), messages...),
	}
	s.sessions[id] = sess

	log.Info().Str("session_id", id.String()).Msg("session rebuilt from client reboot")
	return *sess
}

// Remove drops a session, typically once its last member disconnects.
func (s *Store) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		log.Info().Str("session_id", id.String()).Msg("session removed")
	}
}

// Count returns how many sessions are live.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
