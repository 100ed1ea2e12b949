package session

import (
	"time"

	"github.com/google/uuid"
)

// PlayState is the authoritative rate state of a session. A session is
// either advancing in real time or holding still; the player's richer
// states (loading, idle) are local conditions the relay never sees.
type PlayState string

const (
	Playing PlayState = "playing"
	Paused  PlayState = "paused"
)

// Valid reports whether p is one of the defined play states.
func (p PlayState) Valid() bool {
	return p == Playing || p == Paused
}

// State mirrors the relay's canonical view of a session. Position is exact
// only at AsOf: while playing, the true position advances with wall time.
// AsOf is a relay-clock timestamp; converting it to local time requires
// the estimated clock offset.
type State struct {
	SessionID uuid.UUID // zero while not in a session
	OwnerID   string    // empty unless the session is control locked
	VideoID   int64     // 0 until a video is known
	Position  time.Duration
	PlayState PlayState
	AsOf      time.Time
}

// Active reports whether the client currently belongs to a session.
func (s State) Active() bool {
	return s.SessionID != uuid.Nil
}

// ProjectedPosition returns the position the relay would assert at local
// time now, given offset = local clock minus relay clock. A paused
// session does not advance.
func (s State) ProjectedPosition(now time.Time, offset time.Duration) time.Duration {
	if s.PlayState != Playing {
		return s.Position
	}
	return s.Position + now.Sub(s.AsOf.Add(offset))
}
