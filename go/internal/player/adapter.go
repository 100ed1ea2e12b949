package player

import "time"

// State is the externally observable condition of a playback surface.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateLoading, StatePlaying, StatePaused:
		return true
	}
	return false
}

// Adapter drives a single playback surface. Reads (State, Position,
// Duration) are synchronous snapshots and must always reflect a fresh
// observation. Commands are fire-and-forget: issuing one only starts the
// surface moving toward the requested condition, and completion has to be
// observed through polling rather than assumed.
type Adapter interface {
	State() State
	Position() time.Duration
	Duration() time.Duration

	Play() error
	Pause() error
	Seek(target time.Duration) error

	ShowControls() error
	HideControls() error
}
