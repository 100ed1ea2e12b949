// Package playertest provides a deterministic in-memory playback surface
// for exercising the synchronization engine without a real player.
package playertest

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/watchparty/go/internal/player"
)

// Adapter simulates a playback surface. While playing, its position
// advances with the supplied clock, so tests on a fake clock stay fully
// deterministic. Commands apply immediately unless a state script has
// been installed with SetState.
type Adapter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	state    player.State
	position time.Duration
	duration time.Duration
	lastTick time.Time

	// SeekBias is added to every seek target, simulating a surface whose
	// seek control systematically over- or undershoots.
	seekBias time.Duration

	commands []string
}

// New creates an adapter in the paused state with a one-hour video.
func New(clk clockwork.Clock) *Adapter {
	return &Adapter{
		clock:    clk,
		state:    player.StatePaused,
		duration: time.Hour,
		lastTick: clk.Now(),
	}
}

// advance moves the position forward by the wall time elapsed since the
// last observation. Callers must hold mu.
func (a *Adapter) advance() {
	now := a.clock.Now()
	if a.state == player.StatePlaying {
		a.position += now.Sub(a.lastTick)
		if a.position > a.duration {
			a.position = a.duration
		}
	}
	a.lastTick = now
}

func (a *Adapter) State() player.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	return a.state
}

func (a *Adapter) Position() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	return a.position
}

func (a *Adapter) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration
}

func (a *Adapter) Play() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	a.state = player.StatePlaying
	a.commands = append(a.commands, "play")
	return nil
}

func (a *Adapter) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	a.state = player.StatePaused
	a.commands = append(a.commands, "pause")
	return nil
}

func (a *Adapter) Seek(target time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	landed := target + a.seekBias
	if landed < 0 {
		landed = 0
	}
	if landed > a.duration {
		landed = a.duration
	}
	a.position = landed
	a.commands = append(a.commands, fmt.Sprintf("seek %s", target))
	return nil
}

func (a *Adapter) ShowControls() error { return nil }
func (a *Adapter) HideControls() error { return nil }

// SetState forces the observable state without recording a command, e.g.
// to simulate loading or idle phases.
func (a *Adapter) SetState(s player.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	a.state = s
}

// SetPosition forces the playhead, simulating user scrubbing.
func (a *Adapter) SetPosition(p time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance()
	a.position = p
}

// SetDuration overrides the video length.
func (a *Adapter) SetDuration(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.duration = d
}

// SetSeekBias installs a constant seek error.
func (a *Adapter) SetSeekBias(b time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seekBias = b
}

// Commands returns every command issued so far, in order.
func (a *Adapter) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

// ResetCommands clears the recorded command list.
func (a *Adapter) ResetCommands() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commands = nil
}
