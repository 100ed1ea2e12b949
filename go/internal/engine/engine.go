package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/clock"
	"github.com/mcdev12/watchparty/go/internal/player"
	"github.com/mcdev12/watchparty/go/internal/protocol"
	"github.com/mcdev12/watchparty/go/internal/session"
)

// Relay is the slice of the relay connection the engine drives.
type Relay interface {
	clock.ServerTimer

	// UpdateSession proposes new authoritative playback state. It returns
	// a *protocol.ConflictError when the relay rejects the proposal.
	UpdateSession(ctx context.Context, proposal protocol.PlaybackState) error
}

// Engine owns the process-wide synchronization state: the mirrored
// session state, the clock estimate, the seek calibration, and the task
// queue that serializes all work against the player and the relay. All
// mutation of the session state happens from linearized tasks or from the
// short locked sections below, so no task ever observes a partial update.
type Engine struct {
	cfg     Config
	clock   clockwork.Clock
	adapter player.Adapter
	relay   Relay

	clockSync  *clock.Synchronizer
	calibrator *Calibrator
	queue      *Queue

	// videoIdentity reports the identity of the video currently on the
	// local surface, 0 when unknown. Optional.
	videoIdentity func() int64

	mu    sync.Mutex
	state session.State

	// simulated counts adapter commands currently issued by the engine
	// itself. User-activity reports are ignored while it is nonzero,
	// otherwise the engine would mistake its own actions for input.
	simulated atomic.Int32
}

// Option customizes engine construction.
type Option func(*Engine)

// WithVideoIdentity installs a provider for the local video identity,
// used to drop the session when the underlying video changes.
func WithVideoIdentity(fn func() int64) Option {
	return func(e *Engine) { e.videoIdentity = fn }
}

// New creates an engine bound to one adapter and one relay connection.
func New(adapter player.Adapter, relay Relay, clk clockwork.Clock, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		clock:   clk,
		adapter: adapter,
		relay:   relay,
	}
	e.clockSync = clock.NewSynchronizer(relay, clk)
	e.calibrator = NewCalibrator(adapter, clk, cfg, &e.simulated)
	e.queue = NewQueue(e.prelude)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClockSync exposes the engine's clock synchronizer.
func (e *Engine) ClockSync() *clock.Synchronizer { return e.clockSync }

// Calibrator exposes the engine's seek calibrator.
func (e *Engine) Calibrator() *Calibrator { return e.calibrator }

// Queue exposes the engine's task linearizer.
func (e *Engine) Queue() *Queue { return e.queue }

// Snapshot returns a copy of the mirrored session state.
func (e *Engine) Snapshot() session.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionActive reports whether the client is in a session.
func (e *Engine) SessionActive() bool {
	return e.Snapshot().Active()
}

// SetSession installs a freshly created or joined session. When announce
// is true (session creation) the local player state is broadcast as the
// session's first authoritative state; otherwise (join) the installed
// state is reconciled onto the player.
func (e *Engine) SetSession(st session.State, announce bool) {
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()

	if announce {
		e.queue.Push("broadcast", func(ctx context.Context) error {
			return e.Broadcast(ctx, false)
		})
	} else {
		e.EnqueueReconcile()
	}
}

// ClearSession drops the local session state. Reconciliation and
// broadcasting become no-ops until a new session is installed.
func (e *Engine) ClearSession() {
	e.mu.Lock()
	e.state = session.State{VideoID: e.state.VideoID}
	e.mu.Unlock()
}

// ApplyAuthoritative overwrites the playback triple with a server push
// and schedules a reconciliation pass. Identity fields are untouched.
func (e *Engine) ApplyAuthoritative(ps protocol.PlaybackState) {
	e.mu.Lock()
	e.state.Position = ps.Pos()
	e.state.AsOf = ps.Time()
	e.state.PlayState = ps.State()
	e.mu.Unlock()
	e.EnqueueReconcile()
}

// EnqueueReconcile schedules one reconciliation pass.
func (e *Engine) EnqueueReconcile() {
	e.queue.Push("reconcile", e.Reconcile)
}

// EnqueueProbe schedules one clock probe.
func (e *Engine) EnqueueProbe() {
	e.queue.Push("probe", e.clockSync.Probe)
}

// OnUserActivity reports raw user input against the playback surface.
// Input observed while the engine itself is driving the player is
// ignored. Otherwise the locally observed change is broadcast, falling
// back to reconciliation when the relay rejects it.
func (e *Engine) OnUserActivity() {
	if !e.SessionActive() || e.simulated.Load() > 0 {
		return
	}
	e.queue.Push("broadcast", func(ctx context.Context) error {
		if err := e.Broadcast(ctx, true); err != nil {
			log.Debug().Err(err).Msg("broadcast failed, pulling authoritative state")
			return e.Reconcile(ctx)
		}
		return nil
	})
}

// Run starts the task queue and the periodic probe-and-reconcile driver.
// It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.queue.Start(ctx)
	e.EnqueueProbe()

	ticker := e.clock.NewTicker(e.cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			e.cycle()
		}
	}
}

// cycle schedules one probe-and-reconcile pass. Passes still draining
// from a previous cycle suppress new ones, so corrective work never
// piles up behind a slow player.
func (e *Engine) cycle() {
	if e.queue.InFlight() > 0 {
		return
	}
	e.checkVideoIdentity()
	e.EnqueueProbe()
	e.EnqueueReconcile()
}

// checkVideoIdentity drops the session when the video on the local
// surface is no longer the one the session was started for.
func (e *Engine) checkVideoIdentity() {
	if e.videoIdentity == nil {
		return
	}
	current := e.videoIdentity()
	if current == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.VideoID != 0 && e.state.VideoID != current {
		log.Info().
			Int64("session_video", e.state.VideoID).
			Int64("current_video", current).
			Msg("video changed, leaving session")
		e.state = session.State{VideoID: current}
	}
}

// play ensures the adapter is playing. Already-playing surfaces get no
// command at all.
func (e *Engine) play(ctx context.Context) error {
	if e.adapter.State() == player.StatePlaying {
		return nil
	}
	e.simulated.Add(1)
	defer e.simulated.Add(-1)

	if err := e.adapter.Play(); err != nil {
		return err
	}
	if err := waitUntil(ctx, e.clock, "playback to start", e.cfg.PlayBudget, func() bool {
		return e.adapter.State() == player.StatePlaying
	}); err != nil {
		return err
	}
	if err := e.adapter.HideControls(); err != nil {
		log.Debug().Err(err).Msg("hide controls failed after play")
	}
	return nil
}

// pause ensures the adapter is paused.
func (e *Engine) pause(ctx context.Context) error {
	if e.adapter.State() == player.StatePaused {
		return nil
	}
	e.simulated.Add(1)
	defer e.simulated.Add(-1)

	if err := e.adapter.Pause(); err != nil {
		return err
	}
	if err := waitUntil(ctx, e.clock, "playback to pause", e.cfg.PauseBudget, func() bool {
		return e.adapter.State() == player.StatePaused
	}); err != nil {
		return err
	}
	if err := e.adapter.HideControls(); err != nil {
		log.Debug().Err(err).Msg("hide controls failed after pause")
	}
	return nil
}

// freeze holds playback for gap and then resumes, letting wall time catch
// up to a seek that landed ahead of the prediction. Far less disruptive
// than seeking backward.
func (e *Engine) freeze(ctx context.Context, gap time.Duration) error {
	e.simulated.Add(1)
	defer e.simulated.Add(-1)

	if err := e.adapter.Pause(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.clock.After(gap):
	}
	if err := e.adapter.Play(); err != nil {
		return err
	}
	if err := e.adapter.HideControls(); err != nil {
		log.Debug().Err(err).Msg("hide controls failed after freeze")
	}
	return nil
}

// prelude runs before every linearized task: an idle surface is nudged
// awake, best effort, so the task body finds a live player.
func (e *Engine) prelude(ctx context.Context) {
	if e.adapter.State() != player.StateIdle {
		return
	}
	e.simulated.Add(1)
	defer e.simulated.Add(-1)

	if err := e.adapter.Play(); err != nil {
		log.Debug().Err(err).Msg("wake-up command failed")
		return
	}
	if err := waitUntil(ctx, e.clock, "player to wake", e.cfg.IdleWakeBudget, func() bool {
		return e.adapter.State() != player.StateIdle
	}); err != nil {
		log.Debug().Err(err).Msg("player did not wake in time")
	}
}
