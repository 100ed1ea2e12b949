package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/player"
	"github.com/mcdev12/watchparty/go/internal/session"
)

// Reconcile drives the playback surface toward the state the relay would
// assert right now. It is idempotent: a player already within
// MaxTimeError of the prediction receives no commands. At most one
// corrective seek is issued per pass; anything still off afterward is
// left for the next periodic cycle.
func (e *Engine) Reconcile(ctx context.Context) error {
	st := e.Snapshot()
	if !st.Active() {
		return nil
	}

	if st.PlayState == session.Paused {
		return e.reconcilePaused(ctx, st)
	}
	return e.reconcilePlaying(ctx, st)
}

func (e *Engine) reconcilePaused(ctx context.Context, st session.State) error {
	if err := e.pause(ctx); err != nil {
		return err
	}
	if absDuration(st.Position-e.adapter.Position()) > e.cfg.MaxTimeError {
		return e.calibrator.Seek(ctx, st.Position)
	}
	return nil
}

func (e *Engine) reconcilePlaying(ctx context.Context, st session.State) error {
	// Loading has no failure state to recover into, so this wait is
	// unbounded: the surface either finishes loading or the task holds
	// until it does.
	if err := waitUntil(ctx, e.clock, "player to finish loading", 0, func() bool {
		return e.adapter.State() != player.StateLoading
	}); err != nil {
		return err
	}

	local := e.adapter.Position()
	predicted := st.ProjectedPosition(e.clock.Now(), e.clockSync.Offset())
	if absDuration(local-predicted) <= e.cfg.MaxTimeError {
		return e.play(ctx)
	}

	log.Debug().
		Dur("local", local).
		Dur("predicted", predicted).
		Msg("player diverged, correcting")

	if err := e.calibrator.Seek(ctx, predicted+e.cfg.SeekLead); err != nil {
		return err
	}

	// The seek took real time; re-predict before deciding how to resume.
	local = e.adapter.Position()
	predicted = st.ProjectedPosition(e.clock.Now(), e.clockSync.Offset())
	if local > predicted && local <= predicted+e.cfg.MaxTimeError {
		return e.freeze(ctx, local-predicted)
	}
	return e.play(ctx)
}
