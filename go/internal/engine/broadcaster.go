package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/player"
	"github.com/mcdev12/watchparty/go/internal/protocol"
	"github.com/mcdev12/watchparty/go/internal/session"
)

// materialChange is the smallest position divergence worth proposing to
// the relay; anything below it with an unchanged play state is chatter.
const materialChange = time.Millisecond

// Broadcast proposes the locally observed playback state as the new
// authoritative state. With settle=true it first waits, best effort, for
// the player to visibly react to whatever input triggered the call; a
// player that never settles is compared as-is. The local state is updated
// speculatively before the proposal goes out and rolled back, bit for
// bit, if the relay rejects it.
func (e *Engine) Broadcast(ctx context.Context, settle bool) error {
	if !e.SessionActive() {
		return nil
	}

	if settle {
		oldPos := e.adapter.Position()
		oldState := e.adapter.State()
		err := waitUntil(ctx, e.clock, "player to settle", e.cfg.SettleBudget, func() bool {
			return absDuration(e.adapter.Position()-oldPos) >= e.cfg.SettleMovement ||
				e.adapter.State() != oldState
		})
		if err != nil {
			var te *TimeoutError
			if !errors.As(err, &te) {
				return err
			}
			log.Debug().Msg("player never settled, comparing anyway")
		}
	}

	if err := waitUntil(ctx, e.clock, "player to finish loading", 0, func() bool {
		return e.adapter.State() != player.StateLoading
	}); err != nil {
		return err
	}

	now := e.clock.Now()
	offset := e.clockSync.Offset()
	local := e.adapter.Position()
	newState := session.Paused
	if e.adapter.State() == player.StatePlaying {
		newState = session.Playing
	}

	e.mu.Lock()
	implied := e.state.ProjectedPosition(now, offset)
	if newState == e.state.PlayState && absDuration(local-implied) < materialChange {
		e.mu.Unlock()
		return nil
	}

	prev := e.state
	e.state.Position = local
	e.state.AsOf = now.Add(-offset)
	e.state.PlayState = newState
	proposal := protocol.NewPlaybackState(local, e.state.AsOf, newState)
	e.mu.Unlock()

	if err := e.relay.UpdateSession(ctx, proposal); err != nil {
		e.mu.Lock()
		e.state = prev
		e.mu.Unlock()
		return fmt.Errorf("update session: %w", err)
	}

	log.Debug().
		Dur("position", local).
		Str("play_state", string(newState)).
		Msg("broadcast accepted")
	return nil
}
