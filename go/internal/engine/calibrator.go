package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/player"
	"github.com/mcdev12/watchparty/go/internal/stats"
)

const (
	// biasWindow bounds the recent seek-error samples.
	biasWindow = 5

	// maxSeekError clamps individual error samples; anything beyond this
	// is a spurious adapter report, not a calibration signal.
	maxSeekError = 10 * time.Second
)

// Calibrator wraps every logical seek and learns the playback surface's
// systematic seek error so future targets can be pre-corrected. One
// calibrator exists per process, continuously updated and never reset, so
// the system self-calibrates against an imprecise seek control without
// adapter-specific tuning.
type Calibrator struct {
	adapter player.Adapter
	clock   clockwork.Clock
	cfg     Config
	busy    *atomic.Int32

	mu     sync.Mutex
	recent []time.Duration
	bias   time.Duration
}

// NewCalibrator creates a calibrator for the given adapter. busy is the
// simulated-input counter, held while the calibrator drives the surface.
func NewCalibrator(adapter player.Adapter, clk clockwork.Clock, cfg Config, busy *atomic.Int32) *Calibrator {
	return &Calibrator{
		adapter: adapter,
		clock:   clk,
		cfg:     cfg,
		busy:    busy,
	}
}

// Bias returns the current mean seek error.
func (c *Calibrator) Bias() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bias
}

// Seek drives the adapter toward target, pre-correcting for the learned
// bias, and folds the newly observed error into the bias estimate once
// the adapter confirms the move.
func (c *Calibrator) Seek(ctx context.Context, target time.Duration) error {
	c.busy.Add(1)
	defer c.busy.Add(-1)

	corrected := target - c.Bias()
	if d := c.adapter.Duration(); d > 0 && corrected > d {
		corrected = d
	}
	if corrected < 0 {
		corrected = 0
	}

	if err := c.adapter.ShowControls(); err != nil {
		log.Debug().Err(err).Msg("show controls failed before seek")
	}
	defer func() {
		if err := c.adapter.HideControls(); err != nil {
			log.Debug().Err(err).Msg("hide controls failed after seek")
		}
	}()

	before := c.adapter.Position()
	if err := c.adapter.Seek(corrected); err != nil {
		return fmt.Errorf("seek to %s: %w", corrected, err)
	}
	if err := waitUntil(ctx, c.clock, "seek to take effect", c.cfg.SeekBudget, func() bool {
		return absDuration(c.adapter.Position()-before) >= time.Millisecond
	}); err != nil {
		return err
	}

	observed := c.adapter.Position()
	sample := clampDuration(observed-target, -maxSeekError, maxSeekError)

	c.mu.Lock()
	c.recent = stats.Shove(c.recent, sample, biasWindow)
	c.bias = stats.Mean(c.recent)
	bias := c.bias
	c.mu.Unlock()

	log.Debug().
		Dur("target", target).
		Dur("requested", corrected).
		Dur("observed", observed).
		Dur("bias", bias).
		Msg("seek calibrated")
	return nil
}
