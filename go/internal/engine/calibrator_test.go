package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/watchparty/go/internal/player/playertest"
)

func newTestCalibrator(t *testing.T) (*Calibrator, *playertest.Adapter, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	adapter := playertest.New(clk)
	busy := new(atomic.Int32)
	return NewCalibrator(adapter, clk, DefaultConfig(), busy), adapter, clk
}

func TestSeekLearnsConstantBias(t *testing.T) {
	t.Parallel()

	cal, adapter, _ := newTestCalibrator(t)
	adapter.SetSeekBias(700 * time.Millisecond)
	ctx := context.Background()

	// The first seek lands off by the full bias and teaches it.
	if err := cal.Seek(ctx, 10*time.Second); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := adapter.Position(); got != 10*time.Second+700*time.Millisecond {
		t.Errorf("position after uncorrected seek = %s", got)
	}
	if got := cal.Bias(); got != 700*time.Millisecond {
		t.Errorf("bias = %s, want 700ms", got)
	}

	// The second seek is pre-corrected and lands exactly on target.
	if err := cal.Seek(ctx, 20*time.Second); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := adapter.Position(); got != 20*time.Second {
		t.Errorf("position after corrected seek = %s, want 20s", got)
	}
}

func TestSeekClampsWildErrorSamples(t *testing.T) {
	t.Parallel()

	cal, adapter, _ := newTestCalibrator(t)
	adapter.SetSeekBias(15 * time.Second)

	if err := cal.Seek(context.Background(), 100*time.Second); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := cal.Bias(); got != maxSeekError {
		t.Errorf("bias = %s, want %s", got, maxSeekError)
	}
}

func TestSeekClampsTargetToVideoBounds(t *testing.T) {
	t.Parallel()

	cal, adapter, _ := newTestCalibrator(t)
	adapter.SetDuration(time.Minute)

	if err := cal.Seek(context.Background(), 5*time.Minute); err != nil {
		t.Fatalf("seek: %v", err)
	}
	if got := adapter.Position(); got != time.Minute {
		t.Errorf("position = %s, want 1m", got)
	}
}

func TestSeekTimesOutWhenSurfaceNeverMoves(t *testing.T) {
	t.Parallel()

	cal, adapter, clk := newTestCalibrator(t)
	// A bias cancelling the whole target leaves the playhead where it
	// was, so the movement wait can never succeed.
	adapter.SetSeekBias(-10 * time.Second)

	done := make(chan error, 1)
	go func() {
		done <- cal.Seek(context.Background(), 10*time.Second)
	}()

	drainTimers(clk, 21)

	err := <-done
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if got := cal.Bias(); got != 0 {
		t.Errorf("bias updated from a failed seek: %s", got)
	}
}
