package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// pollInterval is how often waitUntil re-checks its predicate.
const pollInterval = 250 * time.Millisecond

// TimeoutError reports a bounded wait whose condition was never observed.
// The task that hit it is abandoned; the next periodic cycle retries from
// scratch.
type TimeoutError struct {
	What   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Budget, e.What)
}

// waitUntil polls cond until it returns true. A budget of zero waits
// forever; otherwise the wait fails with a TimeoutError once the budget
// is exhausted.
func waitUntil(ctx context.Context, clk clockwork.Clock, what string, budget time.Duration, cond func() bool) error {
	start := clk.Now()
	for {
		if cond() {
			return nil
		}
		if budget > 0 && clk.Since(start) > budget {
			return &TimeoutError{What: what, Budget: budget}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(pollInterval):
		}
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
