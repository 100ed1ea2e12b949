package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// steppedServer simulates a relay whose clock runs skew behind the local
// one, reached over a link with a symmetric round trip. Each call advances
// the shared fake clock the way a real exchange would consume wall time.
type steppedServer struct {
	clk  *clockwork.FakeClock
	skew time.Duration
	rtt  time.Duration
}

func (s *steppedServer) ServerTime(ctx context.Context) (time.Time, error) {
	s.clk.Advance(s.rtt / 2)
	stamped := s.clk.Now().Add(-s.skew)
	s.clk.Advance(s.rtt / 2)
	return stamped, nil
}

type erroringServer struct{}

func (erroringServer) ServerTime(ctx context.Context) (time.Time, error) {
	return time.Time{}, errors.New("link down")
}

func TestProbeEstimatesOffsetAndRoundTrip(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	src := &steppedServer{clk: clk, skew: 2 * time.Second, rtt: 100 * time.Millisecond}
	s := NewSynchronizer(src, clk)

	for i := 0; i < 5; i++ {
		if err := s.Probe(context.Background()); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}

	if got := s.RoundTrip(); got != 100*time.Millisecond {
		t.Errorf("RoundTrip = %s, want 100ms", got)
	}
	if got := s.Offset(); got != 2*time.Second {
		t.Errorf("Offset = %s, want 2s", got)
	}
	if got := s.Samples(); got != 5 {
		t.Errorf("Samples = %d, want 5", got)
	}
}

func TestProbeMedianAbsorbsSlowExchange(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	src := &steppedServer{clk: clk, skew: 2 * time.Second, rtt: 100 * time.Millisecond}
	s := NewSynchronizer(src, clk)

	for i := 0; i < 3; i++ {
		if err := s.Probe(context.Background()); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}

	// One congested exchange produces a skewed sample, but the medians
	// keep both estimates on the steady-state values.
	src.rtt = time.Second
	if err := s.Probe(context.Background()); err != nil {
		t.Fatalf("slow probe: %v", err)
	}

	if got := s.RoundTrip(); got != 100*time.Millisecond {
		t.Errorf("RoundTrip = %s, want 100ms", got)
	}
	if got := s.Offset(); got != 2*time.Second {
		t.Errorf("Offset = %s, want 2s", got)
	}
}

func TestProbeFailureLeavesEstimatesUntouched(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := NewSynchronizer(erroringServer{}, clk)

	if err := s.Probe(context.Background()); err == nil {
		t.Fatal("expected probe error")
	}
	if got := s.Samples(); got != 0 {
		t.Errorf("Samples = %d, want 0", got)
	}
	if got := s.Offset(); got != 0 {
		t.Errorf("Offset = %s, want 0", got)
	}
}

func TestConversionsRoundTrip(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	src := &steppedServer{clk: clk, skew: 1500 * time.Millisecond}
	s := NewSynchronizer(src, clk)
	if err := s.Probe(context.Background()); err != nil {
		t.Fatalf("probe: %v", err)
	}

	serverTime := clk.Now().Add(-s.Offset())
	if got := s.ToLocal(serverTime); !got.Equal(clk.Now()) {
		t.Errorf("ToLocal = %s, want %s", got, clk.Now())
	}
	if got := s.ToServer(s.ToLocal(serverTime)); !got.Equal(serverTime) {
		t.Errorf("ToServer(ToLocal) = %s, want %s", got, serverTime)
	}
}
