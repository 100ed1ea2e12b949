package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/stats"
)

// sampleWindow bounds both the round-trip and offset sample sequences.
const sampleWindow = 5

// ServerTimer answers with the relay's current wall clock.
type ServerTimer interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Synchronizer estimates the round-trip time to the relay and the offset
// between the local and relay clocks via periodic echo probes. Medians
// over a small sample window dampen outliers from transient congestion.
// One synchronizer exists per process and is never reset.
type Synchronizer struct {
	source ServerTimer
	clock  clockwork.Clock

	mu         sync.Mutex
	roundTrips []time.Duration
	offsets    []time.Duration
	roundTrip  time.Duration
	offset     time.Duration
	samples    int
}

// NewSynchronizer creates a synchronizer probing the given time source.
func NewSynchronizer(source ServerTimer, clk clockwork.Clock) *Synchronizer {
	return &Synchronizer{
		source: source,
		clock:  clk,
	}
}

// Probe performs one echo exchange and folds the result into the running
// estimates. A transport failure leaves the estimates untouched; there are
// no retries, the next periodic cycle simply probes again.
func (s *Synchronizer) Probe(ctx context.Context) error {
	t0 := s.clock.Now()
	serverTime, err := s.source.ServerTime(ctx)
	if err != nil {
		return fmt.Errorf("get server time: %w", err)
	}
	t1 := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.roundTrips = stats.Shove(s.roundTrips, t1.Sub(t0), sampleWindow)
	s.roundTrip = stats.Median(s.roundTrips)

	// Symmetric-path approximation: half the round trip elapsed before
	// the server stamped its reply.
	sample := t1.Add(-s.roundTrip / 2).Sub(serverTime)
	s.offsets = stats.Shove(s.offsets, sample, sampleWindow)
	s.offset = stats.Median(s.offsets)
	s.samples++

	log.Debug().
		Dur("round_trip", s.roundTrip).
		Dur("offset", s.offset).
		Int("samples", s.samples).
		Msg("clock probe completed")
	return nil
}

// RoundTrip returns the median round-trip estimate.
func (s *Synchronizer) RoundTrip() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundTrip
}

// Offset returns the median estimate of local clock minus relay clock.
func (s *Synchronizer) Offset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// Samples returns how many probes have completed.
func (s *Synchronizer) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// ToLocal converts a relay-clock timestamp to the local clock.
func (s *Synchronizer) ToLocal(serverTime time.Time) time.Time {
	return serverTime.Add(s.Offset())
}

// ToServer converts a local timestamp to the relay clock.
func (s *Synchronizer) ToServer(localTime time.Time) time.Time {
	return localTime.Add(-s.Offset())
}
