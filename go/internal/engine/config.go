package engine

import "time"

// Config holds the engine's tunables. The defaults encode long-standing
// behavior; SeekLead in particular is a compensation constant, kept
// configurable rather than derived.
type Config struct {
	// MaxTimeError is the divergence tolerated between the player and the
	// authoritative prediction before a correction is issued.
	MaxTimeError time.Duration

	// SeekLead is added to corrective seek targets so the player lands
	// slightly ahead: the seek itself and the UI settling consume wall
	// time that the video must not double-count.
	SeekLead time.Duration

	// CycleInterval is the period of the probe-and-reconcile driver.
	CycleInterval time.Duration

	// Wait budgets for externally observed transitions.
	IdleWakeBudget time.Duration
	PauseBudget    time.Duration
	PlayBudget     time.Duration
	SeekBudget     time.Duration

	// SettleBudget bounds the broadcaster's best-effort pre-wait for the
	// player to react to user input; SettleMovement is the position
	// change that counts as a reaction.
	SettleBudget   time.Duration
	SettleMovement time.Duration
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		MaxTimeError:   2500 * time.Millisecond,
		SeekLead:       2000 * time.Millisecond,
		CycleInterval:  5 * time.Second,
		IdleWakeBudget: 2500 * time.Millisecond,
		PauseBudget:    1000 * time.Millisecond,
		PlayBudget:     2500 * time.Millisecond,
		SeekBudget:     5000 * time.Millisecond,
		SettleBudget:   2500 * time.Millisecond,
		SettleMovement: 250 * time.Millisecond,
	}
}
