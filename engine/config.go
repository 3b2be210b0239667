package engine

import (
	"errors"
	"time"

	"github.com/tms7331/tendermint-ish/types"
)

var (
	ErrNonPositiveTimeout = errors.New("timeouts must be positive")
	ErrNegativeDelta      = errors.New("timeout deltas must be non-negative")
	ErrBadMultiplier      = errors.New("timeout multiplier must be >= 1")
	ErrNilBlockProducer   = errors.New("nil block producer")
)

// BlockProducer supplies the value an honest proposer suggests when it has no
// valid value carried over from an earlier round.
type BlockProducer func(height int64) types.Block

// Config holds the per-node consensus settings.
type Config struct {
	Timeouts TimeoutConfig
	// Produce is the getValue() of the proposer. Defaults to random valid
	// blocks.
	Produce BlockProducer
}

// DefaultConfig returns settings tuned for an in-process cluster: short base
// timeouts, linear growth per round.
func DefaultConfig() Config {
	return Config{
		Timeouts: DefaultTimeoutConfig(),
		Produce:  types.ProduceBlock,
	}
}

// ValidateBasic performs stateless sanity checks on the config.
func (c Config) ValidateBasic() error {
	if err := c.Timeouts.ValidateBasic(); err != nil {
		return err
	}
	if c.Produce == nil {
		return ErrNilBlockProducer
	}
	return nil
}

// TimeoutConfig controls how long each step waits before giving up on the
// current round. Durations grow with the round number so lagging nodes catch
// up under asynchrony: linearly by the step's Delta, or geometrically when
// Multiplier > 1.
type TimeoutConfig struct {
	Propose        time.Duration
	ProposeDelta   time.Duration
	Prevote        time.Duration
	PrevoteDelta   time.Duration
	Precommit      time.Duration
	PrecommitDelta time.Duration
	// Multiplier scales the base exponentially per round when > 1, in which
	// case the Delta fields are ignored.
	Multiplier float64
	// MaxTimeout caps the per-round growth. Zero means no cap.
	MaxTimeout time.Duration
}

// DefaultTimeoutConfig returns short linear timeouts for in-process runs.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Propose:        40 * time.Millisecond,
		ProposeDelta:   10 * time.Millisecond,
		Prevote:        20 * time.Millisecond,
		PrevoteDelta:   10 * time.Millisecond,
		Precommit:      20 * time.Millisecond,
		PrecommitDelta: 10 * time.Millisecond,
		Multiplier:     1,
		MaxTimeout:     2 * time.Second,
	}
}

// ValidateBasic performs stateless sanity checks on the timeout config.
func (c TimeoutConfig) ValidateBasic() error {
	if c.Propose <= 0 || c.Prevote <= 0 || c.Precommit <= 0 {
		return ErrNonPositiveTimeout
	}
	if c.ProposeDelta < 0 || c.PrevoteDelta < 0 || c.PrecommitDelta < 0 {
		return ErrNegativeDelta
	}
	if c.Multiplier < 1 {
		return ErrBadMultiplier
	}
	return nil
}
