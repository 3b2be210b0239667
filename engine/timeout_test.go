package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tms7331/tendermint-ish/logger"
)

func TestDurationForLinear(t *testing.T) {
	cfg := TimeoutConfig{
		Propose: 40 * time.Millisecond, ProposeDelta: 10 * time.Millisecond,
		Prevote: 20 * time.Millisecond, PrevoteDelta: 5 * time.Millisecond,
		Precommit: 30 * time.Millisecond, PrecommitDelta: 0,
		Multiplier: 1,
	}
	require.Equal(t, 40*time.Millisecond, cfg.DurationFor(StepPropose, 0))
	require.Equal(t, 70*time.Millisecond, cfg.DurationFor(StepPropose, 3))
	require.Equal(t, 25*time.Millisecond, cfg.DurationFor(StepPrevote, 1))
	require.Equal(t, 30*time.Millisecond, cfg.DurationFor(StepPrecommit, 9))
}

func TestDurationForExponential(t *testing.T) {
	cfg := TimeoutConfig{
		Propose: 10 * time.Millisecond, Prevote: 10 * time.Millisecond,
		Precommit: 10 * time.Millisecond,
		Multiplier: 2,
	}
	require.Equal(t, 10*time.Millisecond, cfg.DurationFor(StepPropose, 0))
	require.Equal(t, 20*time.Millisecond, cfg.DurationFor(StepPropose, 1))
	require.Equal(t, 80*time.Millisecond, cfg.DurationFor(StepPropose, 3))
}

func TestDurationForCapped(t *testing.T) {
	cfg := TimeoutConfig{
		Propose: 10 * time.Millisecond, Prevote: 10 * time.Millisecond,
		Precommit: 10 * time.Millisecond,
		Multiplier: 2, MaxTimeout: 25 * time.Millisecond,
	}
	require.Equal(t, 25*time.Millisecond, cfg.DurationFor(StepPropose, 10))

	linear := DefaultTimeoutConfig()
	linear.MaxTimeout = 50 * time.Millisecond
	require.Equal(t, 50*time.Millisecond, linear.DurationFor(StepPropose, 1000))
}

func TestTimeoutConfigValidateBasic(t *testing.T) {
	require.NoError(t, DefaultTimeoutConfig().ValidateBasic())

	bad := DefaultTimeoutConfig()
	bad.Prevote = 0
	require.ErrorIs(t, bad.ValidateBasic(), ErrNonPositiveTimeout)

	bad = DefaultTimeoutConfig()
	bad.ProposeDelta = -time.Millisecond
	require.ErrorIs(t, bad.ValidateBasic(), ErrNegativeDelta)

	bad = DefaultTimeoutConfig()
	bad.Multiplier = 0.5
	require.ErrorIs(t, bad.ValidateBasic(), ErrBadMultiplier)
}

func TestTickerFires(t *testing.T) {
	ticker := NewTimeoutTicker(logger.NewNop())
	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	ti := TimeoutInfo{Duration: 10 * time.Millisecond, Height: 1, Round: 2, Step: StepPropose}
	ticker.ScheduleTimeout(ti)

	select {
	case got := <-ticker.Chan():
		require.Equal(t, ti, got)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}
}

func TestTickerReplacesPending(t *testing.T) {
	ticker := NewTimeoutTicker(logger.NewNop())
	require.NoError(t, ticker.Start())
	defer ticker.Stop()

	ticker.ScheduleTimeout(TimeoutInfo{Duration: 30 * time.Millisecond, Height: 1, Round: 0, Step: StepPropose})
	ticker.ScheduleTimeout(TimeoutInfo{Duration: 10 * time.Millisecond, Height: 1, Round: 1, Step: StepPrevote})

	select {
	case got := <-ticker.Chan():
		// only the replacement fires
		require.Equal(t, StepPrevote, got.Step)
		require.EqualValues(t, 1, got.Round)
	case <-time.After(time.Second):
		t.Fatal("timeout never fired")
	}

	select {
	case got := <-ticker.Chan():
		t.Fatalf("replaced timeout fired: %s", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestTickerStartStop(t *testing.T) {
	ticker := NewTimeoutTicker(logger.NewNop())
	require.NoError(t, ticker.Start())
	require.ErrorIs(t, ticker.Start(), ErrAlreadyStarted)
	ticker.Stop()
	ticker.Stop()
}
