package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tms7331/tendermint-ish/logger"
)

// RoundStep is the step a node is in within a round.
type RoundStep uint8

const (
	StepPropose   RoundStep = 1
	StepPrevote   RoundStep = 2
	StepPrecommit RoundStep = 3
)

func (s RoundStep) String() string {
	switch s {
	case StepPropose:
		return "PROPOSE"
	case StepPrevote:
		return "PREVOTE"
	case StepPrecommit:
		return "PRECOMMIT"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// TimeoutInfo identifies a scheduled timeout. When it fires, the state
// machine only acts if it is still at exactly this (height, round, step).
type TimeoutInfo struct {
	Duration time.Duration
	Height   int64
	Round    int32
	Step     RoundStep
}

func (ti TimeoutInfo) String() string {
	return fmt.Sprintf("Timeout{%v h=%d r=%d %s}", ti.Duration, ti.Height, ti.Round, ti.Step)
}

// DurationFor computes the timeout for a step at a round. Durations grow per
// round so slow rounds get progressively more time: base + round*delta in
// linear mode, or base*multiplier^round when Multiplier > 1, computed through
// an exponential backoff with randomization disabled.
func (c TimeoutConfig) DurationFor(step RoundStep, round int32) time.Duration {
	var base, delta time.Duration
	switch step {
	case StepPropose:
		base, delta = c.Propose, c.ProposeDelta
	case StepPrevote:
		base, delta = c.Prevote, c.PrevoteDelta
	case StepPrecommit:
		base, delta = c.Precommit, c.PrecommitDelta
	default:
		base, delta = c.Propose, c.ProposeDelta
	}
	var d time.Duration
	if c.Multiplier > 1 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = base
		bo.Multiplier = c.Multiplier
		bo.RandomizationFactor = 0
		bo.MaxElapsedTime = 0
		if c.MaxTimeout > 0 {
			bo.MaxInterval = c.MaxTimeout
		}
		bo.Reset()
		d = bo.NextBackOff()
		for i := int32(0); i < round; i++ {
			d = bo.NextBackOff()
		}
	} else {
		d = base + time.Duration(round)*delta
	}
	if c.MaxTimeout > 0 && d > c.MaxTimeout {
		d = c.MaxTimeout
	}
	return d
}

// TimeoutTicker schedules at most one pending timeout. Scheduling a new one
// cancels the previous; the state machine never needs more than one because
// each step supersedes the last.
type TimeoutTicker struct {
	timer  *time.Timer
	tickCh chan TimeoutInfo
	tockCh chan TimeoutInfo
	quit   chan struct{}
	log    logger.LoggerI

	mu      sync.Mutex
	started bool
}

func NewTimeoutTicker(log logger.LoggerI) *TimeoutTicker {
	t := &TimeoutTicker{
		timer:  time.NewTimer(0),
		tickCh: make(chan TimeoutInfo, 10),
		tockCh: make(chan TimeoutInfo, 10),
		quit:   make(chan struct{}),
		log:    log,
	}
	t.stopTimer()
	return t
}

// Start launches the timeout routine.
func (t *TimeoutTicker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}
	t.started = true
	go t.timeoutRoutine()
	return nil
}

// Stop terminates the timeout routine. No timeouts fire after Stop returns.
func (t *TimeoutTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false
	close(t.quit)
}

// Chan returns the channel on which expired timeouts are delivered.
func (t *TimeoutTicker) Chan() <-chan TimeoutInfo {
	return t.tockCh
}

// ScheduleTimeout arms the ticker for ti, replacing any pending timeout.
func (t *TimeoutTicker) ScheduleTimeout(ti TimeoutInfo) {
	select {
	case t.tickCh <- ti:
	case <-t.quit:
	}
}

func (t *TimeoutTicker) stopTimer() {
	if !t.timer.Stop() {
		select {
		case <-t.timer.C:
		default:
		}
	}
}

func (t *TimeoutTicker) timeoutRoutine() {
	var ti TimeoutInfo
	for {
		select {
		case newti := <-t.tickCh:
			ti = newti
			t.stopTimer()
			t.timer.Reset(ti.Duration)
		case <-t.timer.C:
			t.log.Debugf("timeout fired: %s", ti)
			select {
			case t.tockCh <- ti:
			case <-t.quit:
				return
			}
		case <-t.quit:
			return
		}
	}
}
