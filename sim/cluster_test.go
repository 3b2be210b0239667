package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tms7331/tendermint-ish/bus"
	"github.com/tms7331/tendermint-ish/trace"
	"github.com/tms7331/tendermint-ish/types"
)

func TestNewValidation(t *testing.T) {
	_, err := New(DefaultConfig(0))
	require.ErrorIs(t, err, ErrNoNodes)
}

func TestAllHonestDecide(t *testing.T) {
	recorder := trace.NewMemoryRecorder()
	config := GoodConfig(4)
	config.Recorder = recorder

	c, err := New(config)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForHeight(ctx, 2))

	// every node decided the same block at every height
	for h := int64(0); h <= 2; h++ {
		reference, ok := c.Decision(0, h)
		require.True(t, ok)
		require.True(t, reference.Valid())
		for _, id := range c.ValidatorSet().IDs() {
			block, ok := c.Decision(id, h)
			require.True(t, ok)
			require.Equal(t, reference.ID, block.ID)
		}
	}
	require.NoError(t, c.SafetyCheck())
	require.NoError(t, c.LivenessCheck())

	// synchrony and no faults: height 0 decides in round 0
	for _, e := range recorder.ByType(trace.EventDecision) {
		if e.Height == 0 {
			require.EqualValues(t, 0, e.Round)
		}
	}

	// nobody equivocated
	for _, id := range c.ValidatorSet().IDs() {
		require.Equal(t, 0, c.Evidence(id).Size())
	}
}

func TestClusterStartStop(t *testing.T) {
	c, err := New(GoodConfig(4))
	require.NoError(t, err)
	require.NoError(t, c.Start())
	require.Error(t, c.Start())
	c.Stop()
	c.Stop()
}

func TestWaitForHeightTimesOut(t *testing.T) {
	c, err := New(GoodConfig(4))
	require.NoError(t, err)
	// never started, nobody decides anything
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.WaitForHeight(ctx, 0, types.NodeID(1))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPartitionedMinorityStalls(t *testing.T) {
	c, err := New(GoodConfig(4))
	require.NoError(t, err)

	// cut node 3 off entirely before anything runs
	c.Bus().SetDropRule(func(m bus.Message) bool {
		return m.From == 3 || m.To == 3
	})

	require.NoError(t, c.Start())
	defer c.Stop()

	// the remaining three are exactly 2f+1 and keep deciding
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForHeight(ctx, 1, 0, 1, 2))

	// the isolated node heard nothing and decided nothing
	_, ok := c.Decision(3, 0)
	require.False(t, ok)
	require.NoError(t, c.SafetyCheck())
}
