package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tms7331/tendermint-ish/engine"
	"github.com/tms7331/tendermint-ish/types"
)

// TestSplitBrain runs the coordinated equivocation attack at full scale: 100
// validators, 49 colluding. The attack waits for its first colluding
// proposer turn at height 51, where the honest halves [0..24] and [25..50]
// each see what looks like a unanimous quorum for a different block.
func TestSplitBrain(t *testing.T) {
	if testing.Short() {
		t.Skip("100-node run")
	}
	config := SplitBrainConfig(1)
	// generous timeouts so scheduling jitter cannot desynchronize the
	// colluders from their proposer
	config.Timeouts.Propose = 200 * time.Millisecond
	config.Timeouts.Prevote = 100 * time.Millisecond
	config.Timeouts.Precommit = 100 * time.Millisecond

	c, err := New(config)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	honest := make([]types.NodeID, 0, 51)
	for id := types.NodeID(0); id <= 50; id++ {
		honest = append(honest, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	require.NoError(t, c.WaitForHeight(ctx, 51, honest...))

	// up to the attack height everyone agreed
	for h := int64(0); h < 51; h++ {
		reference, ok := c.Decision(0, h)
		require.True(t, ok)
		for _, id := range honest {
			block, ok := c.Decision(id, h)
			require.True(t, ok)
			require.Equal(t, reference.ID, block.ID, "height %d", h)
		}
	}

	// at height 51 the two honest halves disagree
	left, ok := c.Decision(0, 51)
	require.True(t, ok)
	right, ok := c.Decision(30, 51)
	require.True(t, ok)
	require.NotEqual(t, left.ID, right.ID, "the split halves decided the same block")

	// each half is internally unanimous
	for id := types.NodeID(0); id <= 24; id++ {
		block, ok := c.Decision(id, 51)
		require.True(t, ok)
		require.Equal(t, left.ID, block.ID)
	}
	for id := types.NodeID(25); id <= 50; id++ {
		block, ok := c.Decision(id, 51)
		require.True(t, ok)
		require.Equal(t, right.ID, block.ID)
	}

	err = c.SafetyCheck(honest...)
	require.ErrorIs(t, err, ErrSafetyViolated)
}

// TestEquivocationBelowThreshold keeps the same attack under the fault
// bound: one colluder among four cannot make honest nodes disagree.
func TestEquivocationBelowThreshold(t *testing.T) {
	config := EquivocationConfig(4, []types.NodeID{3}, []types.NodeID{0, 1}, 1)
	c, err := New(config)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// heights 0..2 have honest proposers, everyone decides
	require.NoError(t, c.WaitForHeight(ctx, 2))
	// height 3 is the colluder's turn; the targeted majority still decides
	require.NoError(t, c.WaitForHeight(ctx, 3, 0, 1))

	// whoever decided a height decided the same block
	require.NoError(t, c.SafetyCheck(0, 1, 2))
}

// TestRandomByzantineHaltsLiveness gives two of four validators the Random
// policy. With only two honest voters no 2f+1 quorum can form, so rounds
// keep cycling without a decision while safety trivially holds.
func TestRandomByzantineHaltsLiveness(t *testing.T) {
	config := RandomConfig(4, 2, 1)
	c, err := New(config)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	// wait until a node has burned through a full proposer rotation
	require.Eventually(t, func() bool {
		return c.Node(0).State().Round() >= 4
	}, 30*time.Second, 5*time.Millisecond)

	for _, id := range c.ValidatorSet().IDs() {
		_, ok := c.Decision(id, 0)
		require.False(t, ok, "node %d decided despite a broken quorum", id)
	}
	require.ErrorIs(t, c.LivenessCheck(), ErrLivenessStalled)
	require.NoError(t, c.SafetyCheck())
}

// TestInvalidProposerRoundsFallThrough lets one validator propose blocks
// that fail validation. Its proposer rounds collapse into nil prevotes and
// the next round decides instead.
func TestInvalidProposerRoundsFallThrough(t *testing.T) {
	config := InvalidProposerConfig(4)
	c, err := New(config)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForHeight(ctx, 4))

	for h := int64(0); h <= 4; h++ {
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
}

// TestExponentialBackoffScenario runs the happy path under multiplicative
// timeout growth to cover the geometric schedule end to end.
func TestExponentialBackoffScenario(t *testing.T) {
	config := GoodConfig(4)
	config.Timeouts = engine.TimeoutConfig{
		Propose:    50 * time.Millisecond,
		Prevote:    30 * time.Millisecond,
		Precommit:  30 * time.Millisecond,
		Multiplier: 1.5,
		MaxTimeout: time.Second,
	}
	c, err := New(config)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForHeight(ctx, 1))
	require.NoError(t, c.SafetyCheck())
}
