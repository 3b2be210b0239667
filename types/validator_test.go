package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatorSet(t *testing.T) {
	_, err := NewValidatorSet(nil)
	require.ErrorIs(t, err, ErrEmptyValidatorSet)

	_, err = NewValidatorSet([]NodeID{0, 1, 1})
	require.ErrorIs(t, err, ErrDuplicateValidator)

	vs, err := NewValidatorSet([]NodeID{0, 1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 4, vs.Size())
	require.Equal(t, 1, vs.F())
	require.Equal(t, 3, vs.QuorumSize())
	require.True(t, vs.Contains(2))
	require.False(t, vs.Contains(4))
}

func TestFaultTolerance(t *testing.T) {
	cases := []struct {
		n, f, quorum int
	}{
		{1, 0, 1},
		{3, 0, 1},
		{4, 1, 3},
		{7, 2, 5},
		{100, 33, 67},
	}
	for _, c := range cases {
		vs, err := SequentialValidatorSet(c.n)
		require.NoError(t, err)
		require.Equal(t, c.f, vs.F(), "n=%d", c.n)
		require.Equal(t, c.quorum, vs.QuorumSize(), "n=%d", c.n)
	}
}

func TestProposerRotation(t *testing.T) {
	vs := MustNewValidatorSet([]NodeID{0, 1, 2, 3, 4})

	// cycles with period N across rounds at a fixed height
	for r := int32(0); r < 20; r++ {
		require.Equal(t, NodeID(r%5), vs.Proposer(0, r))
		require.Equal(t, vs.Proposer(0, r), vs.Proposer(0, r+5))
	}

	// height shifts the rotation too
	require.Equal(t, NodeID(1), vs.Proposer(1, 0))
	require.Equal(t, NodeID(3), vs.Proposer(1, 2))
	require.Equal(t, NodeID(2), vs.Proposer(6, 1))
}

func TestIDsCopy(t *testing.T) {
	vs := MustNewValidatorSet([]NodeID{7, 8, 9})
	ids := vs.IDs()
	ids[0] = 100
	require.Equal(t, NodeID(7), vs.Proposer(0, 0))
}
