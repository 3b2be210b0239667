package types

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockValid(t *testing.T) {
	b := NewBlock(3, "abcd")
	require.True(t, b.Valid())
	require.Equal(t, PayloadID("abcd"), b.ID)

	// wrong payload length
	require.False(t, NewBlock(3, "abcdefgh").Valid())
	require.False(t, NewBlock(3, "").Valid())

	// id that does not match the payload
	b.ID++
	require.False(t, b.Valid())
}

func TestPayloadIDDeterministic(t *testing.T) {
	require.Equal(t, PayloadID("wxyz"), PayloadID("wxyz"))
	require.NotEqual(t, PayloadID("wxyz"), PayloadID("wxyA"))
}

func TestProduceBlock(t *testing.T) {
	b := ProduceBlock(7)
	require.True(t, b.Valid())
	require.EqualValues(t, 7, b.Height)
}

func TestRandomPayloadSeeded(t *testing.T) {
	a := RandomPayload(rand.New(rand.NewSource(1)), 8)
	b := RandomPayload(rand.New(rand.NewSource(1)), 8)
	require.Equal(t, a, b)
	require.Len(t, a, 8)
}

func TestBlockIDEqual(t *testing.T) {
	x, y := BlockID(1), BlockID(1)
	z := BlockID(2)
	require.True(t, BlockIDEqual(nil, nil))
	require.True(t, BlockIDEqual(&x, &y))
	require.False(t, BlockIDEqual(&x, &z))
	require.False(t, BlockIDEqual(&x, nil))
	require.False(t, BlockIDEqual(nil, &x))
}

func TestCopyBlockID(t *testing.T) {
	require.Nil(t, CopyBlockID(nil))
	x := BlockID(5)
	cp := CopyBlockID(&x)
	require.Equal(t, x, *cp)
	*cp = 6
	require.EqualValues(t, 5, x)
}

func TestCopyVote(t *testing.T) {
	id := BlockID(9)
	v := &Vote{Type: VoteTypePrevote, Height: 1, Round: 2, BlockID: &id, Voter: 3}
	cp := CopyVote(v)
	require.True(t, VotesEqual(v, cp))
	*cp.BlockID = 10
	require.EqualValues(t, 9, *v.BlockID)
	require.Nil(t, CopyVote(nil))
}
