package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tms7331/tendermint-ish/logger"
	"github.com/tms7331/tendermint-ish/types"
)

func newTestBus(t *testing.T, n, inboxSize int) *Bus {
	t.Helper()
	ids := make([]types.NodeID, n)
	for i := range ids {
		ids[i] = types.NodeID(i)
	}
	return New(ids, inboxSize, logger.NewNop())
}

func vote(round int32) *types.Vote {
	return &types.Vote{Type: types.VoteTypePrevote, Height: 0, Round: round}
}

func TestPerPairFIFO(t *testing.T) {
	b := newTestBus(t, 2, 0)
	for r := int32(0); r < 100; r++ {
		b.SendVote(0, 1, vote(r))
	}
	inbox, err := b.Inbox(1)
	require.NoError(t, err)
	for r := int32(0); r < 100; r++ {
		m := <-inbox
		require.Equal(t, r, m.Vote.Round)
		require.Equal(t, types.NodeID(0), m.From)
	}
}

func TestDropRule(t *testing.T) {
	b := newTestBus(t, 3, 0)
	b.SetDropRule(func(m Message) bool { return m.From == 2 })

	b.SendVote(2, 0, vote(0))
	b.SendVote(1, 0, vote(1))

	inbox, err := b.Inbox(0)
	require.NoError(t, err)
	m := <-inbox
	require.Equal(t, types.NodeID(1), m.From)
	require.Empty(t, inbox)
}

func TestFullInboxDrops(t *testing.T) {
	b := newTestBus(t, 2, 2)
	var droppedTo []types.NodeID
	b.SetDropCallback(func(to types.NodeID) { droppedTo = append(droppedTo, to) })

	for i := 0; i < 5; i++ {
		b.SendVote(0, 1, vote(int32(i)))
	}
	require.EqualValues(t, 3, b.Dropped())
	require.Len(t, droppedTo, 3)

	// first two made it through in order
	inbox, err := b.Inbox(1)
	require.NoError(t, err)
	require.EqualValues(t, 0, (<-inbox).Vote.Round)
	require.EqualValues(t, 1, (<-inbox).Vote.Round)
}

func TestDelayRule(t *testing.T) {
	b := newTestBus(t, 2, 0)
	b.SetDelayRule(func(m Message) time.Duration { return 20 * time.Millisecond })

	start := time.Now()
	b.SendVote(0, 1, vote(0))
	inbox, err := b.Inbox(1)
	require.NoError(t, err)
	select {
	case <-inbox:
		require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed message never arrived")
	}
}

func TestSendCopiesPayload(t *testing.T) {
	b := newTestBus(t, 2, 0)
	id := types.BlockID(7)
	v := &types.Vote{Type: types.VoteTypePrecommit, BlockID: &id, Voter: 0}
	b.SendVote(0, 1, v)
	id = 8

	inbox, err := b.Inbox(1)
	require.NoError(t, err)
	require.EqualValues(t, 7, *(<-inbox).Vote.BlockID)
}

func TestCloseDiscards(t *testing.T) {
	b := newTestBus(t, 2, 0)
	b.Close()
	b.SendVote(0, 1, vote(0))
	inbox, err := b.Inbox(1)
	require.NoError(t, err)
	require.Empty(t, inbox)
}

func TestUnknownInbox(t *testing.T) {
	b := newTestBus(t, 2, 0)
	_, err := b.Inbox(9)
	require.ErrorIs(t, err, ErrUnknownNode)
}
