package trace

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryRecorder(t *testing.T) {
	r := NewMemoryRecorder()
	r.Record(Event{Node: 0, Type: EventNewRound, Height: 1, Round: 0})
	r.Record(Event{Node: 1, Type: EventVote, Height: 1, Round: 0, Info: "prevote"})
	r.Record(Event{Node: 0, Type: EventDecision, Height: 1, Round: 0})

	require.Equal(t, 3, r.Len())
	require.Len(t, r.ByNode(0), 2)
	require.Len(t, r.ByType(EventDecision), 1)

	// recorded order is preserved
	events := r.ByNode(0)
	require.Equal(t, EventNewRound, events[0].Type)
	require.Equal(t, EventDecision, events[1].Type)

	// events get a timestamp on record
	require.False(t, r.Events()[0].Time.IsZero())
}

func TestMemoryRecorderConcurrent(t *testing.T) {
	r := NewMemoryRecorder()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Record(Event{Node: 0, Type: EventVote})
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 800, r.Len())
}
