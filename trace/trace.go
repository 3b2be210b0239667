package trace

import (
	"fmt"
	"sync"
	"time"

	"github.com/tms7331/tendermint-ish/types"
)

// EventType classifies a recorded consensus event.
type EventType string

const (
	EventNewRound     EventType = "new_round"
	EventProposal     EventType = "proposal"
	EventVote         EventType = "vote"
	EventLock         EventType = "lock"
	EventUnlock       EventType = "unlock"
	EventTimeout      EventType = "timeout"
	EventDecision     EventType = "decision"
	EventEquivocation EventType = "equivocation"
)

// Event is one step of a node's consensus execution. Events are recorded in
// the order the node processed them, so a node's trace replays its run.
type Event struct {
	Node   types.NodeID
	Type   EventType
	Height int64
	Round  int32
	Info   string
	Time   time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("[node=%d h=%d r=%d] %s %s", e.Node, e.Height, e.Round, e.Type, e.Info)
}

// Recorder receives consensus events as they happen. Implementations must be
// safe for concurrent use; every node in a cluster shares one recorder.
type Recorder interface {
	Record(e Event)
}

// MemoryRecorder keeps all events in memory for post-run inspection.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

var _ Recorder = (*MemoryRecorder)(nil)

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ByNode returns the events of one node, in processing order.
func (r *MemoryRecorder) ByNode(id types.NodeID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Node == id {
			out = append(out, e)
		}
	}
	return out
}

// ByType returns all events of one type across nodes.
func (r *MemoryRecorder) ByType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *MemoryRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// NopRecorder discards every event. Used when a run does not need a trace.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func NewNopRecorder() NopRecorder { return NopRecorder{} }

func (NopRecorder) Record(Event) {}
