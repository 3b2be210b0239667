package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tms7331/tendermint-ish/logger"
	"github.com/tms7331/tendermint-ish/types"
)

var ErrUnknownNode = errors.New("unknown node id")

// DefaultInboxSize is the per-node inbox capacity. Sized for a large cluster
// exchanging full vote rounds without backpressure.
const DefaultInboxSize = 1 << 15

// Message is one consensus message in flight. Exactly one of Proposal and
// Vote is set.
type Message struct {
	From     types.NodeID
	To       types.NodeID
	Proposal *types.Proposal
	Vote     *types.Vote
}

// DropRule decides whether a message is silently discarded instead of
// delivered. Used to model partitions and crash faults.
type DropRule func(m Message) bool

// DelayRule returns an artificial delivery delay for a message. Zero means
// deliver inline. Per-pair FIFO only holds for pairs the rule delays
// uniformly.
type DelayRule func(m Message) time.Duration

// Bus is the in-process network: one buffered inbox per node, point-to-point
// delivery. Messages between a fixed (sender, receiver) pair arrive in send
// order; there is no cross-pair ordering. Payloads are copied on send so
// receivers never alias sender memory.
type Bus struct {
	mu        sync.RWMutex
	inboxes   map[types.NodeID]chan Message
	dropRule  DropRule
	delayRule DelayRule
	closed    bool

	dropped atomic.Int64
	onDrop  func(to types.NodeID)
	log     logger.LoggerI
}

// New creates a bus with an inbox per node. inboxSize <= 0 selects the
// default.
func New(nodes []types.NodeID, inboxSize int, log logger.LoggerI) *Bus {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	inboxes := make(map[types.NodeID]chan Message, len(nodes))
	for _, id := range nodes {
		inboxes[id] = make(chan Message, inboxSize)
	}
	return &Bus{inboxes: inboxes, log: log}
}

// SetDropRule installs the drop rule. Pass nil to deliver everything.
func (b *Bus) SetDropRule(rule DropRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropRule = rule
}

// SetDelayRule installs the delay rule. Pass nil for inline delivery.
func (b *Bus) SetDelayRule(rule DelayRule) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delayRule = rule
}

// SetDropCallback installs a hook invoked when a full inbox forces a drop.
func (b *Bus) SetDropCallback(fn func(to types.NodeID)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Inbox returns the receive channel for a node.
func (b *Bus) Inbox(id types.NodeID) (<-chan Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.inboxes[id]
	if !ok {
		return nil, ErrUnknownNode
	}
	return ch, nil
}

// SendProposal delivers a proposal from one node to another.
func (b *Bus) SendProposal(from, to types.NodeID, p *types.Proposal) {
	b.send(Message{From: from, To: to, Proposal: types.CopyProposal(p)})
}

// SendVote delivers a vote from one node to another.
func (b *Bus) SendVote(from, to types.NodeID, v *types.Vote) {
	b.send(Message{From: from, To: to, Vote: types.CopyVote(v)})
}

func (b *Bus) send(m Message) {
	b.mu.RLock()
	closed, dropRule, delayRule := b.closed, b.dropRule, b.delayRule
	inbox, ok := b.inboxes[m.To]
	b.mu.RUnlock()
	if closed || !ok {
		return
	}
	if dropRule != nil && dropRule(m) {
		return
	}
	if delayRule != nil {
		if d := delayRule(m); d > 0 {
			time.AfterFunc(d, func() { b.deliver(inbox, m) })
			return
		}
	}
	b.deliver(inbox, m)
}

// deliver never blocks: a full inbox drops the message. A consensus node
// that cannot drain its inbox is indistinguishable from a slow one, and
// blocking the sender would stall the whole cluster.
func (b *Bus) deliver(inbox chan Message, m Message) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}
	select {
	case inbox <- m:
	default:
		b.dropped.Add(1)
		if b.onDrop != nil {
			b.onDrop(m.To)
		}
		if b.log != nil {
			b.log.Warnf("inbox full, dropping message to node %d", m.To)
		}
	}
}

// Dropped returns how many messages were lost to full inboxes.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops delivery. Inbox channels stay open so concurrent senders never
// panic; messages sent after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
