package behavior

import (
	"math/rand"
	"sync"

	"github.com/tms7331/tendermint-ish/types"
)

// Policy decides what a node actually puts on the wire. The node's own state
// machine always runs the honest protocol; the policy intercepts each
// outbound message per receiving peer, which is what lets a Byzantine node
// tell different peers different things.
type Policy interface {
	DecideProposal(to types.NodeID, p types.Proposal) types.Proposal
	DecideVote(to types.NodeID, v types.Vote) types.Vote
}

// Honest sends every message unchanged.
type Honest struct{}

var _ Policy = Honest{}

func (Honest) DecideProposal(_ types.NodeID, p types.Proposal) types.Proposal { return p }
func (Honest) DecideVote(_ types.NodeID, v types.Vote) types.Vote             { return v }

type roundKey struct {
	height int64
	round  int32
}

type peerKey struct {
	height int64
	round  int32
	peer   types.NodeID
}

// Collusion is the shared coordination state of a group of equivocating
// validators. When one of them proposes, it forges an alternative block and
// sends it to the peers in the split set while everyone else gets the real
// one. The tracker remembers which block id each peer was shown, and every
// colluding validator votes toward each peer for the id that peer was shown,
// keeping both halves convinced they hold a unanimous quorum.
type Collusion struct {
	mu       sync.Mutex
	split    map[types.NodeID]struct{}
	alts     map[roundKey]types.Block
	assigned map[peerKey]types.BlockID
	rng      *rand.Rand
}

// NewCollusion creates a tracker. splitPeers receive the forged alternative.
func NewCollusion(splitPeers []types.NodeID, seed int64) *Collusion {
	split := make(map[types.NodeID]struct{}, len(splitPeers))
	for _, id := range splitPeers {
		split[id] = struct{}{}
	}
	return &Collusion{
		split:    split,
		alts:     make(map[roundKey]types.Block),
		assigned: make(map[peerKey]types.BlockID),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// proposalFor splits the proposal and records what the peer was shown.
func (c *Collusion) proposalFor(to types.NodeID, p types.Proposal) types.Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.split[to]; ok {
		rk := roundKey{p.Height, p.Round}
		alt, ok := c.alts[rk]
		if !ok {
			alt = types.NewBlock(p.Height, types.RandomPayload(c.rng, types.PayloadSize))
			c.alts[rk] = alt
		}
		p.Block = alt
	}
	c.assigned[peerKey{p.Height, p.Round, to}] = p.Block.ID
	return p
}

// voteFor rewrites the vote toward whatever block the peer was shown, when
// the collusion seeded that round. Otherwise the vote passes unchanged.
func (c *Collusion) voteFor(to types.NodeID, v types.Vote) types.Vote {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.assigned[peerKey{v.Height, v.Round, to}]; ok {
		v.BlockID = &id
	}
	return v
}

// Equivocating is the policy of one colluding validator. All members of a
// collusion share the same tracker.
type Equivocating struct {
	Collusion *Collusion
}

var _ Policy = Equivocating{}

func (e Equivocating) DecideProposal(to types.NodeID, p types.Proposal) types.Proposal {
	return e.Collusion.proposalFor(to, p)
}

func (e Equivocating) DecideVote(to types.NodeID, v types.Vote) types.Vote {
	return e.Collusion.voteFor(to, v)
}

// Random replaces every outbound message with garbage: proposals carry
// oversized payloads that fail validation, votes point at block ids nobody
// proposed. Each peer gets independent garbage, so a Random node also
// equivocates as a side effect.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

var _ Policy = (*Random)(nil)

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) DecideProposal(_ types.NodeID, p types.Proposal) types.Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.Block = types.NewBlock(p.Height, types.RandomPayload(r.rng, 2*types.PayloadSize))
	p.ValidRound = -1
	return p
}

func (r *Random) DecideVote(_ types.NodeID, v types.Vote) types.Vote {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := types.BlockID(r.rng.Uint32())
	v.BlockID = &id
	return v
}

// InvalidProposer proposes a block that fails validation but votes honestly.
// Forces its proposal rounds into nil prevotes.
type InvalidProposer struct{}

var _ Policy = InvalidProposer{}

const invalidPayload = "INVALID_BLOCK"

func (InvalidProposer) DecideProposal(_ types.NodeID, p types.Proposal) types.Proposal {
	p.Block = types.NewBlock(p.Height, invalidPayload)
	return p
}

func (InvalidProposer) DecideVote(_ types.NodeID, v types.Vote) types.Vote { return v }
