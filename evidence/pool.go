package evidence

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tms7331/tendermint-ish/types"
)

var (
	ErrNilVote        = errors.New("nil vote in evidence")
	ErrVoterMismatch  = errors.New("votes are from different voters")
	ErrVoteMismatch   = errors.New("votes are for different height, round or type")
	ErrVotesIdentical = errors.New("votes are identical, not conflicting")
)

// DuplicateVote is proof that one validator signed two different votes for
// the same (height, round, step). VoteA is the vote the observer counted
// first, VoteB the conflicting one.
type DuplicateVote struct {
	Voter  types.NodeID
	Height int64
	Round  int32
	Type   types.VoteType
	VoteA  *types.Vote
	VoteB  *types.Vote
}

func (d *DuplicateVote) String() string {
	return fmt.Sprintf("DuplicateVote{voter=%d h=%d r=%d %s}", d.Voter, d.Height, d.Round, d.Type)
}

// Pool collects equivocation evidence observed by one node. At most one piece
// of evidence is kept per (voter, height, round, type); later conflicts from
// the same slot are ignored.
type Pool struct {
	mu      sync.Mutex
	pending []*DuplicateVote
	seen    map[evidenceKey]struct{}
}

type evidenceKey struct {
	voter  types.NodeID
	height int64
	round  int32
	typ    types.VoteType
}

func NewPool() *Pool {
	return &Pool{seen: make(map[evidenceKey]struct{})}
}

// Record validates and stores a conflicting vote pair. Returns the stored
// evidence, or nil when the slot already holds evidence for this voter.
func (p *Pool) Record(a, b *types.Vote) (*DuplicateVote, error) {
	if a == nil || b == nil {
		return nil, ErrNilVote
	}
	if a.Voter != b.Voter {
		return nil, ErrVoterMismatch
	}
	if a.Height != b.Height || a.Round != b.Round || a.Type != b.Type {
		return nil, ErrVoteMismatch
	}
	if types.BlockIDEqual(a.BlockID, b.BlockID) {
		return nil, ErrVotesIdentical
	}
	key := evidenceKey{voter: a.Voter, height: a.Height, round: a.Round, typ: a.Type}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[key]; ok {
		return nil, nil
	}
	p.seen[key] = struct{}{}
	ev := &DuplicateVote{
		Voter:  a.Voter,
		Height: a.Height,
		Round:  a.Round,
		Type:   a.Type,
		VoteA:  types.CopyVote(a),
		VoteB:  types.CopyVote(b),
	}
	p.pending = append(p.pending, ev)
	return ev, nil
}

// Pending returns a copy of all collected evidence.
func (p *Pool) Pending() []*DuplicateVote {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*DuplicateVote, len(p.pending))
	copy(out, p.pending)
	return out
}

// Size returns the number of collected evidence entries.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// HasEvidenceAgainst reports whether the pool holds any evidence for a voter.
func (p *Pool) HasEvidenceAgainst(voter types.NodeID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.pending {
		if ev.Voter == voter {
			return true
		}
	}
	return false
}
