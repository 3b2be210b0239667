package types

import "fmt"

// Proposal carries the full block for a (height, round) plus the proposer's
// valid-round claim. ValidRound is the last round in which the proposer
// observed its value as a possible decision value, or -1 when the value is
// fresh; receivers use it to justify prevoting a value they are locked
// against. Immutable once created.
type Proposal struct {
	Height     int64
	Round      int32
	Block      Block
	Proposer   NodeID
	ValidRound int32
}

func (p *Proposal) String() string {
	return fmt.Sprintf("Proposal{h=%d r=%d %s proposer=%d vr=%d}",
		p.Height, p.Round, p.Block, p.Proposer, p.ValidRound)
}

// CopyProposal creates a copy of a proposal.
func CopyProposal(p *Proposal) *Proposal {
	if p == nil {
		return nil
	}
	propCopy := *p
	return &propCopy
}
