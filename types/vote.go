package types

import "fmt"

// VoteType identifies the voting step a vote belongs to.
type VoteType uint8

const (
	VoteTypeUnknown   VoteType = 0
	VoteTypePrevote   VoteType = 1
	VoteTypePrecommit VoteType = 2
)

func (t VoteType) String() string {
	switch t {
	case VoteTypePrevote:
		return "Prevote"
	case VoteTypePrecommit:
		return "Precommit"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Vote is a prevote or precommit for a block id at (height, round). A nil
// BlockID is the NIL vote. Immutable once created.
type Vote struct {
	Type    VoteType
	Height  int64
	Round   int32
	BlockID *BlockID
	Voter   NodeID
}

// IsNil reports whether the vote is for NIL (no block).
func (v *Vote) IsNil() bool {
	return v.BlockID == nil
}

func (v *Vote) String() string {
	if v.IsNil() {
		return fmt.Sprintf("Vote{%s h=%d r=%d nil voter=%d}", v.Type, v.Height, v.Round, v.Voter)
	}
	return fmt.Sprintf("Vote{%s h=%d r=%d id=%08x voter=%d}", v.Type, v.Height, v.Round, uint32(*v.BlockID), v.Voter)
}

// CopyVote creates a deep copy of a vote.
func CopyVote(v *Vote) *Vote {
	if v == nil {
		return nil
	}
	voteCopy := *v
	voteCopy.BlockID = CopyBlockID(v.BlockID)
	return &voteCopy
}

// VotesEqual reports whether two votes are identical in every field.
func VotesEqual(a, b *Vote) bool {
	if a.Type != b.Type || a.Height != b.Height || a.Round != b.Round || a.Voter != b.Voter {
		return false
	}
	return BlockIDEqual(a.BlockID, b.BlockID)
}

// QuorumCertificate proves that 2f+1 distinct validators voted identically at
// a given (height, round, step). A nil BlockID is a NIL certificate. It is
// derived from the vote set on demand, never stored independently.
type QuorumCertificate struct {
	Height  int64
	Round   int32
	Type    VoteType
	BlockID *BlockID
	Voters  []NodeID
}

// Size returns the number of supporting voters.
func (qc *QuorumCertificate) Size() int {
	return len(qc.Voters)
}

// IsNil reports whether the certificate is for NIL.
func (qc *QuorumCertificate) IsNil() bool {
	return qc.BlockID == nil
}
