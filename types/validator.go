package types

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyValidatorSet    = errors.New("validator set is empty")
	ErrDuplicateValidator   = errors.New("duplicate validator id")
	ErrValidatorSetTooLarge = errors.New("validator set too large")
	ErrUnknownValidator     = errors.New("unknown validator id")
)

const maxValidators = 1 << 20

// ValidatorSet is the fixed, totally ordered membership for a run. All nodes
// share the same set; f = floor((N-1)/3) and the quorum size is 2f+1.
// Immutable after construction.
type ValidatorSet struct {
	ids  []NodeID
	byID map[NodeID]int
	f    int
}

// NewValidatorSet creates a validator set from an ordered id list. The order
// is authoritative for proposer selection.
func NewValidatorSet(ids []NodeID) (*ValidatorSet, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyValidatorSet
	}
	if len(ids) > maxValidators {
		return nil, ErrValidatorSetTooLarge
	}
	byID := make(map[NodeID]int, len(ids))
	ordered := make([]NodeID, len(ids))
	for i, id := range ids {
		if _, ok := byID[id]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateValidator, id)
		}
		byID[id] = i
		ordered[i] = id
	}
	return &ValidatorSet{
		ids:  ordered,
		byID: byID,
		f:    (len(ids) - 1) / 3,
	}, nil
}

// MustNewValidatorSet is NewValidatorSet that panics on error. For tests and
// fixed scenario setups.
func MustNewValidatorSet(ids []NodeID) *ValidatorSet {
	vs, err := NewValidatorSet(ids)
	if err != nil {
		panic(err)
	}
	return vs
}

// SequentialValidatorSet creates a set of n validators with ids 0..n-1.
func SequentialValidatorSet(n int) (*ValidatorSet, error) {
	ids := make([]NodeID, n)
	for i := range ids {
		ids[i] = NodeID(i)
	}
	return NewValidatorSet(ids)
}

// Size returns the number of validators N.
func (vs *ValidatorSet) Size() int {
	return len(vs.ids)
}

// F returns the tolerated fault count floor((N-1)/3).
func (vs *ValidatorSet) F() int {
	return vs.f
}

// QuorumSize returns 2f+1, the vote count needed for a quorum certificate.
func (vs *ValidatorSet) QuorumSize() int {
	return 2*vs.f + 1
}

// Proposer returns the proposer for (height, round): round-robin over the
// ordered id list, rotating by both height and round so a faulty proposer is
// skipped in the next round and leadership shifts across heights.
func (vs *ValidatorSet) Proposer(height int64, round int32) NodeID {
	idx := (height + int64(round)) % int64(len(vs.ids))
	return vs.ids[idx]
}

// Contains reports whether id is a member of the set.
func (vs *ValidatorSet) Contains(id NodeID) bool {
	_, ok := vs.byID[id]
	return ok
}

// IDs returns a copy of the ordered validator id list.
func (vs *ValidatorSet) IDs() []NodeID {
	out := make([]NodeID, len(vs.ids))
	copy(out, vs.ids)
	return out
}
