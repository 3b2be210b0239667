package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tms7331/tendermint-ish/types"
)

// VoteSet aggregates the votes of one (height, round, type). It counts at
// most one vote per validator: the first seen wins, a conflicting later vote
// is rejected with ErrConflictingVote so the caller can turn the pair into
// evidence. Once 2f+1 matching votes accumulate the majority block id is
// latched and never changes.
type VoteSet struct {
	height   int64
	round    int32
	voteType types.VoteType
	valSet   *types.ValidatorSet

	mu       sync.Mutex
	votes    map[types.NodeID]*types.Vote
	byBlock  map[string]int
	maj23    *types.BlockID
	maj23Set bool
}

func NewVoteSet(height int64, round int32, voteType types.VoteType, valSet *types.ValidatorSet) *VoteSet {
	return &VoteSet{
		height:   height,
		round:    round,
		voteType: voteType,
		valSet:   valSet,
		votes:    make(map[types.NodeID]*types.Vote),
		byBlock:  make(map[string]int),
	}
}

// blockIDKey maps an optional block id to a map key, with a distinguished
// key for NIL.
func blockIDKey(id *types.BlockID) string {
	if id == nil {
		return "nil"
	}
	return fmt.Sprintf("%08x", uint32(*id))
}

// AddVote adds a vote to the set. Returns true when the vote was counted.
// A repeat of an already counted vote returns (false, nil); a conflicting
// vote from the same validator returns (false, ErrConflictingVote) and is
// not counted.
func (vs *VoteSet) AddVote(vote *types.Vote) (bool, error) {
	if vote == nil {
		return false, ErrInvalidVote
	}
	if vote.Height != vs.height || vote.Round != vs.round || vote.Type != vs.voteType {
		return false, fmt.Errorf("%w: got %s, want h=%d r=%d %s",
			ErrInvalidVote, vote, vs.height, vs.round, vs.voteType)
	}
	if !vs.valSet.Contains(vote.Voter) {
		return false, fmt.Errorf("%w: %d", ErrUnknownVoter, vote.Voter)
	}
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if existing, ok := vs.votes[vote.Voter]; ok {
		if types.BlockIDEqual(existing.BlockID, vote.BlockID) {
			return false, nil
		}
		return false, fmt.Errorf("%w: voter %d voted %s and %s",
			ErrConflictingVote, vote.Voter, blockIDKey(existing.BlockID), blockIDKey(vote.BlockID))
	}
	vs.votes[vote.Voter] = types.CopyVote(vote)
	key := blockIDKey(vote.BlockID)
	vs.byBlock[key]++
	if !vs.maj23Set && vs.byBlock[key] >= vs.valSet.QuorumSize() {
		vs.maj23Set = true
		vs.maj23 = types.CopyBlockID(vote.BlockID)
	}
	return true, nil
}

// GetVote returns a copy of the counted vote of a validator, or nil.
func (vs *VoteSet) GetVote(voter types.NodeID) *types.Vote {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return types.CopyVote(vs.votes[voter])
}

// Size returns the number of counted votes.
func (vs *VoteSet) Size() int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.votes)
}

// TwoThirdsMajority returns the block id backed by 2f+1 votes, if any. The
// bool distinguishes "no majority" from a majority for NIL.
func (vs *VoteSet) TwoThirdsMajority() (*types.BlockID, bool) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if !vs.maj23Set {
		return nil, false
	}
	return types.CopyBlockID(vs.maj23), true
}

// HasTwoThirdsMajority reports whether some single value has 2f+1 votes.
func (vs *VoteSet) HasTwoThirdsMajority() bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.maj23Set
}

// HasTwoThirdsAny reports whether 2f+1 validators voted at all, regardless
// of value. Triggers the prevote-wait timeout.
func (vs *VoteSet) HasTwoThirdsAny() bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return len(vs.votes) >= vs.valSet.QuorumSize()
}

// HasQuorum reports whether a specific value has 2f+1 votes.
func (vs *VoteSet) HasQuorum(id *types.BlockID) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.byBlock[blockIDKey(id)] >= vs.valSet.QuorumSize()
}

// Voters returns the sorted validators whose counted vote matches id.
func (vs *VoteSet) Voters(id *types.BlockID) []types.NodeID {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	var out []types.NodeID
	for voter, vote := range vs.votes {
		if types.BlockIDEqual(vote.BlockID, id) {
			out = append(out, voter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MakeQC builds the quorum certificate for the majority value. Only valid
// once TwoThirdsMajority reports one.
func (vs *VoteSet) MakeQC() (*types.QuorumCertificate, error) {
	maj, ok := vs.TwoThirdsMajority()
	if !ok {
		return nil, fmt.Errorf("%w: no 2/3 majority at h=%d r=%d %s",
			ErrInvalidVote, vs.height, vs.round, vs.voteType)
	}
	return &types.QuorumCertificate{
		Height:  vs.height,
		Round:   vs.round,
		Type:    vs.voteType,
		BlockID: maj,
		Voters:  vs.Voters(maj),
	}, nil
}

// HeightVoteSet tracks prevotes and precommits for every round of one
// height, creating round vote sets lazily. Votes for any round are accepted
// so future-round votes accumulate before the node gets there.
type HeightVoteSet struct {
	valSet *types.ValidatorSet

	mu         sync.Mutex
	height     int64
	prevotes   map[int32]*VoteSet
	precommits map[int32]*VoteSet
}

func NewHeightVoteSet(height int64, valSet *types.ValidatorSet) *HeightVoteSet {
	hvs := &HeightVoteSet{valSet: valSet}
	hvs.Reset(height)
	return hvs
}

// Reset clears all vote sets and rebinds the tracker to a new height.
func (hvs *HeightVoteSet) Reset(height int64) {
	hvs.mu.Lock()
	defer hvs.mu.Unlock()
	hvs.height = height
	hvs.prevotes = make(map[int32]*VoteSet)
	hvs.precommits = make(map[int32]*VoteSet)
}

// Height returns the height the tracker is bound to.
func (hvs *HeightVoteSet) Height() int64 {
	hvs.mu.Lock()
	defer hvs.mu.Unlock()
	return hvs.height
}

// AddVote routes a vote to its round's set, creating it if needed.
func (hvs *HeightVoteSet) AddVote(vote *types.Vote) (bool, error) {
	if vote == nil {
		return false, ErrInvalidVote
	}
	if vote.Type != types.VoteTypePrevote && vote.Type != types.VoteTypePrecommit {
		return false, fmt.Errorf("%w: bad type %d", ErrInvalidVote, vote.Type)
	}
	if height := hvs.Height(); vote.Height != height {
		return false, fmt.Errorf("%w: vote height %d, tracker height %d",
			ErrInvalidHeight, vote.Height, height)
	}
	return hvs.voteSet(vote.Type, vote.Round).AddVote(vote)
}

// Prevotes returns the prevote set for a round, creating it if needed.
func (hvs *HeightVoteSet) Prevotes(round int32) *VoteSet {
	return hvs.voteSet(types.VoteTypePrevote, round)
}

// Precommits returns the precommit set for a round, creating it if needed.
func (hvs *HeightVoteSet) Precommits(round int32) *VoteSet {
	return hvs.voteSet(types.VoteTypePrecommit, round)
}

func (hvs *HeightVoteSet) voteSet(voteType types.VoteType, round int32) *VoteSet {
	hvs.mu.Lock()
	defer hvs.mu.Unlock()
	sets := hvs.prevotes
	if voteType == types.VoteTypePrecommit {
		sets = hvs.precommits
	}
	vs, ok := sets[round]
	if !ok {
		vs = NewVoteSet(hvs.height, round, voteType, hvs.valSet)
		sets[round] = vs
	}
	return vs
}

// FutureRoundQuorum finds the smallest round greater than after in which
// 2f+1 distinct validators have voted, across both vote types and regardless
// of value. A node seeing one knows a quorum has moved on and should catch
// up.
func (hvs *HeightVoteSet) FutureRoundQuorum(after int32) (int32, bool) {
	hvs.mu.Lock()
	rounds := make(map[int32]struct{})
	for r := range hvs.prevotes {
		if r > after {
			rounds[r] = struct{}{}
		}
	}
	for r := range hvs.precommits {
		if r > after {
			rounds[r] = struct{}{}
		}
	}
	ordered := make([]int32, 0, len(rounds))
	for r := range rounds {
		ordered = append(ordered, r)
	}
	hvs.mu.Unlock()
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	for _, r := range ordered {
		voters := make(map[types.NodeID]struct{})
		for _, vs := range []*VoteSet{hvs.Prevotes(r), hvs.Precommits(r)} {
			vs.mu.Lock()
			for voter := range vs.votes {
				voters[voter] = struct{}{}
			}
			vs.mu.Unlock()
		}
		if len(voters) >= hvs.valSet.QuorumSize() {
			return r, true
		}
	}
	return 0, false
}
