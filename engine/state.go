package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tms7331/tendermint-ish/evidence"
	"github.com/tms7331/tendermint-ish/logger"
	"github.com/tms7331/tendermint-ish/metrics"
	"github.com/tms7331/tendermint-ish/trace"
	"github.com/tms7331/tendermint-ish/types"
)

// ProposalBroadcaster sends a proposal to the other validators.
type ProposalBroadcaster func(p *types.Proposal)

// VoteBroadcaster sends a vote to the other validators.
type VoteBroadcaster func(v *types.Vote)

// DecisionHandler observes decided values. Called from the state machine's
// event loop; it must not call back into the state.
type DecisionHandler func(id types.NodeID, height int64, block types.Block, qc *types.QuorumCertificate)

const msgQueueSize = 256

// msgInfo wraps one inbound consensus message.
type msgInfo struct {
	proposal *types.Proposal
	vote     *types.Vote
}

// ConsensusState is the per-validator state machine. One goroutine, the
// receive routine, owns all transitions: it drains proposals, votes, and
// expired timeouts and applies them in arrival order. The mutex only guards
// the accessors other goroutines use.
//
// Rounds at a height proceed PROPOSE -> PREVOTE -> PRECOMMIT. A round can end
// in a decision (2f+1 precommits for a value whose proposal we hold) or fall
// through to round+1 on a timeout or a nil precommit quorum. Deciding a value
// moves to the next height at round 0 with locks cleared.
type ConsensusState struct {
	config Config
	valSet *types.ValidatorSet
	id     types.NodeID
	log    logger.LoggerI

	mu          sync.Mutex
	height      int64
	round       int32
	step        RoundStep
	lockedRound int32
	lockedBlock *types.Block
	validRound  int32
	validBlock  *types.Block
	proposals   map[int32]*types.Proposal
	votes       *HeightVoteSet
	decisions   map[int64]types.Block
	started     bool

	ticker     *TimeoutTicker
	peerMsgCh  chan msgInfo
	internalCh chan msgInfo
	quit       chan struct{}
	done       chan struct{}

	broadcastProposal ProposalBroadcaster
	broadcastVote     VoteBroadcaster
	onDecision        DecisionHandler
	evpool            *evidence.Pool
	metrics           *metrics.Metrics
	recorder          trace.Recorder
}

// NewConsensusState creates a state machine for one validator. The node id
// must be a member of the validator set.
func NewConsensusState(config Config, valSet *types.ValidatorSet, id types.NodeID, log logger.LoggerI) (*ConsensusState, error) {
	if valSet == nil {
		return nil, ErrNilValidatorSet
	}
	if err := config.ValidateBasic(); err != nil {
		return nil, err
	}
	if !valSet.Contains(id) {
		return nil, fmt.Errorf("%w: %d", ErrNotInValidatorSet, id)
	}
	return &ConsensusState{
		config:      config,
		valSet:      valSet,
		id:          id,
		log:         log.With(fmt.Sprintf("node=%d", id)),
		lockedRound: -1,
		validRound:  -1,
		proposals:   make(map[int32]*types.Proposal),
		votes:       NewHeightVoteSet(0, valSet),
		decisions:   make(map[int64]types.Block),
		ticker:      NewTimeoutTicker(log),
		peerMsgCh:   make(chan msgInfo, msgQueueSize),
		internalCh:  make(chan msgInfo, msgQueueSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		recorder:    trace.NewNopRecorder(),
	}, nil
}

// SetProposalBroadcaster installs the outbound proposal hook. Before Start.
func (cs *ConsensusState) SetProposalBroadcaster(fn ProposalBroadcaster) { cs.broadcastProposal = fn }

// SetVoteBroadcaster installs the outbound vote hook. Before Start.
func (cs *ConsensusState) SetVoteBroadcaster(fn VoteBroadcaster) { cs.broadcastVote = fn }

// SetDecisionHandler installs the decision observer. Before Start.
func (cs *ConsensusState) SetDecisionHandler(fn DecisionHandler) { cs.onDecision = fn }

// SetEvidencePool installs the equivocation evidence sink. Before Start.
func (cs *ConsensusState) SetEvidencePool(p *evidence.Pool) { cs.evpool = p }

// SetMetrics installs telemetry. Before Start.
func (cs *ConsensusState) SetMetrics(m *metrics.Metrics) { cs.metrics = m }

// SetTraceRecorder installs the event recorder. Before Start.
func (cs *ConsensusState) SetTraceRecorder(r trace.Recorder) { cs.recorder = r }

// Start launches the receive routine and enters height 0, round 0.
func (cs *ConsensusState) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.started {
		return ErrAlreadyStarted
	}
	cs.started = true
	if err := cs.ticker.Start(); err != nil {
		return err
	}
	cs.enterNewRound(cs.height, 0)
	go cs.receiveRoutine()
	return nil
}

// Stop terminates the receive routine and waits for it to exit.
func (cs *ConsensusState) Stop() {
	cs.mu.Lock()
	if !cs.started {
		cs.mu.Unlock()
		return
	}
	cs.started = false
	cs.mu.Unlock()
	close(cs.quit)
	<-cs.done
	cs.ticker.Stop()
}

// AddProposal hands an inbound proposal to the state machine.
func (cs *ConsensusState) AddProposal(p *types.Proposal) {
	if p == nil {
		return
	}
	select {
	case cs.peerMsgCh <- msgInfo{proposal: types.CopyProposal(p)}:
	case <-cs.quit:
	}
}

// AddVote hands an inbound vote to the state machine.
func (cs *ConsensusState) AddVote(v *types.Vote) {
	if v == nil {
		return
	}
	select {
	case cs.peerMsgCh <- msgInfo{vote: types.CopyVote(v)}:
	case <-cs.quit:
	}
}

// receiveRoutine is the single goroutine applying state transitions.
// Internal messages (the node's own proposal and votes) drain before peer
// messages so self-delivery is never starved.
func (cs *ConsensusState) receiveRoutine() {
	defer close(cs.done)
	for {
		select {
		case mi := <-cs.internalCh:
			cs.handleMsg(mi)
			continue
		default:
		}
		select {
		case mi := <-cs.internalCh:
			cs.handleMsg(mi)
		case mi := <-cs.peerMsgCh:
			cs.handleMsg(mi)
		case ti := <-cs.ticker.Chan():
			cs.handleTimeout(ti)
		case <-cs.quit:
			return
		}
	}
}

func (cs *ConsensusState) handleMsg(mi msgInfo) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	switch {
	case mi.proposal != nil:
		cs.processProposal(mi.proposal)
	case mi.vote != nil:
		cs.processVote(mi.vote)
	}
}

func (cs *ConsensusState) handleTimeout(ti TimeoutInfo) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if ti.Height != cs.height || ti.Round != cs.round {
		cs.log.Debugf("ignoring stale %s at h=%d r=%d", ti, cs.height, cs.round)
		return
	}
	cs.record(trace.EventTimeout, ti.Step.String())
	switch ti.Step {
	case StepPropose:
		// no proposal arrived in time, prevote nil
		if cs.step == StepPropose {
			cs.enterPrevote(ti.Round, nil)
		}
	case StepPrevote:
		// no prevote quorum formed in time, precommit nil
		if cs.step == StepPrevote {
			cs.enterPrecommit(ti.Round, nil)
		}
	case StepPrecommit:
		// the round failed to decide, move on
		cs.enterNewRound(cs.height, ti.Round+1)
	}
}

// enterNewRound starts (height, round). Locks survive round changes within a
// height; only a decision clears them.
func (cs *ConsensusState) enterNewRound(height int64, round int32) {
	cs.round = round
	cs.step = StepPropose
	cs.log.Debugf("entering round h=%d r=%d proposer=%d", height, round, cs.valSet.Proposer(height, round))
	cs.record(trace.EventNewRound, "")
	cs.metrics.ObserveRoundStart(cs.id, round)
	cs.scheduleTimeout(StepPropose, height, round)

	if cs.valSet.Proposer(height, round) == cs.id {
		cs.propose(height, round)
	} else if p, ok := cs.proposals[round]; ok {
		// the proposal beat us into this round
		cs.processProposal(p)
	}
}

// propose builds and broadcasts this node's proposal for (height, round),
// reproposing the valid value when one is known.
func (cs *ConsensusState) propose(height int64, round int32) {
	var block types.Block
	validRound := int32(-1)
	if cs.validBlock != nil {
		block = *cs.validBlock
		validRound = cs.validRound
	} else {
		block = cs.config.Produce(height)
	}
	p := &types.Proposal{
		Height:     height,
		Round:      round,
		Block:      block,
		Proposer:   cs.id,
		ValidRound: validRound,
	}
	cs.log.Debugf("proposing %s", p)
	if cs.broadcastProposal != nil {
		cs.broadcastProposal(types.CopyProposal(p))
	}
	cs.sendInternal(msgInfo{proposal: p})
}

// processProposal validates and stores a proposal, then prevotes if we are
// still in the propose step of its round.
func (cs *ConsensusState) processProposal(p *types.Proposal) {
	if p.Height != cs.height {
		cs.log.Debugf("discarding proposal at h=%d, at h=%d", p.Height, cs.height)
		return
	}
	if p.Proposer != cs.valSet.Proposer(p.Height, p.Round) {
		cs.log.Warnf("discarding proposal from %d, proposer for h=%d r=%d is %d",
			p.Proposer, p.Height, p.Round, cs.valSet.Proposer(p.Height, p.Round))
		return
	}
	if existing, ok := cs.proposals[p.Round]; ok {
		if existing.Block.ID != p.Block.ID {
			cs.log.Warnf("proposer %d sent conflicting proposals at h=%d r=%d", p.Proposer, p.Height, p.Round)
		}
		return
	}
	cs.proposals[p.Round] = types.CopyProposal(p)
	cs.record(trace.EventProposal, p.String())

	if p.Round == cs.round && cs.step == StepPropose {
		cs.enterPrevote(p.Round, cs.prevoteID(p))
	}
	// a late proposal can complete a decision for an existing precommit quorum
	cs.checkPrecommitQuorum(p.Round)
	// or let a pending prevote quorum lock
	cs.checkPrevoteQuorum(p.Round)
}

// prevoteID applies the lock rule: prevote the proposed block when it is
// valid and either we are unlocked, locked on the same value, or the
// proposer's valid-round claim checks out against a prevote quorum we saw
// ourselves at that round. Otherwise prevote nil.
func (cs *ConsensusState) prevoteID(p *types.Proposal) *types.BlockID {
	if !p.Block.Valid() || p.Block.Height != p.Height {
		cs.log.Debugf("prevoting nil, invalid block in %s", p)
		return nil
	}
	id := p.Block.ID
	switch {
	case cs.lockedRound == -1:
	case cs.lockedBlock != nil && cs.lockedBlock.ID == id:
	case p.ValidRound > -1 && p.ValidRound < p.Round &&
		cs.lockedRound <= p.ValidRound &&
		cs.votes.Prevotes(p.ValidRound).HasQuorum(&id):
		// the claimed earlier quorum releases our lock, verified against
		// our own vote record, never the proposer's word
	default:
		cs.log.Debugf("prevoting nil, locked on %08x at r=%d", uint32(cs.lockedBlock.ID), cs.lockedRound)
		return nil
	}
	return &id
}

// enterPrevote moves to the prevote step and casts our prevote.
func (cs *ConsensusState) enterPrevote(round int32, id *types.BlockID) {
	cs.step = StepPrevote
	cs.scheduleTimeout(StepPrevote, cs.height, round)
	cs.sendVote(types.VoteTypePrevote, round, id)
}

// enterPrecommit moves to the precommit step and casts our precommit.
func (cs *ConsensusState) enterPrecommit(round int32, id *types.BlockID) {
	cs.step = StepPrecommit
	cs.scheduleTimeout(StepPrecommit, cs.height, round)
	if id == nil {
		cs.metrics.ObserveNilPrecommit(cs.id)
	}
	cs.sendVote(types.VoteTypePrecommit, round, id)
}

func (cs *ConsensusState) sendVote(voteType types.VoteType, round int32, id *types.BlockID) {
	v := &types.Vote{
		Type:    voteType,
		Height:  cs.height,
		Round:   round,
		BlockID: types.CopyBlockID(id),
		Voter:   cs.id,
	}
	cs.record(trace.EventVote, v.String())
	if cs.broadcastVote != nil {
		cs.broadcastVote(types.CopyVote(v))
	}
	cs.sendInternal(msgInfo{vote: v})
}

func (cs *ConsensusState) sendInternal(mi msgInfo) {
	select {
	case cs.internalCh <- mi:
	default:
		// cannot happen while the receive routine drains internal first
		cs.log.Errorf("internal queue full, dropping message")
	}
}

// processVote counts a vote and applies any transition it completes.
func (cs *ConsensusState) processVote(v *types.Vote) {
	if v.Height != cs.height {
		cs.log.Debugf("discarding vote at h=%d, at h=%d", v.Height, cs.height)
		return
	}
	added, err := cs.votes.AddVote(v)
	if err != nil {
		if errors.Is(err, ErrConflictingVote) {
			cs.handleEquivocation(v)
			return
		}
		cs.log.Debugf("discarding vote: %s", err)
		return
	}
	if !added {
		return
	}
	switch v.Type {
	case types.VoteTypePrevote:
		cs.checkPrevoteQuorum(v.Round)
	case types.VoteTypePrecommit:
		cs.checkPrecommitQuorum(v.Round)
	}
	// 2f+1 voters active in a later round means a quorum moved on without us
	if r, ok := cs.votes.FutureRoundQuorum(cs.round); ok {
		cs.log.Debugf("catching up to round %d", r)
		cs.enterNewRound(cs.height, r)
	}
}

// handleEquivocation turns a conflicting vote into evidence. The first-seen
// vote stays counted; the conflicting one is never counted.
func (cs *ConsensusState) handleEquivocation(v *types.Vote) {
	var first *types.Vote
	if v.Type == types.VoteTypePrevote {
		first = cs.votes.Prevotes(v.Round).GetVote(v.Voter)
	} else {
		first = cs.votes.Precommits(v.Round).GetVote(v.Voter)
	}
	cs.log.Warnf("equivocation by %d at h=%d r=%d %s", v.Voter, v.Height, v.Round, v.Type)
	cs.record(trace.EventEquivocation, fmt.Sprintf("voter=%d", v.Voter))
	cs.metrics.ObserveEquivocation(cs.id)
	if cs.evpool != nil && first != nil {
		if _, err := cs.evpool.Record(first, v); err != nil {
			cs.log.Errorf("recording evidence: %s", err)
		}
	}
}

// checkPrevoteQuorum reacts to a 2f+1 prevote majority at a round: lock and
// precommit the value in the current round's prevote step, track it as the
// valid value even after moving to precommit, or precommit nil on a nil
// majority.
func (cs *ConsensusState) checkPrevoteQuorum(round int32) {
	prevotes := cs.votes.Prevotes(round)
	maj, ok := prevotes.TwoThirdsMajority()
	if !ok {
		return
	}
	if maj == nil {
		if round == cs.round && cs.step == StepPrevote {
			cs.enterPrecommit(round, nil)
		}
		return
	}
	block := cs.blockWithID(maj)
	if block == nil {
		// quorum for a value we have no proposal for, nothing to lock onto
		return
	}
	if round != cs.round {
		return
	}
	if cs.step == StepPrevote {
		cs.lockedBlock = block
		cs.lockedRound = round
		cs.log.Debugf("locked on %08x at r=%d", uint32(block.ID), round)
		cs.record(trace.EventLock, block.String())
		cs.validBlock = block
		cs.validRound = round
		cs.enterPrecommit(round, maj)
		return
	}
	// already past prevote, still adopt the valid value for reproposal
	cs.validBlock = block
	cs.validRound = round
}

// checkPrecommitQuorum reacts to a 2f+1 precommit majority at a round: a
// value majority decides once we hold its proposal, a nil majority in the
// current round skips ahead.
func (cs *ConsensusState) checkPrecommitQuorum(round int32) {
	precommits := cs.votes.Precommits(round)
	maj, ok := precommits.TwoThirdsMajority()
	if !ok {
		return
	}
	if maj == nil {
		if round == cs.round {
			cs.enterNewRound(cs.height, round+1)
		}
		return
	}
	block := cs.blockWithID(maj)
	if block == nil {
		// wait for the proposal carrying the decided value
		return
	}
	qc, err := precommits.MakeQC()
	if err != nil {
		cs.log.Errorf("building decision certificate: %s", err)
		return
	}
	cs.decide(*block, qc)
}

// blockWithID finds the proposed block with a given id among the proposals
// seen this height.
func (cs *ConsensusState) blockWithID(id *types.BlockID) *types.Block {
	if id == nil {
		return nil
	}
	for _, p := range cs.proposals {
		if p.Block.ID == *id {
			block := p.Block
			return &block
		}
	}
	return nil
}

// decide commits a block at the current height and moves to the next one.
// Two different decisions at one height is a broken safety invariant and
// panics.
func (cs *ConsensusState) decide(block types.Block, qc *types.QuorumCertificate) {
	if existing, ok := cs.decisions[cs.height]; ok {
		if existing.ID != block.ID {
			panic(fmt.Sprintf("node %d decided twice at height %d: %s then %s",
				cs.id, cs.height, existing, block))
		}
		return
	}
	cs.decisions[cs.height] = block
	cs.log.Infof("decided %s at h=%d r=%d", block, cs.height, cs.round)
	cs.record(trace.EventDecision, block.String())
	cs.metrics.ObserveDecision(cs.id, cs.height)
	if cs.onDecision != nil {
		cs.onDecision(cs.id, cs.height, block, qc)
	}

	cs.height++
	cs.lockedRound = -1
	cs.lockedBlock = nil
	cs.validRound = -1
	cs.validBlock = nil
	cs.proposals = make(map[int32]*types.Proposal)
	cs.votes.Reset(cs.height)
	cs.enterNewRound(cs.height, 0)
}

func (cs *ConsensusState) scheduleTimeout(step RoundStep, height int64, round int32) {
	cs.ticker.ScheduleTimeout(TimeoutInfo{
		Duration: cs.config.Timeouts.DurationFor(step, round),
		Height:   height,
		Round:    round,
		Step:     step,
	})
}

func (cs *ConsensusState) record(eventType trace.EventType, info string) {
	cs.recorder.Record(trace.Event{
		Node:   cs.id,
		Type:   eventType,
		Height: cs.height,
		Round:  cs.round,
		Info:   info,
	})
}

// ID returns the validator id of this node.
func (cs *ConsensusState) ID() types.NodeID { return cs.id }

// Height returns the height the node is working on.
func (cs *ConsensusState) Height() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.height
}

// Round returns the node's current round.
func (cs *ConsensusState) Round() int32 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.round
}

// Step returns the node's current step.
func (cs *ConsensusState) Step() RoundStep {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.step
}

// LockedBlock returns a copy of the locked block and its round, or nil, -1.
func (cs *ConsensusState) LockedBlock() (*types.Block, int32) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.lockedBlock == nil {
		return nil, -1
	}
	block := *cs.lockedBlock
	return &block, cs.lockedRound
}

// Decision returns the decided block for a height.
func (cs *ConsensusState) Decision(height int64) (types.Block, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	block, ok := cs.decisions[height]
	return block, ok
}

// Decisions returns a copy of all decided blocks by height.
func (cs *ConsensusState) Decisions() map[int64]types.Block {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make(map[int64]types.Block, len(cs.decisions))
	for h, b := range cs.decisions {
		out[h] = b
	}
	return out
}
