package engine

import (
	"github.com/tms7331/tendermint-ish/behavior"
	"github.com/tms7331/tendermint-ish/bus"
	"github.com/tms7331/tendermint-ish/logger"
	"github.com/tms7331/tendermint-ish/types"
)

// Sender is the outbound half of the network. *bus.Bus implements it.
type Sender interface {
	SendProposal(from, to types.NodeID, p *types.Proposal)
	SendVote(from, to types.NodeID, v *types.Vote)
}

var _ Sender = (*bus.Bus)(nil)

// Node wires a consensus state machine to the network and a behavior policy.
// Outbound messages fan out per peer through the policy, so a Byzantine
// policy can tell each peer something different while the node's own state
// machine stays honest. Inbound messages pump from the bus inbox into the
// state machine.
type Node struct {
	cs     *ConsensusState
	valSet *types.ValidatorSet
	sender Sender
	policy behavior.Policy
	inbox  <-chan bus.Message
	log    logger.LoggerI
	quit   chan struct{}
	done   chan struct{}
}

// NewNode assembles a node. The policy defaults to honest when nil.
func NewNode(cs *ConsensusState, valSet *types.ValidatorSet, sender Sender, policy behavior.Policy, inbox <-chan bus.Message, log logger.LoggerI) *Node {
	if policy == nil {
		policy = behavior.Honest{}
	}
	return &Node{
		cs:     cs,
		valSet: valSet,
		sender: sender,
		policy: policy,
		inbox:  inbox,
		log:    log,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ID returns the node's validator id.
func (n *Node) ID() types.NodeID { return n.cs.ID() }

// State exposes the underlying state machine for inspection.
func (n *Node) State() *ConsensusState { return n.cs }

// Start installs the outbound hooks, starts the state machine, and begins
// pumping the inbox.
func (n *Node) Start() error {
	n.cs.SetProposalBroadcaster(n.broadcastProposal)
	n.cs.SetVoteBroadcaster(n.broadcastVote)
	if err := n.cs.Start(); err != nil {
		return err
	}
	go n.pumpRoutine()
	n.log.Debugf("node %d started", n.cs.ID())
	return nil
}

// Stop halts the inbox pump and the state machine.
func (n *Node) Stop() {
	select {
	case <-n.quit:
		return
	default:
	}
	close(n.quit)
	<-n.done
	n.cs.Stop()
}

func (n *Node) broadcastProposal(p *types.Proposal) {
	for _, to := range n.valSet.IDs() {
		if to == n.cs.ID() {
			continue
		}
		out := n.policy.DecideProposal(to, *p)
		n.sender.SendProposal(n.cs.ID(), to, &out)
	}
}

func (n *Node) broadcastVote(v *types.Vote) {
	for _, to := range n.valSet.IDs() {
		if to == n.cs.ID() {
			continue
		}
		out := n.policy.DecideVote(to, *v)
		n.sender.SendVote(n.cs.ID(), to, &out)
	}
}

func (n *Node) pumpRoutine() {
	defer close(n.done)
	for {
		select {
		case m := <-n.inbox:
			switch {
			case m.Proposal != nil:
				n.cs.AddProposal(m.Proposal)
			case m.Vote != nil:
				n.cs.AddVote(m.Vote)
			}
		case <-n.quit:
			return
		}
	}
}
