// Package engine implements the per-validator consensus state machine and
// its supporting machinery: vote aggregation, round timeouts, and the node
// wrapper binding a state machine to a network and a behavior policy.
//
// # State machine
//
// ConsensusState runs heights sequentially. Each height is a series of
// rounds; each round walks the steps PROPOSE, PREVOTE, PRECOMMIT:
//
//   - PROPOSE: the round's proposer (round-robin over the validator set)
//     broadcasts a block. Everyone else waits for it, up to a timeout.
//   - PREVOTE: each validator broadcasts a prevote for the proposed block if
//     it is valid and the validator's lock allows it, otherwise for NIL.
//   - PRECOMMIT: on 2f+1 matching prevotes for a block the validator locks
//     on it and precommits it; failing that it precommits NIL.
//
// 2f+1 precommits for one block decide it, provided the validator holds the
// matching proposal (votes carry only block ids). A decision advances to the
// next height at round 0 and clears the lock. A round that cannot decide
// falls through to the next round of the same height on a timeout or a NIL
// precommit quorum, and timeouts grow with the round number.
//
// Locking is what keeps two quorums from deciding different blocks: once
// locked, a validator prevotes NIL against any other value unless the
// proposer shows a valid round proving a later quorum preferred it.
//
// # Concurrency
//
// One receive routine per state machine owns every transition. Proposals and
// votes enter through buffered queues; the node's own messages loop back
// through an internal queue that drains first. Everything else (accessors,
// broadcast hooks) is safe to use from other goroutines.
package engine
