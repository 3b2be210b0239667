// Package types holds the leaf data types of the consensus engine: blocks and
// their ids, proposals, votes, quorum certificates, and the validator set.
//
// Values are immutable by convention. Anything handed across a goroutine
// boundary is copied first with the Copy* helpers so no two nodes ever alias
// the same allocation.
//
// A *BlockID that is nil means NIL, the distinguished "no value" of the
// protocol: nil prevotes and precommits use it, and a quorum certificate for
// NIL is what lets a round give up and move on.
//
// The validator set is fixed for a run. With N = 3f+1 validators the set
// tolerates f Byzantine members, and every quorum needs 2f+1 matching votes,
// so any two quorums intersect in at least one honest validator.
package types
