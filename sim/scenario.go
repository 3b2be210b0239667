package sim

import (
	"github.com/tms7331/tendermint-ish/behavior"
	"github.com/tms7331/tendermint-ish/types"
)

// GoodConfig is the baseline scenario: n honest validators, fully connected,
// no faults. Every node decides the same block at every height.
func GoodConfig(n int) Config {
	return DefaultConfig(n)
}

// EquivocationConfig stages a coordinated double-sign attack: the nodes in
// byzantine share one collusion tracker and, whenever one of them proposes,
// show the peers in splitPeers a forged block while everyone else sees the
// real one, with all colluding votes remapped to match. With more than f
// colluders and a split that isolates under a third of the honest set, both
// halves reach what looks like a unanimous quorum and safety breaks.
func EquivocationConfig(n int, byzantine, splitPeers []types.NodeID, seed int64) Config {
	config := DefaultConfig(n)
	collusion := behavior.NewCollusion(splitPeers, seed)
	config.Policies = make(map[types.NodeID]behavior.Policy, len(byzantine))
	for _, id := range byzantine {
		config.Policies[id] = behavior.Equivocating{Collusion: collusion}
	}
	return config
}

// SplitBrainConfig is the canonical equivocation run: 100 validators, the 49
// in [51..99] colluding, the forged block aimed at honest nodes [0..24]. The
// first colluding proposer turn is node 51 at height 51 round 0, where the
// two honest halves decide different blocks.
func SplitBrainConfig(seed int64) Config {
	byzantine := make([]types.NodeID, 0, 49)
	for id := types.NodeID(51); id <= 99; id++ {
		byzantine = append(byzantine, id)
	}
	splitPeers := make([]types.NodeID, 0, 25)
	for id := types.NodeID(0); id <= 24; id++ {
		splitPeers = append(splitPeers, id)
	}
	return EquivocationConfig(100, byzantine, splitPeers, seed)
}

// RandomConfig gives numRandom of the n validators the Random policy: every
// message they send is independently generated garbage. Past f of them the
// cluster cannot assemble a quorum and liveness halts; safety still holds.
func RandomConfig(n, numRandom int, seed int64) Config {
	config := DefaultConfig(n)
	config.Policies = make(map[types.NodeID]behavior.Policy, numRandom)
	for i := 0; i < numRandom; i++ {
		id := types.NodeID(n - 1 - i)
		config.Policies[id] = behavior.NewRandom(seed + int64(i))
	}
	return config
}

// InvalidProposerConfig makes the last validator propose blocks that fail
// validation. Its proposer rounds collapse into nil prevotes and fall
// through to the next round; every height still decides.
func InvalidProposerConfig(n int) Config {
	config := DefaultConfig(n)
	config.Policies = map[types.NodeID]behavior.Policy{
		types.NodeID(n - 1): behavior.InvalidProposer{},
	}
	return config
}
