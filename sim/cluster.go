package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tms7331/tendermint-ish/behavior"
	"github.com/tms7331/tendermint-ish/bus"
	"github.com/tms7331/tendermint-ish/engine"
	"github.com/tms7331/tendermint-ish/evidence"
	"github.com/tms7331/tendermint-ish/logger"
	"github.com/tms7331/tendermint-ish/metrics"
	"github.com/tms7331/tendermint-ish/trace"
	"github.com/tms7331/tendermint-ish/types"
)

var (
	ErrNoNodes         = errors.New("cluster needs at least one node")
	ErrSafetyViolated  = errors.New("safety violated")
	ErrLivenessStalled = errors.New("liveness stalled")
)

// Config describes one simulated cluster.
type Config struct {
	// Nodes is the validator count; ids run 0..Nodes-1.
	Nodes int
	// Policies assigns Byzantine behavior per node. Unlisted nodes are
	// honest.
	Policies map[types.NodeID]behavior.Policy
	// Timeouts apply to every node.
	Timeouts engine.TimeoutConfig
	// Produce overrides the proposers' block source.
	Produce engine.BlockProducer
	// InboxSize overrides the bus inbox capacity. Zero keeps the default.
	InboxSize int
	// Metrics configures telemetry for the run.
	Metrics metrics.Config
	// Recorder receives every node's consensus events. Nil discards them.
	Recorder trace.Recorder
	// Logger defaults to a nop logger.
	Logger logger.LoggerI
}

// DefaultConfig returns an all-honest cluster of n nodes.
func DefaultConfig(n int) Config {
	return Config{
		Nodes:    n,
		Timeouts: engine.DefaultTimeoutConfig(),
		Metrics:  metrics.DefaultConfig(),
	}
}

// Cluster is a set of consensus nodes joined by an in-process bus. It
// records every node's decisions and exposes the safety and liveness checks
// a scenario asserts on.
type Cluster struct {
	valSet   *types.ValidatorSet
	bus      *bus.Bus
	nodes    map[types.NodeID]*engine.Node
	pools    map[types.NodeID]*evidence.Pool
	metrics  *metrics.Metrics
	recorder trace.Recorder
	log      logger.LoggerI

	mu        sync.Mutex
	decisions map[types.NodeID]map[int64]types.Block
	started   bool
}

// New assembles a cluster. Nothing runs until Start.
func New(config Config) (*Cluster, error) {
	if config.Nodes <= 0 {
		return nil, ErrNoNodes
	}
	log := config.Logger
	if log == nil {
		log = logger.NewNop()
	}
	recorder := config.Recorder
	if recorder == nil {
		recorder = trace.NewNopRecorder()
	}
	valSet, err := types.SequentialValidatorSet(config.Nodes)
	if err != nil {
		return nil, err
	}

	m := metrics.New(config.Metrics, log)
	netBus := bus.New(valSet.IDs(), config.InboxSize, log)
	netBus.SetDropCallback(func(to types.NodeID) { m.ObserveDroppedMessage(to) })

	c := &Cluster{
		valSet:    valSet,
		bus:       netBus,
		nodes:     make(map[types.NodeID]*engine.Node, config.Nodes),
		pools:     make(map[types.NodeID]*evidence.Pool, config.Nodes),
		metrics:   m,
		recorder:  recorder,
		log:       log,
		decisions: make(map[types.NodeID]map[int64]types.Block, config.Nodes),
	}

	engineConfig := engine.DefaultConfig()
	engineConfig.Timeouts = config.Timeouts
	if config.Produce != nil {
		engineConfig.Produce = config.Produce
	}
	for _, id := range valSet.IDs() {
		cs, err := engine.NewConsensusState(engineConfig, valSet, id, log)
		if err != nil {
			return nil, err
		}
		pool := evidence.NewPool()
		cs.SetEvidencePool(pool)
		cs.SetMetrics(m)
		cs.SetTraceRecorder(recorder)
		cs.SetDecisionHandler(c.recordDecision)

		inbox, err := netBus.Inbox(id)
		if err != nil {
			return nil, err
		}
		c.nodes[id] = engine.NewNode(cs, valSet, netBus, config.Policies[id], inbox, log)
		c.pools[id] = pool
		c.decisions[id] = make(map[int64]types.Block)
	}
	return c, nil
}

func (c *Cluster) recordDecision(id types.NodeID, height int64, block types.Block, _ *types.QuorumCertificate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[id][height] = block
}

// Start launches every node and the metrics endpoint.
func (c *Cluster) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return engine.ErrAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	c.metrics.Start()
	for _, id := range c.valSet.IDs() {
		if err := c.nodes[id].Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop halts the bus first so no node blocks on a dead peer, then the nodes.
func (c *Cluster) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.bus.Close()
	for _, n := range c.nodes {
		n.Stop()
	}
	c.metrics.Stop()
}

// Bus exposes the network for partition and delay rules.
func (c *Cluster) Bus() *bus.Bus { return c.bus }

// Node returns one node of the cluster.
func (c *Cluster) Node(id types.NodeID) *engine.Node { return c.nodes[id] }

// ValidatorSet returns the cluster membership.
func (c *Cluster) ValidatorSet() *types.ValidatorSet { return c.valSet }

// Evidence returns the evidence pool a node accumulated.
func (c *Cluster) Evidence(id types.NodeID) *evidence.Pool { return c.pools[id] }

// Metrics returns the cluster telemetry.
func (c *Cluster) Metrics() *metrics.Metrics { return c.metrics }

// Decision returns what a node decided at a height, if anything.
func (c *Cluster) Decision(id types.NodeID, height int64) (types.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.decisions[id][height]
	return block, ok
}

// Decisions returns a copy of a node's decided blocks by height.
func (c *Cluster) Decisions(id types.NodeID) map[int64]types.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]types.Block, len(c.decisions[id]))
	for h, b := range c.decisions[id] {
		out[h] = b
	}
	return out
}

// WaitForHeight blocks until every listed node has decided the height, one
// watcher per node. An empty node list means everyone.
func (c *Cluster) WaitForHeight(ctx context.Context, height int64, ids ...types.NodeID) error {
	if len(ids) == 0 {
		ids = c.valSet.IDs()
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ticker := time.NewTicker(time.Millisecond)
			defer ticker.Stop()
			for {
				if _, ok := c.Decision(id, height); ok {
					return nil
				}
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return fmt.Errorf("node %d never decided height %d: %w", id, height, ctx.Err())
				}
			}
		})
	}
	return g.Wait()
}

// SafetyCheck verifies agreement: no two of the listed nodes decided
// different blocks at any height. An empty node list means everyone.
func (c *Cluster) SafetyCheck(ids ...types.NodeID) error {
	if len(ids) == 0 {
		ids = c.valSet.IDs()
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byHeight := make(map[int64]map[types.BlockID][]types.NodeID)
	for _, id := range ids {
		for h, block := range c.decisions[id] {
			if byHeight[h] == nil {
				byHeight[h] = make(map[types.BlockID][]types.NodeID)
			}
			byHeight[h][block.ID] = append(byHeight[h][block.ID], id)
		}
	}
	heights := make([]int64, 0, len(byHeight))
	for h := range byHeight {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights {
		if len(byHeight[h]) > 1 {
			return fmt.Errorf("%w: %d distinct blocks decided at height %d",
				ErrSafetyViolated, len(byHeight[h]), h)
		}
	}
	return nil
}

// LivenessCheck flags nodes that cycled through a full proposer rotation at
// their current height without deciding it.
func (c *Cluster) LivenessCheck() error {
	for _, id := range c.valSet.IDs() {
		cs := c.nodes[id].State()
		if cs.Round() >= int32(c.valSet.Size()) {
			return fmt.Errorf("%w: node %d is at round %d of height %d",
				ErrLivenessStalled, id, cs.Round(), cs.Height())
		}
	}
	return nil
}
