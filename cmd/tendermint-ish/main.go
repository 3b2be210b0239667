package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tms7331/tendermint-ish/logger"
	"github.com/tms7331/tendermint-ish/metrics"
	"github.com/tms7331/tendermint-ish/sim"
	"github.com/tms7331/tendermint-ish/trace"
	"github.com/tms7331/tendermint-ish/types"
)

var rootCmd = &cobra.Command{
	Use:   "tendermint-ish",
	Short: "tendermint-ish simulates BFT consensus clusters with pluggable faults",
}

var (
	nodes       int
	heights     int64
	scenario    string
	seed        int64
	verbose     bool
	showTrace   bool
	metricsAddr string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&nodes, "nodes", 4, "number of validators")
	runCmd.Flags().Int64Var(&heights, "heights", 10, "heights to decide before stopping")
	runCmd.Flags().StringVar(&scenario, "scenario", "good", "good | split-brain | random | invalid-proposer")
	runCmd.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "seed for Byzantine randomness")
	runCmd.Flags().BoolVar(&verbose, "verbose", false, "log at debug level")
	runCmd.Flags().BoolVar(&showTrace, "trace", false, "dump every consensus event after the run")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a consensus scenario to a target height",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func run() error {
	level := logger.InfoLevel
	if verbose {
		level = logger.DebugLevel
	}
	l, err := logger.New(logger.Config{Level: level})
	if err != nil {
		return err
	}

	config, err := scenarioConfig()
	if err != nil {
		return err
	}
	config.Logger = l
	recorder := trace.NewMemoryRecorder()
	config.Recorder = recorder
	if metricsAddr != "" {
		config.Metrics = metrics.Config{Enabled: true, PrometheusAddress: metricsAddr}
	}

	cluster, err := sim.New(config)
	if err != nil {
		return err
	}
	if err := cluster.Start(); err != nil {
		return err
	}
	defer cluster.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	l.Infof("running scenario %q with %d nodes to height %d", scenario, nodes, heights)
	waitErr := cluster.WaitForHeight(ctx, heights-1, honestNodes(config)...)
	report(l, cluster, recorder)
	return waitErr
}

func scenarioConfig() (sim.Config, error) {
	switch scenario {
	case "good":
		return sim.GoodConfig(nodes), nil
	case "split-brain":
		return sim.SplitBrainConfig(seed), nil
	case "random":
		return sim.RandomConfig(nodes, (nodes-1)/3+1, seed), nil
	case "invalid-proposer":
		return sim.InvalidProposerConfig(nodes), nil
	default:
		return sim.Config{}, fmt.Errorf("unknown scenario %q", scenario)
	}
}

// honestNodes lists the nodes worth waiting on: the ones without a Byzantine
// policy.
func honestNodes(config sim.Config) []types.NodeID {
	var out []types.NodeID
	for i := 0; i < config.Nodes; i++ {
		id := types.NodeID(i)
		if _, byzantine := config.Policies[id]; !byzantine {
			out = append(out, id)
		}
	}
	return out
}

func report(l logger.LoggerI, cluster *sim.Cluster, recorder *trace.MemoryRecorder) {
	if err := cluster.SafetyCheck(); err != nil {
		l.Errorf("safety: %s", err)
	} else {
		l.Info("safety: all decided values agree")
	}
	if err := cluster.LivenessCheck(); err != nil {
		l.Warnf("liveness: %s", err)
	} else {
		l.Info("liveness: all nodes making progress")
	}

	evidenceTotal := 0
	for _, id := range cluster.ValidatorSet().IDs() {
		evidenceTotal += cluster.Evidence(id).Size()
	}
	l.Infof("decisions recorded: %d, equivocation evidence entries: %d, messages dropped: %d",
		len(recorder.ByType(trace.EventDecision)), evidenceTotal, cluster.Bus().Dropped())

	if showTrace {
		for _, e := range recorder.Events() {
			fmt.Fprintln(os.Stdout, e)
		}
	}
}
