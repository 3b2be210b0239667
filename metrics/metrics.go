package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tms7331/tendermint-ish/logger"
	"github.com/tms7331/tendermint-ish/types"
)

/* This file implements telemetry for a consensus run in the form of prometheus metrics */

const metricsPattern = "/metrics"

// Config holds the telemetry settings for a run.
type Config struct {
	Enabled           bool   `json:"enabled"`
	PrometheusAddress string `json:"prometheusAddress"`
}

// DefaultConfig returns telemetry disabled, the sensible default for tests.
func DefaultConfig() Config {
	return Config{Enabled: false, PrometheusAddress: "localhost:9090"}
}

// Metrics holds the consensus telemetry and the optional http server exposing
// it. Each cluster owns its own registry so independent runs in one process
// never collide on metric registration. All methods are nil-receiver safe so
// callers may skip wiring telemetry entirely.
type Metrics struct {
	registry *prometheus.Registry
	server   *http.Server
	config   Config
	log      logger.LoggerI

	ConsensusMetrics
}

// ConsensusMetrics is the per-node telemetry of the state machines, labeled
// by validator id.
type ConsensusMetrics struct {
	Height        *prometheus.GaugeVec   // the latest decided height per node
	Round         *prometheus.GaugeVec   // the current round per node
	Decisions     *prometheus.CounterVec // how many values has each node decided?
	RoundsStarted *prometheus.CounterVec // how many rounds has each node entered?
	NilPrecommits *prometheus.CounterVec // how often did a round fail to lock?
	Equivocations *prometheus.CounterVec // conflicting vote pairs detected per node
	DroppedMsgs   *prometheus.CounterVec // bus messages dropped per receiving node
}

// New creates the telemetry for one cluster.
func New(config Config, log logger.LoggerI) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	mux := http.NewServeMux()
	mux.Handle(metricsPattern, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &Metrics{
		registry: registry,
		server:   &http.Server{Addr: config.PrometheusAddress, Handler: mux},
		config:   config,
		log:      log,
		ConsensusMetrics: ConsensusMetrics{
			Height: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "consensus_height",
				Help: "Latest decided height per node",
			}, []string{"node"}),
			Round: factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: "consensus_round",
				Help: "Current round per node",
			}, []string{"node"}),
			Decisions: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_decisions_total",
				Help: "Number of decided values per node",
			}, []string{"node"}),
			RoundsStarted: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_rounds_started_total",
				Help: "Number of rounds entered per node",
			}, []string{"node"}),
			NilPrecommits: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_nil_precommits_total",
				Help: "Number of nil precommits sent per node",
			}, []string{"node"}),
			Equivocations: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_equivocations_total",
				Help: "Number of conflicting vote pairs detected per node",
			}, []string{"node"}),
			DroppedMsgs: factory.NewCounterVec(prometheus.CounterOpts{
				Name: "consensus_dropped_messages_total",
				Help: "Number of bus messages dropped per receiving node",
			}, []string{"node"}),
		},
	}
}

// Start starts the telemetry server if enabled.
func (m *Metrics) Start() {
	if m == nil || !m.config.Enabled {
		return
	}
	go func() {
		m.log.Infof("starting metrics server on %s", m.config.PrometheusAddress)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Errorf("metrics server failed: %s", err)
		}
	}()
}

// Stop gracefully stops the telemetry server.
func (m *Metrics) Stop() {
	if m == nil || !m.config.Enabled {
		return
	}
	if err := m.server.Shutdown(context.Background()); err != nil {
		m.log.Error(err.Error())
	}
}

// Registry exposes the cluster registry for test assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func nodeLabel(id types.NodeID) prometheus.Labels {
	return prometheus.Labels{"node": id.String()}
}

// ObserveRoundStart records a node entering (height, round).
func (m *Metrics) ObserveRoundStart(id types.NodeID, round int32) {
	if m == nil {
		return
	}
	m.Round.With(nodeLabel(id)).Set(float64(round))
	m.RoundsStarted.With(nodeLabel(id)).Inc()
}

// ObserveDecision records a node deciding a value at a height.
func (m *Metrics) ObserveDecision(id types.NodeID, height int64) {
	if m == nil {
		return
	}
	m.Height.With(nodeLabel(id)).Set(float64(height))
	m.Decisions.With(nodeLabel(id)).Inc()
}

// ObserveNilPrecommit records a node precommitting nil.
func (m *Metrics) ObserveNilPrecommit(id types.NodeID) {
	if m == nil {
		return
	}
	m.NilPrecommits.With(nodeLabel(id)).Inc()
}

// ObserveEquivocation records a conflicting vote pair detected by a node.
func (m *Metrics) ObserveEquivocation(id types.NodeID) {
	if m == nil {
		return
	}
	m.Equivocations.With(nodeLabel(id)).Inc()
}

// ObserveDroppedMessage records a bus message dropped on delivery to a node.
func (m *Metrics) ObserveDroppedMessage(id types.NodeID) {
	if m == nil {
		return
	}
	m.DroppedMsgs.With(nodeLabel(id)).Inc()
}
