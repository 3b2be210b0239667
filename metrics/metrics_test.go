package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/tms7331/tendermint-ish/logger"
)

func TestObservers(t *testing.T) {
	m := New(DefaultConfig(), logger.NewNop())

	m.ObserveRoundStart(0, 0)
	m.ObserveRoundStart(0, 1)
	m.ObserveDecision(0, 5)
	m.ObserveEquivocation(1)

	require.Equal(t, 2.0, testutil.ToFloat64(m.RoundsStarted.WithLabelValues("0")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Round.WithLabelValues("0")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.Height.WithLabelValues("0")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Equivocations.WithLabelValues("1")))
}

func TestNilReceiverSafe(t *testing.T) {
	var m *Metrics
	m.Start()
	m.ObserveRoundStart(0, 0)
	m.ObserveDecision(0, 0)
	m.ObserveNilPrecommit(0)
	m.ObserveEquivocation(0)
	m.ObserveDroppedMessage(0)
	m.Stop()
	require.Nil(t, m.Registry())
}

func TestIndependentRegistries(t *testing.T) {
	a := New(DefaultConfig(), logger.NewNop())
	b := New(DefaultConfig(), logger.NewNop())
	a.ObserveDecision(0, 1)
	require.Equal(t, 0.0, testutil.ToFloat64(b.Decisions.WithLabelValues("0")))
}
