package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.observe(StageValidate, 5*time.Millisecond)
	w.observe(StageValidate, 7*time.Millisecond)
	w.observe(StageValidate, 9*time.Millisecond)
	w.countOutcome("validated")
	w.countOutcome("validated")

	snap := w.snapshot()
	assert.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 1)

	s := snap.Stages[0]
	assert.Equal(t, StageValidate, s.Stage)
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 9.0, s.LastMS)
	assert.Equal(t, 7.0, s.AvgMS)
	assert.Equal(t, 7.0, s.P50MS)
	assert.Equal(t, 9.0, s.MaxMS)
	assert.Equal(t, 250.0, s.TargetP95MS)
	assert.Equal(t, map[string]int{"validated": 2}, snap.Outcomes)
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	w.observe(StageEnrich, 1*time.Millisecond)
	w.observe(StageEnrich, 2*time.Millisecond)
	w.observe(StageEnrich, 10*time.Millisecond)

	s := w.snapshot().Stages[0]
	assert.Equal(t, 2, s.Samples)
	assert.Equal(t, 10.0, s.MaxMS)
	assert.Equal(t, 6.0, s.AvgMS)
}

func TestStageWindowIgnoresInvalidSamples(t *testing.T) {
	w := newStageWindow(4)
	w.observe("", time.Millisecond)
	w.observe(StageTurn, -time.Millisecond)
	w.countOutcome("")

	snap := w.snapshot()
	assert.Empty(t, snap.Stages)
	assert.Empty(t, snap.Outcomes)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{10, 20, 30, 40}
	assert.Equal(t, 10.0, percentile(sorted, 0))
	assert.Equal(t, 40.0, percentile(sorted, 1))
	assert.Equal(t, 25.0, percentile(sorted, 0.5))
	assert.Equal(t, 0.0, percentile(nil, 0.5))
}

func TestMetricsWithIsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg, "test")

	m.Turns.WithLabelValues("import_tenants", "validate_csv").Inc()
	m.ClassifierFailures.WithLabelValues("timeout").Inc()
	m.ObserveClassifierLatency(3 * time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Turns.WithLabelValues("import_tenants", "validate_csv")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierFailures.WithLabelValues("timeout")))
	require.Len(t, m.SnapshotStages().Stages, 1)
	assert.Equal(t, StageClassify, m.SnapshotStages().Stages[0].Stage)

	// A second registry accepts the same namespace.
	NewMetricsWith(prometheus.NewRegistry(), "test")
}
