package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElapsedGrowsMonotonically(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)

	first := timer.Elapsed()
	assert.GreaterOrEqual(t, first, 5*time.Millisecond)

	second := timer.Elapsed()
	assert.GreaterOrEqual(t, second, first, "a timer never runs backwards")
}

func TestObserveDurationRecordsOneSample(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_observe_duration_seconds",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(2 * time.Millisecond)
	timer.ObserveDuration(h)

	var m dto.Metric
	require.NoError(t, h.Write(&m))
	assert.EqualValues(t, 1, m.GetHistogram().GetSampleCount())
	assert.Greater(t, m.GetHistogram().GetSampleSum(), 0.0)
}

func TestObserveDurationVecRecordsUnderTheGivenLabel(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "test_query_duration_seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "balance_on")
	timer.ObserveDurationVec(vec, "balance_on")
	timer.ObserveDurationVec(vec, "report_for_store")

	assert.Equal(t, 2, testutil.CollectAndCount(vec, "test_query_duration_seconds"),
		"two distinct label values, two series")
}

func TestOneTimerMayCloseIntoSeveralHistograms(t *testing.T) {
	a := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_shared_a_seconds"})
	b := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_shared_b_seconds"})

	timer := NewTimer()
	timer.ObserveDuration(a)
	timer.ObserveDuration(b)

	for _, h := range []prometheus.Histogram{a, b} {
		var m dto.Metric
		require.NoError(t, h.Write(&m))
		assert.EqualValues(t, 1, m.GetHistogram().GetSampleCount())
	}
}

func TestHandlerIsMountable(t *testing.T) {
	assert.NotNil(t, Handler())
}
