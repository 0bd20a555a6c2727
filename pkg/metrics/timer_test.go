package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	first := timer.Duration()
	assert.GreaterOrEqual(t, int64(first), int64(20*time.Millisecond))

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, int64(timer.Duration()), int64(first))
}

func TestTimerObserve(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
		Help: "Test duration histogram",
	})
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_duration_vec_seconds",
		Help: "Test duration histogram vec",
	}, []string{"kind"})

	timer := NewTimer()
	timer.ObserveDuration(histogram)
	timer.ObserveDurationVec(vec, "vhost")
	timer.ObserveDurationVec(vec, "vhost")

	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
	assert.Equal(t, 1, testutil.CollectAndCount(vec), "one labelled series")
}
