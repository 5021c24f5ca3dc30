package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ronittamrakar/jobqueue/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	require.NotNil(t, c)
	assert.NotNil(t, c.enqueued)
	assert.NotNil(t, c.jobDuration)
	assert.NotNil(t, c.jobsByState)
	assert.NotNil(t, c.gatherer)
}

func TestCounters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordEnqueued()
	c.RecordEnqueued()
	c.RecordDeduplicated()
	c.RecordClaimed("email")
	c.RecordCompleted("email", 0.2)
	c.RecordRetried("email")
	c.RecordFailed("sms", 1)
	c.RecordCancelled()
	c.RecordReleased(3)
	c.RecordReleased(0)
	c.RecordPurged(7)
	c.RecordHistoryWriteFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.enqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deduplicated))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.claimed.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completed.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retried.WithLabelValues("email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failed.WithLabelValues("sms")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancelled))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.released))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.purged))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.historyErrors))
}

func TestSetStatusCounts(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.SetStatusCounts(map[state.JobStatus]int{state.StatusPending: 4})

	assert.Equal(t, 4.0, testutil.ToFloat64(c.jobsByState.WithLabelValues("pending")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.jobsByState.WithLabelValues("failed")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordEnqueued()
		c.RecordClaimed("x")
		c.RecordCompleted("x", 1)
		c.RecordReleased(2)
		c.SetStatusCounts(nil)
	})
	assert.NotNil(t, c.Handler())
}

func TestHandlerServesRegistry(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.RecordEnqueued()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "jobqueue_jobs_enqueued_total 1"))
}
