package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.IncEscalation("keyword")
	a.IncEscalation("keyword")
	b.IncEscalation("keyword")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Escalations.WithLabelValues("keyword")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Escalations.WithLabelValues("keyword")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTransition("bot_handled", "escalated")
		m.IncAssignment("assigned")
		m.IncCapacityRejection()
		m.SetQueueDepth(3)
		m.ObserveSweep(time.Second, 2)
		m.IncNotificationFailure()
		m.ObserveHTTP("GET", "/health", "200", time.Millisecond)
	})
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	m := NewMetrics()
	m.SetQueueDepth(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "engage_queue_waiting 4")
}
