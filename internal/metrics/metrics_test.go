package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncRecord(OutcomeRejected, "reject-solved")
	m.IncRecord(OutcomeRejected, "reject-solved")
	m.IncRecord(OutcomeSolved, "")
	m.IncTokenRefresh("success")
	m.ObserveUpstream("parental-benefit", "2xx", 30*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Records.WithLabelValues(OutcomeRejected, "reject-solved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Records.WithLabelValues(OutcomeSolved, "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshes.WithLabelValues("success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.UpstreamLatency))

	done := m.TrackInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncRecord(OutcomeFailed, "upstream")
		m.IncTokenRefresh("failure")
		m.ObserveUpstream("pregnancy-benefit", "5xx", time.Second)
		m.TrackInFlight()()
	})
}
