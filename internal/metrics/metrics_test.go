package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.VoteAccepted("direct")
	m.VoteAccepted("direct")
	m.VoteRejected("E_NO_PERMISSION")
	m.CacheLookup(true)
	m.CacheLookup(false)
	m.CacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Votes.WithLabelValues("direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VoteRejections.WithLabelValues("E_NO_PERMISSION")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.VoteAccepted("direct")
		m.Resolved(0.1)
		m.ResolverDegraded("unknown_status")
		m.BatchPath(false)
		m.SummaryRefreshed(true)
	})
}
