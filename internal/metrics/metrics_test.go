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

	m.ObserveUpstream("GET", 200, 10*time.Millisecond)
	m.ObserveUpstream("GET", 200, 10*time.Millisecond)
	m.IncApprovals()
	m.IncToolCall("whoami", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsGranted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("whoami", "ok")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveUpstream("GET", 500, time.Second)
		m.IncApprovals()
		m.IncAuthorizations()
		m.IncExchangeFailures()
		m.IncToolCall("x", "error")
	})
}
