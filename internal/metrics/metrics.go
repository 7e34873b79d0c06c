package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	UpstreamRequests       *prometheus.CounterVec
	UpstreamDuration       *prometheus.HistogramVec
	ApprovalsGranted       prometheus.Counter
	AuthorizationsComplete prometheus.Counter
	TokenExchangeFailures  prometheus.Counter
	ToolCalls              *prometheus.CounterVec
}

// New creates and registers all metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_mcp_upstream_requests_total",
			Help: "Upstream API requests by method and status code",
		}, []string{"method", "code"}),
		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentry_mcp_upstream_request_duration_seconds",
			Help:    "Upstream API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		ApprovalsGranted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentry_mcp_approvals_granted_total",
			Help: "Consent form submissions that minted an approval cookie",
		}),
		AuthorizationsComplete: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentry_mcp_authorizations_completed_total",
			Help: "Callbacks that issued a downstream session",
		}),
		TokenExchangeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentry_mcp_token_exchange_failures_total",
			Help: "Upstream authorization code exchanges that failed",
		}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sentry_mcp_tool_calls_total",
			Help: "Tool invocations by tool name and outcome",
		}, []string{"tool", "outcome"}),
	}
}

// ObserveUpstream records one upstream call. code is 0 for transport failures.
// Safe on a nil receiver.
func (m *Metrics) ObserveUpstream(method string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.UpstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// IncApprovals increments the approvals counter. Safe on a nil receiver.
func (m *Metrics) IncApprovals() {
	if m != nil {
		m.ApprovalsGranted.Inc()
	}
}

// IncAuthorizations increments the completed authorizations counter. Safe on a nil receiver.
func (m *Metrics) IncAuthorizations() {
	if m != nil {
		m.AuthorizationsComplete.Inc()
	}
}

// IncExchangeFailures increments the failed exchange counter. Safe on a nil receiver.
func (m *Metrics) IncExchangeFailures() {
	if m != nil {
		m.TokenExchangeFailures.Inc()
	}
}

// IncToolCall counts one tool invocation. Safe on a nil receiver.
func (m *Metrics) IncToolCall(tool, outcome string) {
	if m != nil {
		m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	}
}
