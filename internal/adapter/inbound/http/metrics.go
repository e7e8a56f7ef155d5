package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
)

const metricsNamespace = "dashgate"

// Metrics holds all Prometheus metrics for dashgate.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	GuardOutcomes   *prometheus.CounterVec
	SSOCaptures     prometheus.Counter
	APIRequests     *prometheus.CounterVec
	APISessionDrops prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"area", "status"}, // area=auth/api/dashboard, status=2xx/3xx/4xx/5xx
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"area"},
		),
		GuardOutcomes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "guard_outcomes_total",
				Help:      "Route guard decisions for protected requests",
			},
			[]string{"outcome"}, // outcome=redirect/wait/unauthorized/granted/initializing
		),
		SSOCaptures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sso_captures_total",
				Help:      "Requests that carried an SSO hand-off",
			},
		),
		APIRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "api_requests_total",
				Help:      "Requests forwarded to the backend API",
			},
			[]string{"status"}, // status=2xx/3xx/4xx/5xx/unreachable/unauthenticated
		),
		APISessionDrops: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "api_session_drops_total",
				Help:      "Sessions cleared because the backend rejected the access token",
			},
		),
	}
}

// RegisterSessionGauges exposes the live session condition. Values are read
// from state on every scrape.
func RegisterSessionGauges(reg prometheus.Registerer, state *session.State) {
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "session_authenticated",
			Help:      "1 when a session is authenticated, 0 otherwise",
		},
		func() float64 {
			if state.Snapshot().IsAuthenticated {
				return 1
			}
			return 0
		},
	)
	promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "session_expires_in_seconds",
			Help:      "Seconds until the access token expires, 0 when unknown or expired",
		},
		func() float64 {
			d, ok := state.Snapshot().ExpiresIn(time.Now())
			if !ok || d < 0 {
				return 0
			}
			return d.Seconds()
		},
	)
}
