package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	RelayRequests        *prometheus.CounterVec
	UpstreamErrors       *prometheus.CounterVec
	ThrottledRequests    prometheus.Counter
	TurnOutcomes         *prometheus.CounterVec
	TurnLatency          prometheus.Histogram
	SpeechFallbacks      *prometheus.CounterVec
	ActiveAvatarSessions prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RelayRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_requests_total",
			Help:      "Vendor relay requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		UpstreamErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream vendor errors by provider and code.",
		}, []string{"provider", "code"}),
		ThrottledRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_requests_total",
			Help:      "Requests rejected by the per-client rate ceiling.",
		}),
		TurnOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "Conversation turns by outcome (ok, fallback, busy, error).",
		}, []string{"outcome"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "End-to-end turn latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000},
		}),
		SpeechFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_fallbacks_total",
			Help:      "Speech producer fallbacks by producer that took over.",
		}, []string{"producer"}),
		ActiveAvatarSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_avatar_sessions",
			Help:      "Number of open remote avatar streaming sessions.",
		}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
