package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by a bot process.
type Metrics struct {
	RepliesSent     *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	CompactionRuns  *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	ContextTurns    prometheus.Histogram
	ReplyLatency    prometheus.Histogram
	DeepHistoryHits prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RepliesSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Replies sent by delivery mode.",
		}, []string{"mode"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider failures by provider and class.",
		}, []string{"provider", "class"}),
		CompactionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_runs_total",
			Help:      "Compaction scheduler passes by outcome.",
		}, []string{"outcome"}),
		StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Best-effort memory store failures by operation.",
		}, []string{"op"}),
		ContextTurns: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_turns",
			Help:      "Number of prior turns included per assembled context.",
			Buckets:   []float64{0, 5, 10, 20, 30, 40, 50, 60},
		}),
		ReplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "End-to-end reply latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000, 60000},
		}),
		DeepHistoryHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deep_history_requests_total",
			Help:      "Replies that triggered the deep-history retrieval pass.",
		}),
	}
}

func (m *Metrics) ObserveReplyLatency(d time.Duration) {
	m.ReplyLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
