// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	sessionsStarted   prometheus.Counter
	sessionsCompleted prometheus.Counter
	picksRejected     *prometheus.CounterVec
	accessDenied      prometheus.Counter
	synthesisRetries  prometheus.Counter
	synthesisFailures prometheus.Counter
	historyDeduped    prometheus.Counter
	tierCacheHits     prometheus.Counter
	tierCacheMisses   prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tarot_http_requests_total",
			Help: "HTTP requests by path and status.",
		}, []string{"path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tarot_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_sessions_started_total",
			Help: "Reading sessions started.",
		}),
		sessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_sessions_completed_total",
			Help: "Reading sessions that reached the final draw.",
		}),
		picksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tarot_picks_rejected_total",
			Help: "Card picks rejected, by reason.",
		}, []string{"reason"}),
		accessDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_access_denied_total",
			Help: "First-pick access gate denials.",
		}),
		synthesisRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_synthesis_retries_total",
			Help: "Rate-limited synthesis attempts that were retried.",
		}),
		synthesisFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_synthesis_failures_total",
			Help: "Sessions whose synthesis degraded to null.",
		}),
		historyDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_history_deduped_total",
			Help: "History writes dropped by the dedup guards.",
		}),
		tierCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_tier_cache_hits_total",
			Help: "Account-tier cache hits.",
		}),
		tierCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "tarot_tier_cache_misses_total",
			Help: "Account-tier cache misses.",
		}),
	}
}

// Registry returns the registry backing the /metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveRequest(path string, status int, d time.Duration) {
	m.requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (m *Metrics) IncSessionsStarted()   { m.sessionsStarted.Inc() }
func (m *Metrics) IncSessionsCompleted() { m.sessionsCompleted.Inc() }
func (m *Metrics) IncAccessDenied()      { m.accessDenied.Inc() }
func (m *Metrics) IncSynthesisRetries()  { m.synthesisRetries.Inc() }
func (m *Metrics) IncSynthesisFailures() { m.synthesisFailures.Inc() }
func (m *Metrics) IncHistoryDeduped()    { m.historyDeduped.Inc() }
func (m *Metrics) IncTierCacheHit()      { m.tierCacheHits.Inc() }
func (m *Metrics) IncTierCacheMiss()     { m.tierCacheMisses.Inc() }

func (m *Metrics) IncPicksRejected(reason string) { m.picksRejected.WithLabelValues(reason).Inc() }
