package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the engine's Prometheus registry, constructed once via
// sync.Once (the same pattern the teacher uses for circuit breaker
// metrics) and threaded through every component that needs to record
// something, rather than reached for as a global.
type Metrics struct {
	TickDuration       prometheus.Histogram
	TickDetected       prometheus.Counter
	TickAdmitted       prometheus.Counter
	TickDeduped        prometheus.Counter
	TickExpired        prometheus.Counter
	TickDistributed    prometheus.Counter
	TickExhausted      prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
	AIFallbacks        prometheus.Counter
	RateLimitSkips     *prometheus.CounterVec

	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// NewMetrics returns the process-wide metric registry, created exactly
// once regardless of how many callers request it.
func NewMetrics() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			TickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "engine_tick_duration_seconds",
				Help:    "Duration of a single engine tick.",
				Buckets: prometheus.DefBuckets,
			}),
			TickDetected: promauto.NewCounter(prometheus.CounterOpts{
				Name: "engine_tick_detected_total",
				Help: "Opportunities detected across all ticks.",
			}),
			TickAdmitted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "engine_tick_admitted_total",
				Help: "Opportunities admitted to the cache across all ticks.",
			}),
			TickDeduped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "engine_tick_deduped_total",
				Help: "Duplicate/superseded admissions across all ticks.",
			}),
			TickExpired: promauto.NewCounter(prometheus.CounterOpts{
				Name: "engine_tick_expired_total",
				Help: "Opportunities that expired before delivery.",
			}),
			TickDistributed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "engine_tick_distributed_total",
				Help: "Opportunities successfully distributed to users.",
			}),
			TickExhausted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "engine_datasource_exhausted_total",
				Help: "Ticks where all data source tiers were exhausted.",
			}),
			CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "engine_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open).",
			}, []string{"tier", "exchange"}),
			AIFallbacks: promauto.NewCounter(prometheus.CounterOpts{
				Name: "engine_ai_fallback_total",
				Help: "Times AIEnhancer fell back to the local ranker.",
			}),
			RateLimitSkips: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "engine_rate_limit_skips_total",
				Help: "Users skipped in a distribution cycle due to rate limits.",
			}, []string{"window"}),
			HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "engine_http_request_duration_seconds",
				Help:    "API request duration by route and status.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method", "path", "status"}),
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "engine_http_requests_total",
				Help: "API requests served by route and status.",
			}, []string{"method", "path", "status"}),
		}
	})
	return instance
}
