package datasource

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arbedge/opportunity-engine/internal/obs"
)

// BreakerSettings mirrors the teacher's ServiceSettings shape, generalized
// so the same struct configures any (tier, exchange) breaker instead of one
// fixed set of named services, and trips on a run of consecutive failures
// rather than a failure-ratio-over-a-minimum-sample-size.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenMaxReqs     uint32
	CountInterval       time.Duration
}

// DefaultExchangeBreakerSettings is the tier-4 exchange breaker contract:
// 5 consecutive failures opens, 60s timeout, a single half-open probe
// closes it again.
func DefaultExchangeBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         60 * time.Second,
		HalfOpenMaxReqs:     1,
		CountInterval:       10 * time.Second,
	}
}

// BreakerManager owns one gobreaker.CircuitBreaker per (tier, exchange)
// pair, created lazily, and reports state transitions into the shared
// Prometheus registry. Grounded on internal/risk/circuit_breaker.go,
// generalized from three fixed named services to an open key space.
type BreakerManager struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
	metrics  *obs.Metrics
}

// NewBreakerManager builds a manager using settings for every breaker it
// creates; metrics may be nil in tests.
func NewBreakerManager(settings BreakerSettings, metrics *obs.Metrics) *BreakerManager {
	return &BreakerManager{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
		metrics:  metrics,
	}
}

func key(tier, exchange string) string { return tier + "|" + exchange }

// For returns the breaker for (tier, exchange), creating it on first use.
func (m *BreakerManager) For(tier, exchange string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(tier, exchange)
	if cb, ok := m.breakers[k]; ok {
		return cb
	}

	s := m.settings
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        k,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			m.updateMetrics(tier, exchange, to)
		},
	})
	m.breakers[k] = cb
	m.updateMetrics(tier, exchange, cb.State())
	return cb
}

// NewPassthroughBreakerManager never trips; used in tests that exercise
// tiers without wanting circuit-breaker interference.
func NewPassthroughBreakerManager() *BreakerManager {
	return NewBreakerManager(BreakerSettings{
		ConsecutiveFailures: 1 << 30,
		OpenTimeout:         time.Millisecond,
		HalfOpenMaxReqs:     1000,
		CountInterval:       0,
	}, nil)
}

func (m *BreakerManager) updateMetrics(tier, exchange string, state gobreaker.State) {
	if m.metrics == nil {
		return
	}
	var v float64
	switch state {
	case gobreaker.StateClosed:
		v = 0
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	m.metrics.CircuitBreakerState.WithLabelValues(tier, exchange).Set(v)
}
