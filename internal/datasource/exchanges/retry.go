// Package exchanges implements the tier-4 direct-REST fallback: one client
// per exchange, each behind its own rate limiter, queried in the priority
// order internal/config.EngineConfig.ExchangePriorityOrder specifies.
// Grounded on internal/exchange/retry.go, trimmed to the read-only
// ticker/funding-rate calls this engine actually makes — no order
// placement, no WebSocket user streams.
package exchanges

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures exponential backoff for a single REST call.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig mirrors the teacher's exchange retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// IsRetryable reports whether err looks transient (network hiccup, rate
// limit, 5xx) rather than a permanent rejection.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, substr := range []string{
		"connection refused", "connection reset", "timeout",
		"temporary failure", "too many requests", "rate limit",
		"429", "500", "502", "503", "504",
	} {
		if strings.Contains(errStr, substr) {
			return true
		}
	}
	return false
}

// WithRetry runs operation with exponential backoff, honoring ctx
// cancellation between attempts.
func WithRetry(ctx context.Context, cfg RetryConfig, operation func() error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		log.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("exchange REST call failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}
