package market

import "time"

// DeliveryState is the per-(user, opportunity) state machine from spec
// section 4.5: Pending -> Enqueued -> Delivered | Expired | Superseded.
// Terminal states (Delivered, Expired, Superseded) are immutable once set.
type DeliveryState string

const (
	StatePending    DeliveryState = "pending"
	StateEnqueued   DeliveryState = "enqueued"
	StateDelivered  DeliveryState = "delivered"
	StateExpired    DeliveryState = "expired"
	StateSuperseded DeliveryState = "superseded"
)

// IsTerminal reports whether the state can never transition again.
func (s DeliveryState) IsTerminal() bool {
	switch s {
	case StateDelivered, StateExpired, StateSuperseded:
		return true
	default:
		return false
	}
}

// DistributionRecord tracks one delivery attempt of one opportunity to one
// user, enforcing at-most-once delivery. Retained for 2x the opportunity
// TTL (spec section 3).
type DistributionRecord struct {
	UserID        string
	OpportunityID string
	Channel       string
	State         DeliveryState
	EnqueuedAt    time.Time
	DeliveredAt   *time.Time
	ExpiresAt     time.Time // the opportunity's own expires_at, carried so a sweep can expire stale Pending records without re-reading the cache
}

// RetentionUntil returns when this record may be purged, given the
// opportunity's own TTL.
func (r DistributionRecord) RetentionUntil(opportunityTTL time.Duration) time.Time {
	return r.EnqueuedAt.Add(2 * opportunityTTL)
}

// Window is a sliding-window granularity for rate limiting.
type Window string

const (
	WindowMinute Window = "1m"
	WindowHour   Window = "1h"
	WindowDay    Window = "1d"
)

// Duration returns the wall-clock span of a Window.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// TierLimits holds the per-window delivery caps for one subscription tier.
type TierLimits struct {
	PerMinute int
	PerHour   int
	PerDay    int
}

// LimitFor returns the cap for a given window, or -1 if unbounded.
func (t TierLimits) LimitFor(w Window) int {
	switch w {
	case WindowMinute:
		return t.PerMinute
	case WindowHour:
		return t.PerHour
	case WindowDay:
		return t.PerDay
	default:
		return 0
	}
}

// RateBudget is the sliding-window counter state for one (user, window)
// pair, replenished by wall clock.
type RateBudget struct {
	UserID      string
	Window      Window
	Count       int
	WindowStart time.Time
}

// Replenished returns a fresh RateBudget if the window has elapsed since
// WindowStart, otherwise rb unchanged.
func (rb RateBudget) Replenished(now time.Time) RateBudget {
	if now.Sub(rb.WindowStart) >= rb.Window.Duration() {
		return RateBudget{UserID: rb.UserID, Window: rb.Window, Count: 0, WindowStart: now}
	}
	return rb
}
