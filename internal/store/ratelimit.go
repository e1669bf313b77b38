package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// RateLimitRepo persists the sliding-window delivery counters spec section
// 4.4 uses for per-user backpressure, one row per (user, window).
type RateLimitRepo struct {
	db *DB
}

// NewRateLimitRepo builds a repo bound to db.
func NewRateLimitRepo(db *DB) *RateLimitRepo {
	return &RateLimitRepo{db: db}
}

// Get returns the current budget for (userID, window), or a zero-value
// budget starting at now if none exists yet.
func (r *RateLimitRepo) Get(ctx context.Context, userID string, window market.Window, now time.Time) (market.RateBudget, error) {
	row := r.db.Pool().QueryRow(ctx, `
SELECT count, window_start FROM rate_budgets WHERE user_id = $1 AND window = $2
`, userID, string(window))

	var count int
	var windowStart time.Time
	if err := row.Scan(&count, &windowStart); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.RateBudget{UserID: userID, Window: window, WindowStart: now}, nil
		}
		return market.RateBudget{}, fmt.Errorf("%w: get rate budget: %v", market.ErrDownstream, err)
	}
	return market.RateBudget{UserID: userID, Window: window, Count: count, WindowStart: windowStart}, nil
}

// Upsert writes rb, overwriting any existing row for (UserID, Window).
func (r *RateLimitRepo) Upsert(ctx context.Context, rb market.RateBudget) error {
	_, err := r.db.Pool().Exec(ctx, `
INSERT INTO rate_budgets (user_id, window, count, window_start)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, window) DO UPDATE SET count = $3, window_start = $4
`, rb.UserID, string(rb.Window), rb.Count, rb.WindowStart)
	if err != nil {
		return fmt.Errorf("%w: upsert rate budget: %v", market.ErrDownstream, err)
	}
	return nil
}

// Increment replenishes the window if elapsed and increments the counter by
// one under a row lock, returning the resulting budget. Used by
// internal/schedule to check-and-consume in a single round trip under
// concurrent ticks.
func (r *RateLimitRepo) Increment(ctx context.Context, userID string, window market.Window, now time.Time) (market.RateBudget, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return market.RateBudget{}, fmt.Errorf("%w: begin rate budget tx: %v", market.ErrDownstream, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
SELECT count, window_start FROM rate_budgets WHERE user_id = $1 AND window = $2 FOR UPDATE
`, userID, string(window))

	rb := market.RateBudget{UserID: userID, Window: window, WindowStart: now}
	var count int
	var windowStart time.Time
	if err := row.Scan(&count, &windowStart); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return market.RateBudget{}, fmt.Errorf("%w: lock rate budget: %v", market.ErrDownstream, err)
		}
	} else {
		rb = market.RateBudget{UserID: userID, Window: window, Count: count, WindowStart: windowStart}.Replenished(now)
	}

	rb.Count++

	_, err = tx.Exec(ctx, `
INSERT INTO rate_budgets (user_id, window, count, window_start)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, window) DO UPDATE SET count = $3, window_start = $4
`, rb.UserID, string(rb.Window), rb.Count, rb.WindowStart)
	if err != nil {
		return market.RateBudget{}, fmt.Errorf("%w: write incremented rate budget: %v", market.ErrDownstream, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return market.RateBudget{}, fmt.Errorf("%w: commit rate budget tx: %v", market.ErrDownstream, err)
	}

	return rb, nil
}
