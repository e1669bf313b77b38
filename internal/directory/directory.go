// Package directory provides a minimal, Postgres-backed implementation of
// market.UserDirectory. spec.md treats the user-profile service as an
// out-of-scope collaborator (internal/market/capabilities.go's doc comment
// on UserDirectory), but cmd/engine still needs a real implementation to
// be a runnable process rather than a library with no entrypoint: this is
// that implementation, not a stub. Schema and conventions follow
// internal/store's repositories (inline migration, pgx.ErrNoRows handling).
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// Directory is a Postgres-backed market.UserDirectory.
type Directory struct {
	pool *pgxpool.Pool
}

// New builds a Directory bound to pool.
func New(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Migrate creates the subscription table if it doesn't exist yet.
func (d *Directory) Migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS user_subscriptions (
	user_id            TEXT PRIMARY KEY,
	tier               TEXT NOT NULL,
	focus              TEXT NOT NULL DEFAULT '',
	risk_tolerance     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	min_confidence     DOUBLE PRECISION NOT NULL DEFAULT 0.1,
	pair_whitelist     TEXT[] NOT NULL DEFAULT '{}',
	exchange_whitelist TEXT[] NOT NULL DEFAULT '{}',
	subscribed         BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_user_subscriptions_tier ON user_subscriptions (tier) WHERE subscribed;
`)
	if err != nil {
		return fmt.Errorf("failed to run directory migrations: %w", err)
	}
	return nil
}

// Upsert creates or updates a user's subscription and preferences. This is
// the write side of the registration flow spec.md leaves out of scope; it
// exists so the directory has a way to be populated outside of direct SQL.
func (d *Directory) Upsert(ctx context.Context, prefs market.UserPreferences) error {
	_, err := d.pool.Exec(ctx, `
INSERT INTO user_subscriptions (user_id, tier, focus, risk_tolerance, min_confidence, pair_whitelist, exchange_whitelist, subscribed)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
ON CONFLICT (user_id) DO UPDATE SET
	tier = EXCLUDED.tier,
	focus = EXCLUDED.focus,
	risk_tolerance = EXCLUDED.risk_tolerance,
	min_confidence = EXCLUDED.min_confidence,
	pair_whitelist = EXCLUDED.pair_whitelist,
	exchange_whitelist = EXCLUDED.exchange_whitelist,
	subscribed = TRUE
`, prefs.UserID, string(prefs.Tier), prefs.Focus, prefs.RiskTolerance, prefs.MinConfidence, prefs.PairWhitelist, prefs.ExchangeWhitelist)
	if err != nil {
		return fmt.Errorf("%w: upsert user subscription: %v", market.ErrDownstream, err)
	}
	return nil
}

// Unsubscribe marks a user as no longer subscribed without deleting their
// preferences, so ListSubscribedUsers stops returning them.
func (d *Directory) Unsubscribe(ctx context.Context, userID string) error {
	_, err := d.pool.Exec(ctx, `UPDATE user_subscriptions SET subscribed = FALSE WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%w: unsubscribe user: %v", market.ErrDownstream, err)
	}
	return nil
}

// ListSubscribedUsers implements market.UserDirectory.
func (d *Directory) ListSubscribedUsers(ctx context.Context, filter market.UserFilter) ([]string, error) {
	var rows pgx.Rows
	var err error
	if filter.Tier == "" {
		rows, err = d.pool.Query(ctx, `SELECT user_id FROM user_subscriptions WHERE subscribed`)
	} else {
		rows, err = d.pool.Query(ctx, `SELECT user_id FROM user_subscriptions WHERE subscribed AND tier = $1`, string(filter.Tier))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: list subscribed users: %v", market.ErrDownstream, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("%w: scan subscribed user: %v", market.ErrDownstream, err)
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list subscribed users: %v", market.ErrDownstream, err)
	}
	return out, nil
}

// GetPreferences implements market.UserDirectory.
func (d *Directory) GetPreferences(ctx context.Context, userID string) (market.UserPreferences, error) {
	row := d.pool.QueryRow(ctx, `
SELECT user_id, tier, focus, risk_tolerance, min_confidence, pair_whitelist, exchange_whitelist
FROM user_subscriptions WHERE user_id = $1
`, userID)

	var prefs market.UserPreferences
	var tier, focus string
	if err := row.Scan(&prefs.UserID, &tier, &focus, &prefs.RiskTolerance, &prefs.MinConfidence, &prefs.PairWhitelist, &prefs.ExchangeWhitelist); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return market.UserPreferences{}, fmt.Errorf("%w: no preferences for user %s", market.ErrContractViolation, userID)
		}
		return market.UserPreferences{}, fmt.Errorf("%w: get user preferences: %v", market.ErrDownstream, err)
	}
	prefs.Tier = market.Tier(tier)
	prefs.Focus = market.Focus(focus)
	return prefs, nil
}
