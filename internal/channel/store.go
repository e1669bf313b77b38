// Package channel implements the ChannelAdapter capability (spec.md section
// 6) for the two external delivery surfaces: Telegram bot messages and FCM
// push notifications. Both are thin, Deliver()-only adapters: all bot
// command handling, device registration, and user-facing settings stay out
// of scope here (spec.md's Non-goals) — only the send path is implemented.
package channel

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory resolves a market.UserPreferences.UserID to the addresses each
// channel needs to deliver to. Backed by Postgres, mirroring the teacher's
// internal/telegram (telegram_users table) and internal/notifications
// (devices table), consolidated into one small adapter-owned store rather
// than two copies of the same pgxpool-backed lookup shape.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory wraps an existing pool; Migrate must run once at startup.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// Migrate creates the tables backing both lookups if they don't exist.
func (d *Directory) Migrate(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS telegram_chat_links (
			user_id TEXT PRIMARY KEY,
			chat_id BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS push_devices (
			device_token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS idx_push_devices_user ON push_devices(user_id) WHERE enabled;
	`)
	return err
}

// ChatIDFor returns the Telegram chat id linked to userID.
func (d *Directory) ChatIDFor(ctx context.Context, userID string) (int64, error) {
	var chatID int64
	err := d.pool.QueryRow(ctx, `SELECT chat_id FROM telegram_chat_links WHERE user_id = $1`, userID).Scan(&chatID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("no telegram chat linked for user %s", userID)
		}
		return 0, fmt.Errorf("look up telegram chat for %s: %w", userID, err)
	}
	return chatID, nil
}

// DeviceTokensFor returns every enabled push device token registered to
// userID.
func (d *Directory) DeviceTokensFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT device_token FROM push_devices WHERE user_id = $1 AND enabled`, userID)
	if err != nil {
		return nil, fmt.Errorf("look up devices for %s: %w", userID, err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}
