package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// DistributionRepo persists the at-most-once delivery state machine from
// spec section 4.5.
type DistributionRepo struct {
	db *DB
}

// NewDistributionRepo builds a repo bound to db.
func NewDistributionRepo(db *DB) *DistributionRepo {
	return &DistributionRepo{db: db}
}

// ErrAlreadyRecorded is returned by Insert when a (user, opportunity) pair
// already has a record; the caller must treat this as "already
// enqueued/delivered", never retry with a new insert.
var ErrAlreadyRecorded = errors.New("distribution record already exists")

// Insert creates the Pending/Enqueued record for a (user, opportunity)
// pair. A primary-key conflict means some other in-flight tick already
// claimed this pair, enforcing at-most-once at the database layer in
// addition to the in-process singleflight dedup in internal/cache.
func (r *DistributionRepo) Insert(ctx context.Context, rec market.DistributionRecord, retentionUntil time.Time) error {
	_, err := r.db.Pool().Exec(ctx, `
INSERT INTO distribution_records (user_id, opportunity_id, channel, state, enqueued_at, delivered_at, expires_at, retention_until)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, rec.UserID, rec.OpportunityID, rec.Channel, string(rec.State), rec.EnqueuedAt, rec.DeliveredAt, rec.ExpiresAt, retentionUntil)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyRecorded
		}
		return fmt.Errorf("%w: insert distribution record: %v", market.ErrDownstream, err)
	}
	return nil
}

// UpdateState transitions an existing record. Callers must not attempt to
// transition a record already in a terminal state (market.DeliveryState.IsTerminal);
// this method does not re-check that invariant so it stays a pure write.
func (r *DistributionRepo) UpdateState(ctx context.Context, userID, opportunityID string, state market.DeliveryState, deliveredAt *time.Time) error {
	tag, err := r.db.Pool().Exec(ctx, `
UPDATE distribution_records SET state = $1, delivered_at = $2
WHERE user_id = $3 AND opportunity_id = $4
`, string(state), deliveredAt, userID, opportunityID)
	if err != nil {
		return fmt.Errorf("%w: update distribution record: %v", market.ErrDownstream, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no distribution record for user=%s opportunity=%s", market.ErrContractViolation, userID, opportunityID)
	}
	return nil
}

// Get fetches the current record for a (user, opportunity) pair, if any.
func (r *DistributionRepo) Get(ctx context.Context, userID, opportunityID string) (*market.DistributionRecord, error) {
	row := r.db.Pool().QueryRow(ctx, `
SELECT user_id, opportunity_id, channel, state, enqueued_at, delivered_at, expires_at
FROM distribution_records WHERE user_id = $1 AND opportunity_id = $2
`, userID, opportunityID)

	var rec market.DistributionRecord
	var state string
	if err := row.Scan(&rec.UserID, &rec.OpportunityID, &rec.Channel, &state, &rec.EnqueuedAt, &rec.DeliveredAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get distribution record: %v", market.ErrDownstream, err)
	}
	rec.State = market.DeliveryState(state)
	return &rec, nil
}

// ListExpiredPending returns every non-terminal record whose underlying
// opportunity has expired, for the scheduler to transition to Expired on
// its next sweep (spec Scenario F: a rate-limited Pending record whose
// opportunity expires before it can be retried).
func (r *DistributionRepo) ListExpiredPending(ctx context.Context, now time.Time) ([]market.DistributionRecord, error) {
	rows, err := r.db.Pool().Query(ctx, `
SELECT user_id, opportunity_id, channel, state, enqueued_at, delivered_at, expires_at
FROM distribution_records
WHERE state IN ($1, $2) AND expires_at <= $3
`, string(market.StatePending), string(market.StateEnqueued), now)
	if err != nil {
		return nil, fmt.Errorf("%w: list expired pending distribution records: %v", market.ErrDownstream, err)
	}
	defer rows.Close()

	var out []market.DistributionRecord
	for rows.Next() {
		var rec market.DistributionRecord
		var state string
		if err := rows.Scan(&rec.UserID, &rec.OpportunityID, &rec.Channel, &state, &rec.EnqueuedAt, &rec.DeliveredAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("%w: scan expired pending distribution record: %v", market.ErrDownstream, err)
		}
		rec.State = market.DeliveryState(state)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate expired pending distribution records: %v", market.ErrDownstream, err)
	}
	return out, nil
}

// PruneExpired deletes every record past its retention_until, returning the
// number of rows removed. Intended to run on a slow periodic timer, not per
// tick.
func (r *DistributionRepo) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM distribution_records WHERE retention_until < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: prune distribution records: %v", market.ErrDownstream, err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
