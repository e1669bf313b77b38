package enhancer

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// featureDims is the personalization vector's fixed length, grounded on
// internal/memory/semantic.go's pgvector-backed KnowledgeItem.Embedding
// store — a drastically smaller dimensionality since this vector encodes a
// handful of opportunity-shape features rather than a text embedding.
const featureDims = 5

// PreferenceStore persists each user's rolling personalization vector via
// pgx/v5 + pgvector-go, modeled on internal/memory/semantic.go's
// SemanticMemory: an upsert-on-conflict write path and a plain point read.
// Writes only ever happen from RecordInteraction, asynchronously, never on
// AIEnhancer.Rank's request path, per spec.md section 4.4.
type PreferenceStore struct {
	pool *pgxpool.Pool
}

// NewPreferenceStore wraps an existing pool; Migrate must be called once at
// startup before use.
func NewPreferenceStore(pool *pgxpool.Pool) *PreferenceStore {
	return &PreferenceStore{pool: pool}
}

// Migrate creates the pgvector extension and the preference-vector table if
// they don't already exist.
func (s *PreferenceStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_preference_vectors (
			user_id    TEXT PRIMARY KEY,
			embedding  vector(5) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	return err
}

// Get returns the user's current personalization vector, or (nil, false) if
// none has been recorded yet.
func (s *PreferenceStore) Get(ctx context.Context, userID string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `SELECT embedding FROM user_preference_vectors WHERE user_id = $1`, userID).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vec.Slice(), true, nil
}

func (s *PreferenceStore) upsert(ctx context.Context, userID string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_preference_vectors (user_id, embedding, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = EXCLUDED.updated_at
	`, userID, pgvector.NewVector(vec), time.Now())
	return err
}

// RecordInteraction blends o's feature vector into userID's rolling
// personalization vector by an exponential moving average, weighted by
// interaction kind (acted on > viewed > ignored, ignored pushes the vector
// away). Runs asynchronously against a background context, exactly as
// spec.md section 4.4 requires of the personalization write path.
func (s *PreferenceStore) RecordInteraction(userID string, o market.Opportunity, kind market.InteractionKind) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		weight := interactionWeight(kind)
		features := featureVector(o)

		existing, ok, err := s.Get(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to load preference vector for blend")
			return
		}
		if !ok {
			existing = make([]float32, featureDims)
		}

		const alpha = 0.2
		blended := make([]float32, featureDims)
		for i := range blended {
			target := float32(weight) * features[i]
			blended[i] = existing[i] + float32(alpha)*(target-existing[i])
		}

		if err := s.upsert(ctx, userID, blended); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to persist preference vector")
		}
	}()
}

func interactionWeight(kind market.InteractionKind) float64 {
	switch kind {
	case market.InteractionActed:
		return 1.0
	case market.InteractionViewed:
		return 0.3
	case market.InteractionIgnored:
		return -0.5
	default:
		return 0
	}
}

// featureVector encodes an opportunity's shape into the fixed-length
// vector RecordInteraction blends: [is_arbitrage, is_funding_rate,
// confidence, risk_magnitude, volume_score_normalized].
func featureVector(o market.Opportunity) []float32 {
	v := make([]float32, featureDims)
	switch o.Kind {
	case market.KindArbitrage:
		v[0] = 1
	case market.KindFundingRate:
		v[1] = 1
	}
	v[2] = float32(o.Confidence)
	v[3] = float32(riskMagnitude(o))
	v[4] = float32(clamp01(math.Log1p(o.RawVolumeScore) / 20))
	return v
}
