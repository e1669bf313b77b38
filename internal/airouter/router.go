// Package airouter implements market.AIModelRouter over an LLM gateway,
// grounded on internal/llm's Bifrost-gateway HTTP client. AIEnhancer already
// wraps Rank in its own circuit breaker and deadline, so this package stays
// a thin translation layer: build a system prompt asking for JSON scores,
// call the gateway, parse the response back into market.RankingResponse.
package airouter

import (
	"context"
	"fmt"
	"time"

	"github.com/arbedge/opportunity-engine/internal/llm"
	"github.com/arbedge/opportunity-engine/internal/market"
)

const systemPrompt = `You rank cross-exchange crypto arbitrage and funding-rate opportunities for a trader.
Given a list of opportunities with id, kind, pair, and confidence, return ONLY a JSON object of the
form {"scores": {"<id>": <score between 0 and 1>, ...}}. Score every id you were given. Higher score
means more attractive to act on now. Do not include any text outside the JSON object.`

// Router calls an LLM gateway's chat completions endpoint to rank
// opportunities. It implements market.AIModelRouter.
type Router struct {
	client *llm.Client
}

// Config configures the gateway connection.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New builds a Router. Returns nil if cfg.Endpoint is empty, since an
// AIModelRouter with no gateway to call isn't a router at all; callers
// should pass the nil result straight through to enhancer.New, which
// accepts a nil router and falls back to local ranking.
func New(cfg Config) *Router {
	if cfg.Endpoint == "" {
		return nil
	}
	return &Router{
		client: llm.NewClient(llm.ClientConfig{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
		}),
	}
}

type rankingPayload struct {
	Scores map[string]float64 `json:"scores"`
}

// Rank sends prompt to the gateway and parses its JSON response into a
// market.RankingResponse. The deadline bounds the HTTP call; a context
// that's already past deadline fails fast via the derived context.
func (r *Router) Rank(ctx context.Context, prompt string, deadline time.Time) (market.RankingResponse, error) {
	if r == nil || r.client == nil {
		return market.RankingResponse{}, fmt.Errorf("airouter: no gateway configured")
	}

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	content, err := r.client.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil {
		return market.RankingResponse{}, fmt.Errorf("airouter: gateway call failed: %w", err)
	}

	var payload rankingPayload
	if err := r.client.ParseJSONResponse(content, &payload); err != nil {
		return market.RankingResponse{}, fmt.Errorf("airouter: parsing gateway response: %w", err)
	}

	return market.RankingResponse{Scores: payload.Scores}, nil
}

var _ market.AIModelRouter = (*Router)(nil)
