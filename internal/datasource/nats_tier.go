package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// NATSTier is the tier-1 streaming push source: exchange connectors
// (outside this process, or the tier-4 poller acting as a bridge) publish
// PricePoint updates to subject "{prefix}{exchange}.{pair}", and this tier
// holds only the most recent point per (exchange, pair) in memory. It never
// calls out on FetchPairs; it only ever reads what has already arrived.
// Grounded on internal/orchestrator/messagebus.go's subject namespacing and
// reconnect handling.
type NATSTier struct {
	nc     *nats.Conn
	prefix string
	clock  market.Clock

	mu     sync.RWMutex
	latest map[string]market.PricePoint // key: exchange|pair
}

// NATSTierConfig configures the streaming tier connection.
type NATSTierConfig struct {
	URL    string
	Prefix string // default "marketdata."
}

// NewNATSTier connects to NATS and subscribes to every (exchange, pair)
// subject under prefix.
func NewNATSTier(cfg NATSTierConfig, clock market.Clock) (*NATSTier, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "marketdata."
	}
	if clock == nil {
		clock = market.SystemClock{}
	}

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("arbedge-opportunity-engine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	t := &NATSTier{
		nc:     nc,
		prefix: cfg.Prefix,
		clock:  clock,
		latest: make(map[string]market.PricePoint),
	}

	if _, err := nc.Subscribe(cfg.Prefix+">", t.onMessage); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s>: %w", cfg.Prefix, err)
	}

	log.Info().Str("nats_url", cfg.URL).Str("prefix", cfg.Prefix).Msg("tier-1 streaming source subscribed")

	return t, nil
}

func (t *NATSTier) onMessage(msg *nats.Msg) {
	var p market.PricePoint
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal streamed price point")
		return
	}

	t.mu.Lock()
	t.latest[p.Exchange+"|"+p.Pair] = p
	t.mu.Unlock()
}

// Publish pushes a price point onto the bus; used by the tier-4 REST
// poller to re-broadcast what it fetched, and by tests.
func (t *NATSTier) Publish(p market.PricePoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal price point: %w", err)
	}
	subject := fmt.Sprintf("%s%s.%s", t.prefix, p.Exchange, p.Pair)
	return t.nc.Publish(subject, data)
}

// FetchPairs returns whatever has streamed in so far for the requested
// pairs, across every exchange this tier has seen. It never blocks past
// the in-memory read and ignores deadline, because tier 1 either already
// has the data or doesn't.
func (t *NATSTier) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	wanted := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		wanted[p] = true
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var points []market.PricePoint
	for _, p := range t.latest {
		if wanted[p.Pair] {
			points = append(points, p)
		}
	}

	if len(points) == 0 {
		return market.MarketSnapshot{}, fmt.Errorf("%w: no streamed points for requested pairs", market.ErrTransientSource)
	}

	return market.MarketSnapshot{Points: points, TakenAt: t.clock.Now()}, nil
}

// Close drains and closes the NATS connection.
func (t *NATSTier) Close() {
	if t.nc != nil {
		t.nc.Close()
	}
}
