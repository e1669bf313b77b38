// Package secrets provides live (non-restart) exchange credential lookup
// for the tier-4 REST data source, layered on top of internal/config's
// Vault integration. internal/config loads every secret once at process
// start; this package lets the tier-4 clients re-pull a single exchange's
// credentials later, so a rotated key in Vault takes effect without a
// process restart. Read-only market-data credentials only — order
// placement and account management stay out of scope.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/arbedge/opportunity-engine/internal/config"
)

// ExchangeCredentials is what tier-4 REST clients need to sign requests.
type ExchangeCredentials struct {
	APIKey    string
	SecretKey string
}

// ExchangeCredentialStore resolves credentials for one exchange at a time,
// preferring Vault and falling back to environment variables, mirroring
// config.VaultClient's own env fallback posture. Safe for concurrent use.
type ExchangeCredentialStore struct {
	mu    sync.RWMutex
	vault *config.VaultClient
	cache map[string]ExchangeCredentials
}

// NewExchangeCredentialStore builds a store backed by vc. vc may be nil,
// in which case every lookup falls straight through to environment
// variables (the store is still usable in environments without Vault).
func NewExchangeCredentialStore(vc *config.VaultClient) *ExchangeCredentialStore {
	return &ExchangeCredentialStore{
		vault: vc,
		cache: make(map[string]ExchangeCredentials),
	}
}

// Get returns credentials for exchange, consulting Vault first (path
// "exchanges/{exchange}") then falling back to
// ARBEDGE_EXCHANGE_{EXCHANGE}_API_KEY / _SECRET_KEY environment variables.
// Results are cached per exchange; call Refresh to force a re-read.
func (s *ExchangeCredentialStore) Get(ctx context.Context, exchange string) (ExchangeCredentials, error) {
	s.mu.RLock()
	if creds, ok := s.cache[exchange]; ok {
		s.mu.RUnlock()
		return creds, nil
	}
	s.mu.RUnlock()

	return s.Refresh(ctx, exchange)
}

// Refresh re-pulls credentials for exchange, overwriting any cached value.
func (s *ExchangeCredentialStore) Refresh(ctx context.Context, exchange string) (ExchangeCredentials, error) {
	creds := s.fromEnv(exchange)

	if s.vault != nil {
		path := fmt.Sprintf("exchanges/%s", exchange)
		secrets, err := s.vault.GetSecret(ctx, path)
		if err == nil {
			if apiKey, ok := secrets["api_key"].(string); ok && apiKey != "" {
				creds.APIKey = apiKey
			}
			if secretKey, ok := secrets["secret_key"].(string); ok && secretKey != "" {
				creds.SecretKey = secretKey
			}
		}
	}

	if creds.APIKey == "" || creds.SecretKey == "" {
		return ExchangeCredentials{}, fmt.Errorf("no credentials available for exchange %q", exchange)
	}

	s.mu.Lock()
	s.cache[exchange] = creds
	s.mu.Unlock()

	return creds, nil
}

func (s *ExchangeCredentialStore) fromEnv(exchange string) ExchangeCredentials {
	prefix := "ARBEDGE_EXCHANGE_" + strings.ToUpper(exchange) + "_"
	return ExchangeCredentials{
		APIKey:    os.Getenv(prefix + "API_KEY"),
		SecretKey: os.Getenv(prefix + "SECRET_KEY"),
	}
}
