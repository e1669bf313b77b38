package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		App: AppConfig{Name: "arbedge-opportunity-engine", Environment: "development", LogLevel: "info"},
		Engine: EngineConfig{
			TickIntervalSeconds:      120,
			CapPerPair:               5,
			FingerprintBucketSeconds: 60,
			MinSpreadBps:             10,
			ExchangePriorityOrder:    []string{"coinbase", "okx", "binance", "bybit", "bitget"},
		},
		AI:       AIConfig{DeadlineMS: 1500, MinConfidence: 0.10},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Database: "arbedge", PoolSize: 10},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		NATS:     NATSConfig{URL: "nats://localhost:4222"},
		Exchanges: map[string]ExchangeConfig{
			"binance": {RateLimitPerSecond: 20},
		},
		API: APIConfig{Port: 8090},
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateEngine(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero tick interval", func(c *Config) { c.Engine.TickIntervalSeconds = 0 }, "tick_interval_seconds"},
		{"zero cap per pair", func(c *Config) { c.Engine.CapPerPair = 0 }, "cap_per_pair"},
		{"zero bucket seconds", func(c *Config) { c.Engine.FingerprintBucketSeconds = 0 }, "fingerprint_bucket_seconds"},
		{"negative spread", func(c *Config) { c.Engine.MinSpreadBps = -1 }, "min_spread_bps"},
		{"no exchanges in priority order", func(c *Config) { c.Engine.ExchangePriorityOrder = nil }, "exchange_priority_order"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAI(t *testing.T) {
	c := validConfig()
	c.AI.MinConfidence = 1.5
	err := c.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ai.min_confidence")
}

func TestValidateDatabase(t *testing.T) {
	c := validConfig()
	c.Database.Host = ""
	err := c.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestValidateNATSRequiresScheme(t *testing.T) {
	c := validConfig()
	c.NATS.URL = "http://localhost:4222"
	err := c.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nats.url")
}

func TestValidateProductionRequiresSSLAndNoTestnet(t *testing.T) {
	c := validConfig()
	c.App.Environment = "production"
	c.Database.Password = "Str0ng!Passw0rd#2026"
	c.Exchanges["binance"] = ExchangeConfig{RateLimitPerSecond: 20, Testnet: true}

	err := c.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "database.ssl_mode")
	assert.Contains(t, err.Error(), "exchanges.binance.testnet")
}
