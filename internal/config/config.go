package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Engine     EngineConfig              `mapstructure:"engine"`
	AI         AIConfig                  `mapstructure:"ai"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	NATS       NATSConfig                `mapstructure:"nats"`
	Exchanges  map[string]ExchangeConfig `mapstructure:"exchanges"`
	RateLimits RateLimitsConfig          `mapstructure:"rate_limits"`
	API        APIConfig                 `mapstructure:"api"`
	Monitoring MonitoringConfig          `mapstructure:"monitoring"`
	Channels   ChannelsConfig            `mapstructure:"channels"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// EngineConfig carries the tick pipeline's tunables: detection thresholds,
// cache shape, and the tier-4 exchange query order.
type EngineConfig struct {
	TrackedPairs             []string `mapstructure:"tracked_pairs"`
	TickIntervalSeconds      int      `mapstructure:"tick_interval_seconds"`
	CacheTTLSeconds          int      `mapstructure:"cache_ttl_seconds"`
	DBTTLSeconds             int      `mapstructure:"db_ttl_seconds"`
	MinSpreadBps             float64  `mapstructure:"min_spread_bps"`
	MinFundingRate           float64  `mapstructure:"min_funding_rate"`
	MinVolume                float64  `mapstructure:"min_volume"`
	MaxCrossLagMS            int      `mapstructure:"max_cross_lag_ms"`
	CapPerPair               int      `mapstructure:"cap_per_pair"`
	FingerprintBucketSeconds int      `mapstructure:"fingerprint_bucket_seconds"`
	RedeliveryHorizonSeconds int      `mapstructure:"redelivery_horizon_seconds"`
	ExchangePriorityOrder    []string `mapstructure:"exchange_priority_order"`
	MaxInflightAI            int      `mapstructure:"max_inflight_ai"`
	MaxInflightEmit          int      `mapstructure:"max_inflight_emit"`
	FundingHorizonSeconds    int      `mapstructure:"funding_horizon_seconds"`
	ArbitrageTTLSeconds      int      `mapstructure:"arbitrage_ttl_seconds"`
	RiskTierTTLSecondsLow    int      `mapstructure:"risk_tier_ttl_seconds_low"`
	RiskTierTTLSecondsMedium int      `mapstructure:"risk_tier_ttl_seconds_medium"`
	RiskTierTTLSecondsHigh   int      `mapstructure:"risk_tier_ttl_seconds_high"`
}

func (e EngineConfig) TickInterval() time.Duration {
	return time.Duration(e.TickIntervalSeconds) * time.Second
}

func (e EngineConfig) CacheTTL() time.Duration {
	return time.Duration(e.CacheTTLSeconds) * time.Second
}

func (e EngineConfig) DBTTL() time.Duration {
	return time.Duration(e.DBTTLSeconds) * time.Second
}

func (e EngineConfig) RedeliveryHorizon() time.Duration {
	return time.Duration(e.RedeliveryHorizonSeconds) * time.Second
}

func (e EngineConfig) ArbitrageTTL() time.Duration {
	return time.Duration(e.ArbitrageTTLSeconds) * time.Second
}

// TTLForRiskTier returns the composite-opportunity TTL override for a risk
// tier (low/medium/high), falling back to the arbitrage TTL for unknown
// values.
func (e EngineConfig) TTLForRiskTier(tier market.RiskTier) time.Duration {
	switch tier {
	case market.RiskLow:
		return time.Duration(e.RiskTierTTLSecondsLow) * time.Second
	case market.RiskMedium:
		return time.Duration(e.RiskTierTTLSecondsMedium) * time.Second
	case market.RiskHigh:
		return time.Duration(e.RiskTierTTLSecondsHigh) * time.Second
	default:
		return e.ArbitrageTTL()
	}
}

// AIConfig contains AIEnhancer / AIModelRouter settings.
type AIConfig struct {
	DeadlineMS         int     `mapstructure:"deadline_ms"`
	DailyTokenBudget   int     `mapstructure:"daily_token_budget"`
	PerUserTokenBudget int     `mapstructure:"per_user_token_budget"`
	MinConfidence      float64 `mapstructure:"min_confidence"`

	// GatewayEndpoint/GatewayAPIKey/Model configure the AIModelRouter's LLM
	// gateway client (internal/airouter). GatewayEndpoint empty disables the
	// router entirely; cmd/engine falls back to nil (local ranking only).
	GatewayEndpoint string `mapstructure:"gateway_endpoint"`
	GatewayAPIKey   string `mapstructure:"gateway_api_key"`
	Model           string `mapstructure:"model"`
}

func (a AIConfig) Deadline() time.Duration {
	return time.Duration(a.DeadlineMS) * time.Millisecond
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL    string `mapstructure:"url"`
	Prefix string `mapstructure:"prefix"`
}

// ExchangeConfig contains per-exchange settings for the tier-4 REST
// fallback (spec section 4.1).
type ExchangeConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	SecretKey          string  `mapstructure:"secret_key"`
	Testnet            bool    `mapstructure:"testnet"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
}

// tierLimits mirrors market.TierLimits with mapstructure tags so viper can
// bind it directly; config is the only package allowed to know about
// mapstructure, so the conversion to market.TierLimits happens in For.
type tierLimits struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
	PerDay    int `mapstructure:"per_day"`
}

func (t tierLimits) toMarket() market.TierLimits {
	return market.TierLimits{PerMinute: t.PerMinute, PerHour: t.PerHour, PerDay: t.PerDay}
}

// RateLimitsConfig maps tier -> TierLimits (spec section 6
// "rate_limits_by_tier").
type RateLimitsConfig struct {
	Free       tierLimits `mapstructure:"free"`
	Basic      tierLimits `mapstructure:"basic"`
	Premium    tierLimits `mapstructure:"premium"`
	Enterprise tierLimits `mapstructure:"enterprise"`
}

// For returns the TierLimits for a subscription tier. Admin is unbounded
// (DESIGN.md Open Question #2).
func (r RateLimitsConfig) For(tier market.Tier) market.TierLimits {
	switch tier {
	case market.TierFree:
		return r.Free.toMarket()
	case market.TierBasic:
		return r.Basic.toMarket()
	case market.TierPremium:
		return r.Premium.toMarket()
	case market.TierEnterprise:
		return r.Enterprise.toMarket()
	case market.TierAdmin:
		return market.TierLimits{PerMinute: -1, PerHour: -1, PerDay: -1}
	default:
		return r.Free.toMarket()
	}
}

// Weight returns the weighted round-robin slot weight for a tier (spec
// section 4.5: free=1, basic=2, premium=5, enterprise=10).
func Weight(tier market.Tier) int {
	switch tier {
	case market.TierFree:
		return 1
	case market.TierBasic:
		return 2
	case market.TierPremium:
		return 5
	case market.TierEnterprise, market.TierAdmin:
		return 10
	default:
		return 1
	}
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// ChannelsConfig holds credentials for the delivery channels (spec section
// 4.5). Left unvalidated at Load time since a deployment may only use one
// of the two; cmd/engine skips building whichever channel has no
// credentials rather than failing startup.
type ChannelsConfig struct {
	TelegramBotToken   string `mapstructure:"telegram_bot_token"`
	FCMCredentialsPath string `mapstructure:"fcm_credentials_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ARBEDGE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbedge-opportunity-engine")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("engine.tick_interval_seconds", 120)
	v.SetDefault("engine.cache_ttl_seconds", 30)
	v.SetDefault("engine.db_ttl_seconds", 300)
	v.SetDefault("engine.min_spread_bps", 10.0)
	v.SetDefault("engine.min_funding_rate", 0.0005)
	v.SetDefault("engine.min_volume", 10000.0)
	v.SetDefault("engine.max_cross_lag_ms", 5000)
	v.SetDefault("engine.cap_per_pair", 5)
	v.SetDefault("engine.fingerprint_bucket_seconds", 60)
	v.SetDefault("engine.redelivery_horizon_seconds", 30)
	v.SetDefault("engine.exchange_priority_order", []string{"coinbase", "okx", "binance", "bybit", "bitget"})
	v.SetDefault("engine.max_inflight_ai", 100)
	v.SetDefault("engine.max_inflight_emit", 200)
	v.SetDefault("engine.funding_horizon_seconds", 8*3600)
	v.SetDefault("engine.arbitrage_ttl_seconds", 120)
	v.SetDefault("engine.risk_tier_ttl_seconds_low", 4*3600)
	v.SetDefault("engine.risk_tier_ttl_seconds_medium", 2*3600)
	v.SetDefault("engine.risk_tier_ttl_seconds_high", 1800)

	v.SetDefault("ai.deadline_ms", 1500)
	v.SetDefault("ai.daily_token_budget", 2_000_000)
	v.SetDefault("ai.per_user_token_budget", 20_000)
	v.SetDefault("ai.min_confidence", 0.10)
	v.SetDefault("ai.gateway_endpoint", "")
	v.SetDefault("ai.gateway_api_key", "")
	v.SetDefault("ai.model", "claude-sonnet-4-20250514")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "arbedge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.prefix", "marketdata.")

	v.SetDefault("exchanges.coinbase.rate_limit_per_second", 10.0)
	v.SetDefault("exchanges.okx.rate_limit_per_second", 20.0)
	v.SetDefault("exchanges.binance.rate_limit_per_second", 20.0)
	v.SetDefault("exchanges.bybit.rate_limit_per_second", 10.0)
	v.SetDefault("exchanges.bitget.rate_limit_per_second", 10.0)

	v.SetDefault("rate_limits.free.per_minute", 1)
	v.SetDefault("rate_limits.free.per_hour", 10)
	v.SetDefault("rate_limits.free.per_day", 30)
	v.SetDefault("rate_limits.basic.per_minute", 2)
	v.SetDefault("rate_limits.basic.per_hour", 30)
	v.SetDefault("rate_limits.basic.per_day", 150)
	v.SetDefault("rate_limits.premium.per_minute", 5)
	v.SetDefault("rate_limits.premium.per_hour", 100)
	v.SetDefault("rate_limits.premium.per_day", 800)
	v.SetDefault("rate_limits.enterprise.per_minute", 10)
	v.SetDefault("rate_limits.enterprise.per_hour", 300)
	v.SetDefault("rate_limits.enterprise.per_day", 5000)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8090)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
