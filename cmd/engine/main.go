// Command engine runs the OpportunityEngine tick loop and its REST API,
// wiring every tier/package built under internal/ into one process.
// Grounded on the teacher's cmd/api/main.go (config load, signal handling,
// graceful shutdown) and internal/orchestrator/orchestrator.go (the
// ticker-driven run loop).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/arbedge/opportunity-engine/internal/airouter"
	"github.com/arbedge/opportunity-engine/internal/api"
	"github.com/arbedge/opportunity-engine/internal/cache"
	"github.com/arbedge/opportunity-engine/internal/channel"
	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/datasource"
	"github.com/arbedge/opportunity-engine/internal/datasource/exchanges"
	"github.com/arbedge/opportunity-engine/internal/detect"
	"github.com/arbedge/opportunity-engine/internal/directory"
	"github.com/arbedge/opportunity-engine/internal/enhancer"
	"github.com/arbedge/opportunity-engine/internal/engine"
	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/obs"
	"github.com/arbedge/opportunity-engine/internal/schedule"
	"github.com/arbedge/opportunity-engine/internal/secrets"
	"github.com/arbedge/opportunity-engine/internal/store"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := obs.NewLogger(cfg.App.Environment, cfg.App.LogLevel)
	metrics := obs.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vaultCfg := config.GetVaultConfigFromEnv()
	if err := config.LoadSecretsFromVault(ctx, cfg, vaultCfg); err != nil {
		logger.Warn().Err(err).Msg("vault secret load failed, continuing on env/file config")
	}
	var vaultClient *config.VaultClient
	if vaultCfg.Enabled {
		vaultClient, err = config.NewVaultClient(vaultCfg)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to build vault client, exchange credential rotation disabled")
		}
	}
	credStore := secrets.NewExchangeCredentialStore(vaultClient)

	db, err := store.New(ctx, cfg.Database.GetDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate store")
	}

	userDir := directory.New(db.Pool())
	if err := userDir.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate user directory")
	}

	distRepo := store.NewDistributionRepo(db)
	rateRepo := store.NewRateLimitRepo(db)

	prefStore := enhancer.NewPreferenceStore(db.Pool())
	if err := prefStore.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate preference store")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	tier2 := datasource.NewRedisTier(redisClient, cfg.Engine.CacheTTL(), market.SystemClock{})

	tier3 := datasource.NewPostgresTier(db.Pool(), market.SystemClock{})

	var tier1 datasource.StreamTier
	natsTier, err := datasource.NewNATSTier(datasource.NATSTierConfig{URL: cfg.NATS.URL, Prefix: cfg.NATS.Prefix}, market.SystemClock{})
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable, tier-1 streaming disabled")
	} else {
		tier1 = natsTier
	}

	tier4 := buildExchangeClients(ctx, cfg, credStore, &logger)

	breakers := datasource.NewBreakerManager(datasource.DefaultExchangeBreakerSettings(), metrics)
	manager := datasource.NewManager(tier1, tier2, tier3, tier4, breakers, datasource.ManagerConfig{
		CacheTTL:              cfg.Engine.CacheTTL(),
		DBTTL:                 cfg.Engine.DBTTL(),
		ExchangePriorityOrder: cfg.Engine.ExchangePriorityOrder,
	}, market.SystemClock{})

	det := detect.New(cfg.Engine)
	oppCache := cache.New(cfg.Engine.CapPerPair, 8, 256, market.SystemClock{})
	sweepDone := make(chan struct{})
	go oppCache.RunSweeper(sweepDone, cfg.Engine.CacheTTL())
	defer close(sweepDone)

	// router stays a nil market.AIModelRouter (not a typed-nil *airouter.Router)
	// when no gateway endpoint is configured, so enhancer's "router != nil"
	// check falls back to local ranking correctly.
	var router market.AIModelRouter
	if ar := airouter.New(airouter.Config{
		Endpoint: cfg.AI.GatewayEndpoint,
		APIKey:   cfg.AI.GatewayAPIKey,
		Model:    cfg.AI.Model,
		Timeout:  cfg.AI.Deadline(),
	}); ar != nil {
		router = ar
	} else {
		logger.Warn().Msg("no AI gateway endpoint configured, AIEnhancer will use local ranking only")
	}
	enh := enhancer.New(cfg.AI, router, prefStore, market.SystemClock{})

	channels := buildChannels(ctx, cfg, db, &logger)
	sched := schedule.New(cfg.RateLimits, rateRepo, distRepo, channels, market.SystemClock{}, cfg.Engine.RedeliveryHorizon()).
		WithEmitCeiling(cfg.Engine.MaxInflightEmit)

	eng := engine.New(cfg.Engine, manager, det, oppCache, enh, sched, userDir, market.SystemClock{}, metrics, logger)

	server := api.New(cfg.API, eng, metrics, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()

	go runTickLoop(ctx, eng, cfg.Engine.TickInterval(), logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down opportunity engine")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api server shutdown error")
	}
}

// runTickLoop drives Engine.Tick on a fixed interval until ctx is
// cancelled, mirroring internal/orchestrator/orchestrator.go's Run loop.
func runTickLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := eng.Tick(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("tick failed")
				continue
			}
			logger.Info().
				Int("detected", result.Detected).
				Int("admitted", result.Admitted).
				Int("distributed", result.Distributed).
				Msg("tick complete")
		}
	}
}

// buildExchangeClients wires every tier-4 venue client this process knows
// how to build. A credential-store failure does not fail startup: Binance is
// then built with empty credentials as an unauthenticated public client
// (spec section 4.1 treats tier-4 unavailability as a per-venue condition,
// not a fatal one).
func buildExchangeClients(ctx context.Context, cfg *config.Config, credStore *secrets.ExchangeCredentialStore, logger *zerolog.Logger) map[string]exchanges.Client {
	clients := map[string]exchanges.Client{
		"coinbase": exchanges.NewCoinbaseClient(market.SystemClock{}),
		"okx":      exchanges.NewOKXClient(market.SystemClock{}),
		"bybit":    exchanges.NewBybitClient(market.SystemClock{}),
		"bitget":   exchanges.NewBitgetClient(market.SystemClock{}),
	}

	creds, err := credStore.Get(ctx, "binance")
	if err != nil {
		logger.Warn().Err(err).Msg("no binance credentials, using unauthenticated public client")
	}
	exCfg := cfg.Exchanges["binance"]
	clients["binance"] = exchanges.NewBinanceClient(creds.APIKey, creds.SecretKey, exCfg.Testnet, market.SystemClock{})

	out := make(map[string]exchanges.Client, len(clients))
	for name, c := range clients {
		perSecond := cfg.Exchanges[name].RateLimitPerSecond
		out[name] = exchanges.NewRateLimitedClient(c, perSecond)
	}
	return out
}

// buildChannels wires the delivery channels this process has credentials
// for. A channel whose credentials aren't configured is skipped rather
// than failing startup, since a deployment may only use one.
func buildChannels(ctx context.Context, cfg *config.Config, db *store.DB, logger *zerolog.Logger) []market.ChannelAdapter {
	channelDir := channel.NewDirectory(db.Pool())
	if err := channelDir.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate channel directory")
	}

	var out []market.ChannelAdapter

	if cfg.Channels.TelegramBotToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Channels.TelegramBotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to start telegram bot, telegram channel disabled")
		} else {
			out = append(out, channel.NewTelegramChannel(botAPI, channelDir))
		}
	}

	if cfg.Channels.FCMCredentialsPath != "" {
		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.Channels.FCMCredentialsPath))
		if err != nil {
			logger.Warn().Err(err).Msg("failed to init firebase app, push channel disabled")
		} else if msgClient, err := app.Messaging(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to init fcm messaging client, push channel disabled")
		} else {
			out = append(out, channel.NewFCMChannel(msgClient, channelDir))
		}
	}

	return out
}
