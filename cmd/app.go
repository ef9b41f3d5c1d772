package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/classifier"
	"github.com/sells-group/skuboard/internal/config"
	"github.com/sells-group/skuboard/internal/fx"
	"github.com/sells-group/skuboard/internal/hydrate"
	"github.com/sells-group/skuboard/internal/ingest"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/ranking"
	"github.com/sells-group/skuboard/internal/reconcile"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/internal/resolve"
	"github.com/sells-group/skuboard/internal/store"
	anthropicpkg "github.com/sells-group/skuboard/pkg/anthropic"
	"github.com/sells-group/skuboard/pkg/oxr"
	"github.com/sells-group/skuboard/pkg/serpapi"
)

// appEnv holds the store, cache and services shared by the commands.
type appEnv struct {
	Store      store.Store
	Cache      cache.Cache
	Resolvers  *resolve.Provider
	Ranking    *ranking.Engine
	FX         *fx.Service
	Search     serpapi.Client
	Ingest     *ingest.Orchestrator
	Reconcile  *reconcile.Engine
	Hydrate    *hydrate.Service
	closeCache func() error
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.closeCache != nil {
		_ = e.closeCache()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates the config for mode, opens and migrates the store and
// wires the services. Callers should defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st}
	if err := env.initCache(ctx); err != nil {
		env.Close()
		return nil, err
	}

	// Classifier is optional; a nil client leaves every listing to the
	// deterministic matcher.
	var llm anthropicpkg.Client
	if cfg.Classifier.Enabled && cfg.Anthropic.Key != "" {
		llm = anthropicpkg.NewClient(cfg.Anthropic.Key,
			anthropicpkg.WithTimeout(secs(cfg.Anthropic.TimeoutSecs)))
	} else {
		zap.L().Info("classifier disabled")
	}
	gw := classifier.New(llm, env.Cache, newGuard("anthropic", cfg.Anthropic.TimeoutSecs, 3), classifierConfig(cfg))
	env.Resolvers = resolve.NewProvider(st, gw, cfg.Ingest.MinConfidence)

	var rates oxr.Client
	if cfg.FX.AppID != "" {
		rates = oxr.NewClient(cfg.FX.AppID, oxr.WithBaseURL(cfg.FX.BaseURL))
	} else {
		zap.L().Warn("fx.app_id not set, using static rates only")
	}
	env.FX = fx.New(rates, env.Cache, newGuard("oxr", 10, 3), fxConfig(cfg))
	env.Ranking = ranking.New(st, env.FX, rankingConfig(cfg))

	env.Search = serpapi.NewClient(cfg.SerpAPI.Key,
		serpapi.WithBaseURL(cfg.SerpAPI.BaseURL),
		serpapi.WithRateLimit(cfg.SerpAPI.RequestsPerSecond),
	)
	searchGuard := newGuard("serpapi", cfg.SerpAPI.TimeoutSecs, cfg.SerpAPI.Retries)

	env.Ingest = ingest.New(st, env.Resolvers, env.Ranking, env.Search, env.Cache, searchGuard, ingest.Config{
		Concurrency:        cfg.Ingest.Concurrency,
		SearchCacheTTL:     secs(cfg.Ingest.SearchCacheTTLSecs),
		ClassifierMaxCalls: cfg.Classifier.MaxCalls,
		ClassifierFraction: cfg.Classifier.MaxFraction,
	})
	env.Reconcile = reconcile.New(st, env.Resolvers, env.Ranking, reconcile.Config{
		ClassifierMaxCalls: cfg.Classifier.MaxCalls,
		ClassifierFraction: cfg.Classifier.MaxFraction,
	})
	env.Hydrate = hydrate.New(st, env.Search, env.Cache, searchGuard, hydrate.Config{})

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCache connects to Redis when configured and falls back to an
// in-process cache, which only de-duplicates work within this process.
func (e *appEnv) initCache(ctx context.Context) error {
	if cfg.Redis.URL == "" {
		zap.L().Info("redis not configured, using in-process cache")
		e.Cache = cache.NewMemory()
		return nil
	}
	rc, err := cache.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix)
	if err != nil {
		return err
	}
	e.Cache = rc
	e.closeCache = rc.Close
	return nil
}

func newGuard(name string, timeoutSecs, attempts int) *resilience.Guard {
	retry := resilience.DefaultRetryConfig()
	if attempts > 0 {
		retry.MaxAttempts = attempts
	}
	return resilience.NewGuard(name, resilience.GuardConfig{
		Timeout:          secs(timeoutSecs),
		Retry:            retry,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	})
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func classifierConfig(c *config.Config) classifier.Config {
	return classifier.Config{
		Enabled:       c.Classifier.Enabled,
		Model:         c.Anthropic.Model,
		MaxTokens:     c.Anthropic.MaxTokens,
		MaxCalls:      c.Classifier.MaxCalls,
		MaxFraction:   c.Classifier.MaxFraction,
		MaxCandidates: c.Classifier.MaxCandidates,
		CacheTTL:      time.Duration(c.Classifier.CacheTTLHours) * time.Hour,
		LockTTL:       secs(c.Classifier.LockTTLSecs),
	}
}

func fxConfig(c *config.Config) fx.Config {
	return fx.Config{
		CacheTTL: secs(c.FX.CacheTTLSecs),
		Static:   upperKeys(c.FX.Static),
	}
}

// rankingConfig maps the flat config onto the engine's. Viper lowercases
// map keys, so country and tier keys are normalized here.
func rankingConfig(c *config.Config) ranking.Config {
	var tiers map[model.MerchantTier]int
	if len(c.Trust.TierBase) > 0 {
		tiers = make(map[model.MerchantTier]int, len(c.Trust.TierBase))
		for k, v := range c.Trust.TierBase {
			tiers[model.MerchantTier(strings.ToLower(k))] = v
		}
	}
	return ranking.Config{
		Trust: ranking.TrustConfig{
			TierBase:                tiers,
			ReviewPrior:             c.Trust.ReviewPrior,
			AnomalyThreshold:        c.Trust.AnomalyThreshold,
			AnomalySaturation:       c.Trust.AnomalySaturation,
			AnomalyMaxPenalty:       c.Trust.AnomalyMaxPenalty,
			AnomalyMinPeers:         c.Trust.AnomalyMinPeers,
			NewListingPenalty:       c.Trust.NewListingPenalty,
			MinCorroboratingSignals: c.Trust.MinCorroboratingSignals,
			BlacklistFloor:          c.Trust.BlacklistFloor,
		},
		Pricing: ranking.PricingConfig{
			TaxRefundRates:  upperKeys(c.Pricing.TaxRefundRates),
			KnownCreditsUSD: upperKeys(c.Pricing.KnownCreditsUSD),
			KnownFeesUSD:    upperKeys(c.Pricing.KnownFeesUSD),
		},
		Limit:     c.Ranking.Limit,
		Freshness: time.Duration(c.Ranking.FreshnessHours) * time.Hour,
	}
}

func upperKeys(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}
