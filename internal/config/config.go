package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	SerpAPI    SerpAPIConfig    `yaml:"serpapi" mapstructure:"serpapi"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	FX         FXConfig         `yaml:"fx" mapstructure:"fx"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Trust      TrustConfig      `yaml:"trust" mapstructure:"trust"`
	Ranking    RankingConfig    `yaml:"ranking" mapstructure:"ranking"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Refresh    RefreshConfig    `yaml:"refresh" mapstructure:"refresh"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the shared cache. An empty URL selects the
// in-process cache.
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// SerpAPIConfig holds Google Shopping search settings.
type SerpAPIConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Retries           int     `yaml:"retries" mapstructure:"retries"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens   int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GoogleConfig holds Google Places settings for merchant reputation.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FXConfig configures currency conversion.
type FXConfig struct {
	AppID        string             `yaml:"app_id" mapstructure:"app_id"`
	BaseURL      string             `yaml:"base_url" mapstructure:"base_url"`
	CacheTTLSecs int                `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	Static       map[string]float64 `yaml:"static" mapstructure:"static"`
}

// ClassifierConfig bounds the LLM fallback.
type ClassifierConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	MaxCalls      int     `yaml:"max_calls" mapstructure:"max_calls"`
	MaxFraction   float64 `yaml:"max_fraction" mapstructure:"max_fraction"`
	MaxCandidates int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	LockTTLSecs   int     `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// TrustConfig parameterizes the trust score. Zero values take the
// ranking package defaults.
type TrustConfig struct {
	TierBase                map[string]int `yaml:"tier_base" mapstructure:"tier_base"`
	ReviewPrior             float64        `yaml:"review_prior" mapstructure:"review_prior"`
	AnomalyThreshold        float64        `yaml:"anomaly_threshold" mapstructure:"anomaly_threshold"`
	AnomalySaturation       float64        `yaml:"anomaly_saturation" mapstructure:"anomaly_saturation"`
	AnomalyMaxPenalty       float64        `yaml:"anomaly_max_penalty" mapstructure:"anomaly_max_penalty"`
	AnomalyMinPeers         int            `yaml:"anomaly_min_peers" mapstructure:"anomaly_min_peers"`
	NewListingPenalty       int            `yaml:"new_listing_penalty" mapstructure:"new_listing_penalty"`
	MinCorroboratingSignals int            `yaml:"min_corroborating_signals" mapstructure:"min_corroborating_signals"`
	BlacklistFloor          int            `yaml:"blacklist_floor" mapstructure:"blacklist_floor"`
}

// RankingConfig configures leaderboards and the home payload.
type RankingConfig struct {
	Limit          int `yaml:"limit" mapstructure:"limit"`
	FreshnessHours int `yaml:"freshness_hours" mapstructure:"freshness_hours"`
	UICacheTTLSecs int `yaml:"ui_cache_ttl_secs" mapstructure:"ui_cache_ttl_secs"`
}

// IngestConfig configures ingestion units.
type IngestConfig struct {
	MinConfidence      float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
	Concurrency        int     `yaml:"concurrency" mapstructure:"concurrency"`
	SearchCacheTTLSecs int     `yaml:"search_cache_ttl_secs" mapstructure:"search_cache_ttl_secs"`
}

// PricingConfig holds per-market price adjustments.
type PricingConfig struct {
	// TaxRefundRates maps a country code to the reclaimable fraction.
	TaxRefundRates map[string]float64 `yaml:"tax_refund_rates" mapstructure:"tax_refund_rates"`
	// Flat USD adjustments per country, applied to every listing there.
	KnownCreditsUSD map[string]float64 `yaml:"known_credits_usd" mapstructure:"known_credits_usd"`
	KnownFeesUSD    map[string]float64 `yaml:"known_fees_usd" mapstructure:"known_fees_usd"`
}

// RefreshConfig configures the scheduled ingestion cycle run by serve.
type RefreshConfig struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	IntervalHours  int      `yaml:"interval_hours" mapstructure:"interval_hours"`
	Countries      []string `yaml:"countries" mapstructure:"countries"`
	ReconcileBatch int      `yaml:"reconcile_batch" mapstructure:"reconcile_batch"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from ./config.yaml, if present, and the
// environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. A named file must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("SKUBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Credentials have no defaults; bind them so env-only values unmarshal.
	for _, key := range []string{"serpapi.key", "anthropic.key", "google.key", "fx.app_id", "redis.url"} {
		_ = v.BindEnv(key)
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "skuboard.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("redis.key_prefix", "skuboard:")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("serpapi.timeout_secs", 20)
	v.SetDefault("serpapi.requests_per_second", 2)
	v.SetDefault("serpapi.retries", 3)
	v.SetDefault("anthropic.model", "claude-haiku-4-5")
	v.SetDefault("anthropic.timeout_secs", 30)
	v.SetDefault("anthropic.max_tokens", 300)
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("fx.base_url", "https://openexchangerates.org/api")
	v.SetDefault("fx.cache_ttl_secs", 3600)
	v.SetDefault("classifier.enabled", true)
	v.SetDefault("classifier.max_calls", 50)
	v.SetDefault("classifier.max_fraction", 0.2)
	v.SetDefault("classifier.max_candidates", 12)
	v.SetDefault("classifier.cache_ttl_hours", 720)
	v.SetDefault("classifier.lock_ttl_secs", 30)
	v.SetDefault("ranking.limit", 20)
	v.SetDefault("ranking.freshness_hours", 72)
	v.SetDefault("ranking.ui_cache_ttl_secs", 60)
	v.SetDefault("ingest.min_confidence", 0.8)
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.search_cache_ttl_secs", 3600)
	v.SetDefault("refresh.enabled", false)
	v.SetDefault("refresh.interval_hours", 6)
	v.SetDefault("refresh.countries", []string{"US", "JP", "DE", "GB", "HK", "AE"})
	v.SetDefault("refresh.reconcile_batch", 200)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs are present. mode is
// one of serve, ingest, reconcile or merchants.
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "serve", "ingest", "reconcile", "merchants":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}
	require(c.Store.DatabaseURL != "", "store.database_url is required")
	require(c.Ingest.MinConfidence >= 0 && c.Ingest.MinConfidence <= 1, "ingest.min_confidence must be between 0 and 1")
	require(c.Classifier.MaxFraction >= 0 && c.Classifier.MaxFraction <= 1, "classifier.max_fraction must be between 0 and 1")
	require(c.Classifier.MaxCalls >= 0, "classifier.max_calls must be >= 0")

	classifierOn := c.Classifier.Enabled && (mode == "ingest" || mode == "reconcile" || mode == "serve")
	switch mode {
	case "serve":
		require(c.Server.Port > 0, "server.port must be > 0")
		require(c.SerpAPI.Key != "", "serpapi.key is required")
		if c.Refresh.Enabled {
			require(c.Refresh.IntervalHours > 0, "refresh.interval_hours must be > 0")
			require(len(c.Refresh.Countries) > 0, "refresh.countries is required")
		}
	case "ingest":
		require(c.SerpAPI.Key != "", "serpapi.key is required")
	case "merchants":
		require(c.Google.Key != "", "google.key is required")
	}
	if classifierOn {
		require(c.Anthropic.Key != "", "anthropic.key is required when classifier.enabled")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
