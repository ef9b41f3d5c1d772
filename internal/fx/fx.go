// Package fx converts listing currencies to USD. Rates come from Open
// Exchange Rates through the shared cache, with configured static rates as
// the fallback.
package fx

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/pkg/oxr"
)

// ErrNoRate is returned when no source knows the currency.
var ErrNoRate = eris.New("fx: no rate")

const (
	cacheKey = "fx:latest:usd"
	// minForceInterval spaces forced refreshes caused by unknown currencies.
	minForceInterval = time.Minute
)

// Config controls the rate service.
type Config struct {
	CacheTTL time.Duration
	// Static rates, in currency units per USD, used when the API is
	// unavailable or does not list a currency.
	Static map[string]float64
}

// Service resolves currency units per USD.
type Service struct {
	client oxr.Client
	cache  cache.Cache
	guard  *resilience.Guard
	cfg    Config
	log    *zap.Logger

	mu         sync.Mutex
	lastForced time.Time
	now        func() time.Time
}

// New creates a rate service. A nil client serves static rates only.
func New(client oxr.Client, c cache.Cache, guard *resilience.Guard, cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	static := make(map[string]float64, len(cfg.Static))
	for k, v := range cfg.Static {
		static[strings.ToUpper(k)] = v
	}
	cfg.Static = static
	if c == nil {
		c = cache.Nop{}
	}
	if guard == nil {
		guard = resilience.NewGuard("oxr", resilience.GuardConfig{Timeout: 10 * time.Second})
	}
	return &Service{
		client: client,
		cache:  c,
		guard:  guard,
		cfg:    cfg,
		log:    zap.L().With(zap.String("component", "fx")),
		now:    time.Now,
	}
}

// Rate returns the number of currency units one USD buys.
func (s *Service) Rate(ctx context.Context, currency string) (float64, error) {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		return 0, eris.Wrap(ErrNoRate, "fx: empty currency")
	}
	if cur == "USD" {
		return 1, nil
	}

	if s.client != nil {
		rates, err := s.latest(ctx, false)
		if err == nil {
			if r, ok := rates.Rates[cur]; ok && r > 0 {
				return r, nil
			}
			if s.mayForce() {
				rates, err = s.latest(ctx, true)
				if err == nil {
					if r, ok := rates.Rates[cur]; ok && r > 0 {
						return r, nil
					}
				}
			}
		}
		if err != nil {
			s.log.Warn("fx: live rates unavailable, using static", zap.String("currency", cur), zap.Error(err))
		}
	}

	if r, ok := s.cfg.Static[cur]; ok && r > 0 {
		return r, nil
	}
	return 0, eris.Wrapf(ErrNoRate, "fx: %s", cur)
}

// ToUSD converts an amount in currency to USD.
func (s *Service) ToUSD(ctx context.Context, amount float64, currency string) (float64, error) {
	r, err := s.Rate(ctx, currency)
	if err != nil {
		return 0, err
	}
	return amount / r, nil
}

// FromUSD converts a USD amount into currency.
func (s *Service) FromUSD(ctx context.Context, usd float64, currency string) (float64, error) {
	r, err := s.Rate(ctx, currency)
	if err != nil {
		return 0, err
	}
	return usd * r, nil
}

func (s *Service) mayForce() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.lastForced.IsZero() && now.Sub(s.lastForced) < minForceInterval {
		return false
	}
	s.lastForced = now
	return true
}

func (s *Service) latest(ctx context.Context, force bool) (*oxr.Rates, error) {
	if !force {
		var cached oxr.Rates
		ok, err := cache.GetJSON(ctx, s.cache, cacheKey, &cached)
		if err != nil {
			s.log.Warn("fx: cache read failed", zap.Error(err))
		}
		if ok && len(cached.Rates) > 0 {
			return &cached, nil
		}
	}

	rates, err := resilience.Call(ctx, s.guard, s.client.Latest)
	if err != nil {
		return nil, eris.Wrap(err, "fx: fetch latest")
	}
	if err := cache.SetJSON(ctx, s.cache, cacheKey, rates, s.cfg.CacheTTL); err != nil {
		s.log.Warn("fx: cache write failed", zap.Error(err))
	}
	s.log.Debug("fx: rates refreshed", zap.Int("currencies", len(rates.Rates)), zap.Bool("forced", force))
	return rates, nil
}
