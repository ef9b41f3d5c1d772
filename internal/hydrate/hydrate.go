// Package hydrate resolves the merchant URL an offer redirects to. Direct
// links are fetched lazily through the billed immersive-product lookup,
// cached, and stored on the offer; the canonical listing link is the
// fallback.
package hydrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/pkg/serpapi"
)

// ErrUnsafeURL is returned when neither the hydrated nor the canonical URL
// may be emitted as a redirect.
var ErrUnsafeURL = eris.New("hydrate: unsafe url")

// Store is the slice of the store the service needs.
type Store interface {
	GetOffer(ctx context.Context, id int64) (*model.Offer, error)
	SetOfferMerchantURL(ctx context.Context, id int64, url string) error
}

// Config controls caching of hydrated URLs.
type Config struct {
	CacheTTL time.Duration
	// MissTTL caches a lookup that found no direct link.
	MissTTL time.Duration
	LockTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 7 * 24 * time.Hour
	}
	if c.MissTTL <= 0 {
		c.MissTTL = time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

// Source tells where a redirect target came from.
type Source string

const (
	SourceStored   Source = "stored"
	SourceCache    Source = "cache"
	SourceHydrated Source = "hydrated"
	SourceLink     Source = "link"
)

// Target is a resolved redirect.
type Target struct {
	URL    string `json:"url"`
	Source Source `json:"source"`
}

// Service resolves redirect targets.
type Service struct {
	store  Store
	client serpapi.Client
	cache  cache.Cache
	guard  *resilience.Guard
	cfg    Config
	log    *zap.Logger
}

// New creates a hydration service. A nil client never hydrates and always
// falls back to the canonical link.
func New(st Store, client serpapi.Client, c cache.Cache, guard *resilience.Guard, cfg Config) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if guard == nil {
		guard = resilience.NewGuard("serpapi_immersive", resilience.GuardConfig{Timeout: 20 * time.Second})
	}
	return &Service{
		store:  st,
		client: client,
		cache:  c,
		guard:  guard,
		cfg:    cfg.withDefaults(),
		log:    zap.L().With(zap.String("component", "hydrate")),
	}
}

// RedirectTarget returns the URL a user following offerID is sent to. A
// stored merchant URL wins; otherwise the offer is hydrated once and the
// result stored. Hydration failures fall back to the listing link.
func (s *Service) RedirectTarget(ctx context.Context, offerID int64) (Target, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return Target{}, eris.Wrapf(err, "hydrate: load offer %d", offerID)
	}
	if u, err := SafeURL(offer.MerchantURL); err == nil {
		return Target{URL: u, Source: SourceStored}, nil
	}

	direct, fromCache, err := s.hydrate(ctx, offer.ImmersiveToken)
	if err != nil {
		s.log.Warn("hydrate: lookup failed, using listing link",
			zap.Int64("offer_id", offerID), zap.Error(err))
	}
	if u, err := SafeURL(direct); err == nil {
		if err := s.store.SetOfferMerchantURL(ctx, offerID, u); err != nil {
			s.log.Warn("hydrate: store merchant url", zap.Int64("offer_id", offerID), zap.Error(err))
		}
		src := SourceHydrated
		if fromCache {
			src = SourceCache
		}
		return Target{URL: u, Source: src}, nil
	}

	u, err := SafeURL(offer.Link)
	if err != nil {
		return Target{}, eris.Wrapf(err, "hydrate: offer %d", offerID)
	}
	return Target{URL: u, Source: SourceLink}, nil
}

// hydrate returns the direct merchant URL for token, or "" when there is
// none. It reports whether the answer came from the cache.
func (s *Service) hydrate(ctx context.Context, token string) (string, bool, error) {
	token = strings.TrimSpace(token)
	if token == "" || s.client == nil {
		return "", false, nil
	}
	key := cacheKey(token)
	if u, ok := s.cached(ctx, key); ok {
		return u, true, nil
	}

	lease, ok, err := s.cache.AcquireLease(ctx, cache.LeaseKey(key), s.cfg.LockTTL)
	switch {
	case err != nil:
		s.log.Warn("hydrate: lease failed, proceeding", zap.Error(err))
	case !ok:
		// Another request is paying for this lookup.
		return "", false, nil
	default:
		defer func() {
			if err := s.cache.ReleaseLease(context.WithoutCancel(ctx), cache.LeaseKey(key), lease); err != nil {
				s.log.Debug("hydrate: release lease", zap.Error(err))
			}
		}()
		if u, ok := s.cached(ctx, key); ok {
			return u, true, nil
		}
	}

	res, err := resilience.Call(ctx, s.guard, func(ctx context.Context) (*serpapi.ImmersiveResult, error) {
		return s.client.Immersive(ctx, serpapi.ImmersiveRequest{PageToken: token})
	})
	if err != nil {
		return "", false, err
	}

	direct := ""
	if res != nil {
		if u, err := SafeURL(res.MerchantURL); err == nil {
			direct = u
		}
	}
	ttl := s.cfg.CacheTTL
	if direct == "" {
		ttl = s.cfg.MissTTL
	}
	if err := cache.SetJSON(ctx, s.cache, key, direct, ttl); err != nil {
		s.log.Warn("hydrate: cache write failed", zap.Error(err))
	}
	return direct, false, nil
}

func (s *Service) cached(ctx context.Context, key string) (string, bool) {
	var u string
	ok, err := cache.GetJSON(ctx, s.cache, key, &u)
	if err != nil {
		s.log.Warn("hydrate: cache read failed", zap.Error(err))
		return "", false
	}
	return u, ok
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "hydrate:" + hex.EncodeToString(sum[:])
}

// SafeURL returns raw normalized when it is an absolute http or https URL
// with a host, and ErrUnsafeURL otherwise.
func SafeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.Wrap(ErrUnsafeURL, "empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(ErrUnsafeURL, "parse: %v", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", eris.Wrapf(ErrUnsafeURL, "scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", eris.Wrap(ErrUnsafeURL, "missing host")
	}
	if u.User != nil {
		return "", eris.Wrap(ErrUnsafeURL, "userinfo")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u.String(), nil
}
