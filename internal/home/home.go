// Package home builds the landing-page payload: a SKU's global leaderboard
// plus the visitor's home-market reference price.
package home

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/ranking"
	"github.com/sells-group/skuboard/internal/skukey"
	"github.com/sells-group/skuboard/internal/store"
)

// Request errors.
var (
	ErrUnknownSKU     = eris.New("home: unknown sku")
	ErrUnknownMarket  = eris.New("home: unknown market")
	ErrInvalidRequest = eris.New("home: invalid request")
)

// Leaderboards ranks offers.
type Leaderboards interface {
	Leaderboard(ctx context.Context, skuKey, country string, minTrust int) (ranking.Leaderboard, error)
}

// Catalog looks SKUs up.
type Catalog interface {
	GetGoldenSku(ctx context.Context, key string) (*model.GoldenSku, error)
}

// FX converts USD into local currencies.
type FX interface {
	FromUSD(ctx context.Context, usd float64, currency string) (float64, error)
}

// Config holds the request defaults and the payload cache TTL.
type Config struct {
	CacheTTL        time.Duration
	DefaultSKU      string
	DefaultCountry  string
	DefaultMinTrust int
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.DefaultSKU == "" {
		c.DefaultSKU = "iphone-16-pro-256gb-black-new"
	}
	if c.DefaultCountry == "" {
		c.DefaultCountry = "DE"
	}
	if c.DefaultMinTrust == 0 {
		c.DefaultMinTrust = 80
	}
	return c
}

// Request selects a payload. Empty fields take the configured defaults.
type Request struct {
	SKU      string
	Country  string
	MinTrust *int
	Lang     string
}

// Payload is the home response.
type Payload struct {
	ModelKey            string      `json:"modelKey"`
	SKUKey              string      `json:"skuKey"`
	DisplayName         string      `json:"displayName"`
	MinTrust            int         `json:"minTrust"`
	HomeMarket          HomeMarket  `json:"homeMarket"`
	GlobalWinnerOfferID *int64      `json:"globalWinnerOfferId"`
	Leaderboard         Leaderboard `json:"leaderboard"`
}

// HomeMarket is the visitor's reference point. LocalPriceUSD is the best
// trusted offer in the home market, or the SKU's reference price when the
// market has none.
type HomeMarket struct {
	CountryCode   string  `json:"countryCode"`
	Country       string  `json:"country"`
	Currency      string  `json:"currency"`
	LocalPriceUSD float64 `json:"localPriceUsd"`
	LocalPrice    string  `json:"localPrice"`
	FromOffers    bool    `json:"fromOffers"`
}

// Leaderboard is the ranked deal list.
type Leaderboard struct {
	Deals         []Deal    `json:"deals"`
	MatchCount    int       `json:"matchCount"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Deal is one ranked offer.
type Deal struct {
	OfferID             int64    `json:"offerId"`
	Rank                int      `json:"rank"`
	CountryCode         string   `json:"countryCode"`
	Country             string   `json:"country"`
	Flag                string   `json:"flag"`
	Shop                string   `json:"shop"`
	Availability        string   `json:"availability"`
	PriceUSD            float64  `json:"priceUsd"`
	TaxRefundValue      float64  `json:"taxRefundValue"`
	FinalEffectivePrice float64  `json:"finalEffectivePrice"`
	LocalPrice          string   `json:"localPrice"`
	TrustScore          int      `json:"trustScore"`
	TrustReasons        []string `json:"trustReasons"`
	UnknownShipping     bool     `json:"unknownShipping"`
	UnknownRefund       bool     `json:"unknownRefund"`
	RedirectURL         string   `json:"redirectUrl"`
}

// Service builds payloads.
type Service struct {
	ranks   Leaderboards
	catalog Catalog
	fx      FX
	cache   cache.Cache
	cfg     Config
	log     *zap.Logger
}

// New creates a home service.
func New(ranks Leaderboards, catalog Catalog, fx FX, c cache.Cache, cfg Config) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{
		ranks:   ranks,
		catalog: catalog,
		fx:      fx,
		cache:   c,
		cfg:     cfg.withDefaults(),
		log:     zap.L().With(zap.String("component", "home")),
	}
}

// Get returns the payload for req, served from the cache when fresh.
func (s *Service) Get(ctx context.Context, req Request) (*Payload, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	key := cacheKey(req)

	var cached Payload
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err != nil {
		s.log.Warn("home cache read failed", zap.Error(err))
	} else if ok {
		return &cached, nil
	}

	p, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, p, s.cfg.CacheTTL); err != nil {
		s.log.Warn("home cache write failed", zap.Error(err))
	}
	return p, nil
}

func (s *Service) normalize(req Request) (Request, error) {
	req.SKU = strings.ToLower(strings.TrimSpace(req.SKU))
	if req.SKU == "" {
		req.SKU = s.cfg.DefaultSKU
	}
	req.Country = strings.ToUpper(strings.TrimSpace(req.Country))
	if req.Country == "" {
		req.Country = s.cfg.DefaultCountry
	}
	if _, ok := model.LookupMarket(req.Country); !ok {
		return req, eris.Wrapf(ErrUnknownMarket, "home: %s", req.Country)
	}
	if req.MinTrust == nil {
		mt := s.cfg.DefaultMinTrust
		req.MinTrust = &mt
	}
	if *req.MinTrust < 0 || *req.MinTrust > 100 {
		return req, eris.Wrapf(ErrInvalidRequest, "home: minTrust %d outside 0..100", *req.MinTrust)
	}
	req.Lang = negotiate(req.Lang).String()
	return req, nil
}

func cacheKey(req Request) string {
	return "home:v1:" + req.SKU + "|" + req.Country + "|" + strconv.Itoa(*req.MinTrust) + "|" + req.Lang
}

func (s *Service) build(ctx context.Context, req Request) (*Payload, error) {
	sku, err := s.catalog.GetGoldenSku(ctx, req.SKU)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrUnknownSKU, "home: %s", req.SKU)
	}
	if err != nil {
		return nil, eris.Wrap(err, "home: load sku")
	}
	tag := negotiate(req.Lang)
	minTrust := *req.MinTrust

	global, err := s.ranks.Leaderboard(ctx, sku.Key, "", minTrust)
	if err != nil {
		return nil, eris.Wrap(err, "home: global leaderboard")
	}
	local, err := s.ranks.Leaderboard(ctx, sku.Key, req.Country, minTrust)
	if err != nil {
		return nil, eris.Wrap(err, "home: home-market leaderboard")
	}

	mkt, _ := model.LookupMarket(req.Country)
	hm := HomeMarket{
		CountryCode:   mkt.Code,
		Country:       mkt.Name,
		Currency:      mkt.Currency,
		LocalPriceUSD: sku.ReferencePriceUSD,
	}
	if len(local.Entries) > 0 {
		hm.LocalPriceUSD, hm.FromOffers = local.Entries[0].Offer.EffectivePriceUSD, true
	}
	if amount, err := s.fx.FromUSD(ctx, hm.LocalPriceUSD, mkt.Currency); err != nil {
		s.log.Warn("home-market price conversion failed", zap.String("currency", mkt.Currency), zap.Error(err))
	} else {
		hm.LocalPrice = formatMoney(tag, amount, mkt.Currency)
	}

	p := &Payload{
		ModelKey:    skukey.ModelOf(sku.Key),
		SKUKey:      sku.Key,
		DisplayName: sku.DisplayName,
		MinTrust:    minTrust,
		HomeMarket:  hm,
		Leaderboard: Leaderboard{
			Deals:         make([]Deal, 0, len(global.Entries)),
			MatchCount:    global.MatchCount,
			LastUpdatedAt: global.LastUpdatedAt,
		},
	}
	for _, e := range global.Entries {
		p.Leaderboard.Deals = append(p.Leaderboard.Deals, deal(tag, e))
	}
	if len(global.Entries) > 0 {
		id := global.Entries[0].Offer.ID
		p.GlobalWinnerOfferID = &id
	}
	return p, nil
}

func deal(tag language.Tag, e ranking.Entry) Deal {
	o := e.Offer
	mkt, _ := model.LookupMarket(o.Country)
	d := Deal{
		OfferID:             o.ID,
		Rank:                e.Rank,
		CountryCode:         o.Country,
		Country:             mkt.Name,
		Flag:                mkt.Flag(),
		Shop:                e.Merchant.Name,
		Availability:        string(o.Availability),
		PriceUSD:            o.PriceUSD,
		TaxRefundValue:      o.TaxRefundUSD,
		FinalEffectivePrice: o.EffectivePriceUSD,
		LocalPrice:          formatMoney(tag, o.Price, o.Currency),
		TrustScore:          o.TrustScore,
		TrustReasons:        o.TrustReasons,
		RedirectURL:         "/r/offers/" + strconv.FormatInt(o.ID, 10),
	}
	if d.TrustReasons == nil {
		d.TrustReasons = []string{}
	}
	for _, f := range o.PriceFlags {
		switch f {
		case ranking.FlagUnknownShipping:
			d.UnknownShipping = true
		case ranking.FlagUnknownRefund:
			d.UnknownRefund = true
		}
	}
	return d
}
