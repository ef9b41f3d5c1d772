// Package ranking turns resolved listings into canonical offers and orders
// them into leaderboards. Dedup, pricing and trust are deterministic
// functions of stored state.
package ranking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/store"
)

var (
	// ErrCatalogIntegrity rejects a promotion to a SKU that is not catalogued.
	ErrCatalogIntegrity = eris.New("ranking: golden sku does not exist")
	// ErrExcluded rejects a promotion of a multi-variant, contract or
	// accessory listing.
	ErrExcluded = eris.New("ranking: listing is excluded from rankings")
	// ErrFXUnavailable means no rate was available for the listing currency.
	ErrFXUnavailable = eris.New("ranking: fx rate unavailable")
)

// Store is the persistence the engine needs.
type Store interface {
	GetGoldenSku(ctx context.Context, key string) (*model.GoldenSku, error)
	EnsureMerchant(ctx context.Context, name string) (*model.Merchant, error)
	GetOffer(ctx context.Context, id int64) (*model.Offer, error)
	FindOfferByDedupKey(ctx context.Context, skuKey, country, dedupKey string) (*model.Offer, error)
	InsertOffer(ctx context.Context, o model.Offer) (*model.Offer, error)
	RefreshOffer(ctx context.Context, o model.Offer) (bool, error)
	ListOfferViews(ctx context.Context, skuKey, country string, since time.Time) ([]model.OfferView, error)
	LinkRawOffer(ctx context.Context, rawID, offerID int64) error
}

// FX converts listing currencies. Rate returns currency units per USD.
type FX interface {
	Rate(ctx context.Context, currency string) (float64, error)
}

// Config tunes the engine.
type Config struct {
	Trust   TrustConfig
	Pricing PricingConfig
	Limit   int
	// Freshness bounds how old an offer's last sighting may be to rank.
	// Zero ranks every offer.
	Freshness time.Duration
}

// Engine promotes listings and ranks offers.
type Engine struct {
	store Store
	fx    FX
	cfg   Config
	now   func() time.Time
	log   *zap.Logger
}

// New creates an engine.
func New(s Store, fx FX, cfg Config) *Engine {
	cfg.Trust = cfg.Trust.WithDefaults()
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	return &Engine{
		store: s,
		fx:    fx,
		cfg:   cfg,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "ranking")),
	}
}

// Promotion reports what PromoteOrMerge did.
type Promotion struct {
	OfferID   int64  `json:"offer_id"`
	Created   bool   `json:"created"`
	Refreshed bool   `json:"refreshed"`
	Reason    string `json:"reason"`
}

// PromoteOrMerge attaches a resolved raw offer to the canonical offer sharing
// its dedup key, refreshing it, or creates a new offer. The raw offer is
// linked to the result.
func (e *Engine) PromoteOrMerge(ctx context.Context, raw model.RawOffer, skuKey string, confidence float64) (Promotion, error) {
	if _, err := e.store.GetGoldenSku(ctx, skuKey); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Promotion{}, eris.Wrapf(ErrCatalogIntegrity, "sku %q", skuKey)
		}
		return Promotion{}, eris.Wrap(err, "ranking: load golden sku")
	}
	if raw.Flags.Excluded() {
		return Promotion{}, eris.Wrapf(ErrExcluded, "raw offer %d", raw.ID)
	}

	rate, err := e.fx.Rate(ctx, raw.Currency)
	if err != nil {
		return Promotion{}, eris.Wrapf(ErrFXUnavailable, "%s: %v", raw.Currency, err)
	}

	merchant, err := e.store.EnsureMerchant(ctx, raw.Merchant)
	if err != nil {
		return Promotion{}, eris.Wrap(err, "ranking: ensure merchant")
	}

	country := strings.ToUpper(raw.Country)
	availability := raw.Availability
	if availability == "" {
		availability = model.AvailabilityUnknown
	}
	dedupKey := DedupKey(raw.Merchant, raw.Price, raw.Currency, availability, raw.Link)
	pricing := ComputePrice(raw.Price, rate, raw.Delivery, country, e.cfg.Pricing)

	offer := model.Offer{
		SKUKey:          skuKey,
		Country:         country,
		MerchantID:      merchant.ID,
		RawOfferID:      raw.ID,
		DedupKey:        dedupKey,
		Price:           raw.Price,
		Currency:        strings.ToUpper(raw.Currency),
		Availability:    availability,
		MatchConfidence: confidence,
		Link:            raw.Link,
		ImmersiveToken:  raw.ImmersiveToken,
		FirstSeenAt:     raw.FirstSeenAt,
		LastSeenAt:      raw.LastSeenAt,
	}
	applyPricing(&offer, pricing)

	existing, err := e.existingOffer(ctx, raw, skuKey, country, dedupKey, merchant.ID)
	if err != nil {
		return Promotion{}, err
	}

	seen := 1
	if existing != nil {
		seen = existing.SeenCount + 1
	}
	peers, err := e.peerPrices(ctx, skuKey, country, dedupKey, existing)
	if err != nil {
		return Promotion{}, err
	}
	trust := ScoreTrust(TrustInput{
		Merchant:          *merchant,
		EffectivePriceUSD: offer.EffectivePriceUSD,
		PeerPrices:        peers,
		SeenCount:         seen,
	}, e.cfg.Trust)
	offer.TrustScore, offer.TrustReasons = trust.Score, trust.Reasons

	if existing != nil {
		return e.refresh(ctx, raw, offer, existing)
	}

	created, err := e.store.InsertOffer(ctx, offer)
	if errors.Is(err, store.ErrConflict) {
		// A concurrent promotion created the same offer first.
		existing, ferr := e.store.FindOfferByDedupKey(ctx, skuKey, country, dedupKey)
		if ferr != nil {
			return Promotion{}, eris.Wrap(ferr, "ranking: reload offer after conflict")
		}
		return e.refresh(ctx, raw, offer, existing)
	}
	if err != nil {
		return Promotion{}, eris.Wrap(err, "ranking: insert offer")
	}
	if err := e.store.LinkRawOffer(ctx, raw.ID, created.ID); err != nil {
		return Promotion{}, eris.Wrap(err, "ranking: link raw offer")
	}
	e.log.Debug("offer promoted",
		zap.Int64("offer_id", created.ID),
		zap.Int64("raw_offer_id", raw.ID),
		zap.String("sku_key", skuKey),
		zap.String("country", country),
	)
	return Promotion{OfferID: created.ID, Created: true, Reason: model.ReasonPromoted}, nil
}

// existingOffer finds the offer a raw offer should refresh: the one sharing
// its dedup key, else the offer it was linked to before its price or
// availability moved, provided SKU and merchant still agree.
func (e *Engine) existingOffer(ctx context.Context, raw model.RawOffer, skuKey, country, dedupKey string, merchantID int64) (*model.Offer, error) {
	o, err := e.store.FindOfferByDedupKey(ctx, skuKey, country, dedupKey)
	switch {
	case err == nil:
		return o, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, eris.Wrap(err, "ranking: find offer by dedup key")
	}
	if raw.OfferID == nil {
		return nil, nil
	}
	linked, err := e.store.GetOffer(ctx, *raw.OfferID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ranking: load linked offer")
	}
	if linked.SKUKey != skuKey || linked.Country != country || linked.MerchantID != merchantID {
		return nil, nil
	}
	return linked, nil
}

func (e *Engine) refresh(ctx context.Context, raw model.RawOffer, offer model.Offer, existing *model.Offer) (Promotion, error) {
	offer.ID = existing.ID
	applied, err := e.store.RefreshOffer(ctx, offer)
	if err != nil {
		return Promotion{}, eris.Wrap(err, "ranking: refresh offer")
	}
	if err := e.store.LinkRawOffer(ctx, raw.ID, existing.ID); err != nil {
		return Promotion{}, eris.Wrap(err, "ranking: link raw offer")
	}
	return Promotion{OfferID: existing.ID, Refreshed: applied, Reason: model.ReasonDedupExisting}, nil
}

// peerPrices returns the effective prices of the other fresh offers for the
// SKU in the country.
func (e *Engine) peerPrices(ctx context.Context, skuKey, country, dedupKey string, self *model.Offer) ([]float64, error) {
	views, err := e.store.ListOfferViews(ctx, skuKey, country, e.since())
	if err != nil {
		return nil, eris.Wrap(err, "ranking: list peers")
	}
	out := make([]float64, 0, len(views))
	for _, v := range views {
		if v.Offer.DedupKey == dedupKey || (self != nil && v.Offer.ID == self.ID) || v.Merchant.Blacklisted {
			continue
		}
		out = append(out, v.Offer.EffectivePriceUSD)
	}
	return out, nil
}

func (e *Engine) since() time.Time {
	if e.cfg.Freshness <= 0 {
		return time.Time{}
	}
	return e.now().Add(-e.cfg.Freshness)
}

// Leaderboard ranks a SKU's fresh offers. An empty country ranks every
// market. Trust is recomputed from current merchant state so blacklisting
// and reputation refreshes apply immediately.
func (e *Engine) Leaderboard(ctx context.Context, skuKey, country string, minTrust int) (Leaderboard, error) {
	views, err := e.store.ListOfferViews(ctx, skuKey, country, e.since())
	if err != nil {
		return Leaderboard{}, eris.Wrap(err, "ranking: list offers")
	}
	Rescore(views, e.cfg.Trust)
	return Rank(views, minTrust, e.cfg.Limit), nil
}

// Rescore recomputes every view's trust in place. Peers are the other
// non-blacklisted offers in the same country.
func Rescore(views []model.OfferView, cfg TrustConfig) {
	byCountry := make(map[string][]int)
	for i, v := range views {
		byCountry[v.Offer.Country] = append(byCountry[v.Offer.Country], i)
	}
	scores := make([]TrustScore, len(views))
	for _, idx := range byCountry {
		for _, i := range idx {
			var peers []float64
			for _, j := range idx {
				if j != i && !views[j].Merchant.Blacklisted {
					peers = append(peers, views[j].Offer.EffectivePriceUSD)
				}
			}
			scores[i] = ScoreTrust(TrustInput{
				Merchant:          views[i].Merchant,
				EffectivePriceUSD: views[i].Offer.EffectivePriceUSD,
				PeerPrices:        peers,
				SeenCount:         views[i].Offer.SeenCount,
			}, cfg)
		}
	}
	for i := range views {
		views[i].Offer.TrustScore = scores[i].Score
		views[i].Offer.TrustReasons = scores[i].Reasons
	}
}
