package ranking

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestDedupKey(t *testing.T) {
	k := DedupKey("  Shop   A ", 999, "usd", model.AvailabilityInStock, "")
	assert.Equal(t, "shop a:999.00:USD:in_stock", k)

	assert.Equal(t, "shop a:999.00:USD:unknown", DedupKey("Shop A", 999.001, "USD", "", ""))

	withURL := DedupKey("Shop A", 999, "USD", model.AvailabilityInStock, "https://shop.example.com/p/1?utm_source=x")
	same := DedupKey("Shop A", 999, "USD", model.AvailabilityInStock, "https://SHOP.example.com/p/1")
	assert.Equal(t, withURL, same, "tracking params and host case do not split offers")
	parts := strings.Split(withURL, ":")
	require.Len(t, parts, 5)
	assert.Len(t, parts[4], 8)
}

func TestParseShipping(t *testing.T) {
	tests := []struct {
		in     string
		amount float64
		known  bool
	}{
		{"Free delivery by Mon", 0, true},
		{"送料無料", 0, true},
		{"Kostenloser Versand", 0, true},
		{"Livraison gratuite", 0, true},
		{"+$5.99 shipping", 5.99, true},
		{"HK$40 delivery", 40, true},
		{"送料 500円", 500, true},
		{"+4,99 € Versand", 4.99, true},
		{"Delivery by Oct 20", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			amount, known := ParseShipping(tt.in)
			assert.Equal(t, tt.known, known)
			assert.InDelta(t, tt.amount, amount, 1e-9)
		})
	}
}

func TestComputePrice(t *testing.T) {
	cfg := PricingConfig{TaxRefundRates: map[string]float64{"JP": 0.1, "DE": 0}}

	t.Run("converted with known components", func(t *testing.T) {
		p := ComputePrice(159800, 150, "送料無料", "jp", cfg)
		assert.InDelta(t, 1065.33, p.PriceUSD, 1e-9)
		assert.InDelta(t, 0, p.ShippingUSD, 1e-9)
		assert.InDelta(t, 106.53, p.TaxRefundUSD, 1e-9)
		assert.InDelta(t, 958.80, p.EffectiveUSD, 1e-9)
		assert.Empty(t, p.Flags)
	})

	t.Run("unknown components default to zero", func(t *testing.T) {
		p := ComputePrice(999, 1, "", "US", cfg)
		assert.InDelta(t, 999, p.EffectiveUSD, 1e-9)
		assert.Equal(t, []string{FlagUnknownShipping, FlagUnknownRefund}, p.Flags)
	})

	t.Run("parsed shipping is converted", func(t *testing.T) {
		p := ComputePrice(1099, 0.92, "+4,99 € Versand", "DE", cfg)
		assert.InDelta(t, 1194.57, p.PriceUSD, 1e-9)
		assert.InDelta(t, 5.42, p.ShippingUSD, 1e-9)
		assert.InDelta(t, 1199.99, p.EffectiveUSD, 1e-9)
		assert.Empty(t, p.Flags)
	})

	t.Run("known credits and fees", func(t *testing.T) {
		withAdjustments := cfg
		withAdjustments.KnownCreditsUSD = map[string]float64{"JP": 20}
		withAdjustments.KnownFeesUSD = map[string]float64{"JP": 5.5, "US": 3}
		p := ComputePrice(159800, 150, "送料無料", "jp", withAdjustments)
		assert.InDelta(t, 20, p.CreditsUSD, 1e-9)
		assert.InDelta(t, 5.5, p.FeesUSD, 1e-9)
		assert.InDelta(t, 944.30, p.EffectiveUSD, 1e-9)
		assert.Empty(t, p.Flags)

		p = ComputePrice(159800, 150, "送料無料", "jp", cfg)
		assert.Zero(t, p.CreditsUSD, "absent countries contribute zero")
		assert.Zero(t, p.FeesUSD)
	})

	t.Run("non-positive rate treated as USD", func(t *testing.T) {
		p := ComputePrice(10, 0, "free shipping", "DE", cfg)
		assert.InDelta(t, 1, p.FXRate, 1e-9)
		assert.InDelta(t, 10, p.EffectiveUSD, 1e-9)
	})
}

func TestTier(t *testing.T) {
	tests := []struct {
		merchant model.Merchant
		want     model.MerchantTier
	}{
		{model.Merchant{Name: "Apple"}, model.TierOfficial},
		{model.Merchant{Name: "Bic Camera"}, model.TierVerified},
		{model.Merchant{Name: "ビックカメラ"}, model.TierVerified},
		{model.Merchant{Name: "Amazon.co.jp"}, model.TierMarketplace},
		{model.Merchant{Name: "Best Buy - Outlet"}, model.TierVerified},
		{model.Merchant{Name: "Applesauce Phones"}, model.TierUnknown},
		{model.Merchant{Name: "Corner Shop"}, model.TierUnknown},
		{model.Merchant{Name: "Corner Shop", Verified: true}, model.TierVerified},
		{model.Merchant{Name: "Apple", Verified: true}, model.TierOfficial},
		{model.Merchant{Name: "eBay", Verified: true}, model.TierVerified},
	}
	for _, tt := range tests {
		t.Run(tt.merchant.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tier(tt.merchant))
		})
	}
}

func TestScoreTrust(t *testing.T) {
	cfg := TrustConfig{}.WithDefaults()

	t.Run("official new listing", func(t *testing.T) {
		got := ScoreTrust(TrustInput{Merchant: model.Merchant{Name: "Apple"}, SeenCount: 1}, cfg)
		assert.Equal(t, 85, got.Score)
		assert.Equal(t, []string{"TIER_OFFICIAL", TrustNewListing}, got.Reasons)
	})

	t.Run("rating shrunk by review count", func(t *testing.T) {
		m := model.Merchant{Name: "Bic Camera", Rating: ptr(4.5), ReviewCount: ptr(50)}
		got := ScoreTrust(TrustInput{Merchant: m, SeenCount: 1}, cfg)
		assert.Equal(t, 88, got.Score)
		assert.Equal(t, []string{"TIER_VERIFIED", TrustRatingBoost}, got.Reasons)
	})

	t.Run("poor rating", func(t *testing.T) {
		m := model.Merchant{Name: "Random Shop", Rating: ptr(3.0), ReviewCount: ptr(150)}
		got := ScoreTrust(TrustInput{Merchant: m, SeenCount: 1}, cfg)
		assert.Equal(t, 33, got.Score)
		assert.Equal(t, []string{"TIER_UNKNOWN", TrustRatingPenalty}, got.Reasons)
	})

	t.Run("price anomaly is monotonic and saturates", func(t *testing.T) {
		m := model.Merchant{Name: "Some Shop", Verified: true}
		peers := []float64{1000, 1000, 1000}
		score := func(price float64) int {
			return ScoreTrust(TrustInput{Merchant: m, EffectivePriceUSD: price, PeerPrices: peers, SeenCount: 2}, cfg).Score
		}
		assert.Equal(t, 85, score(1200))
		assert.Equal(t, 85, score(800))
		assert.Equal(t, 72, score(600))
		assert.Equal(t, 55, score(400))
		assert.Equal(t, 55, score(100))

		few := ScoreTrust(TrustInput{Merchant: m, EffectivePriceUSD: 100, PeerPrices: peers[:2], SeenCount: 2}, cfg)
		assert.Equal(t, 85, few.Score)
		assert.NotContains(t, few.Reasons, TrustPriceAnomaly)
	})

	t.Run("blacklisted is floored", func(t *testing.T) {
		m := model.Merchant{Name: "Apple", Blacklisted: true, Rating: ptr(5.0), ReviewCount: ptr(1000)}
		got := ScoreTrust(TrustInput{Merchant: m, SeenCount: 9}, cfg)
		assert.Equal(t, 0, got.Score)
		assert.Contains(t, got.Reasons, TrustBlacklisted)
	})

	t.Run("clamped at 100", func(t *testing.T) {
		m := model.Merchant{Name: "Apple", Rating: ptr(5.0), ReviewCount: ptr(10000)}
		got := ScoreTrust(TrustInput{Merchant: m, SeenCount: 3}, cfg)
		assert.Equal(t, 100, got.Score)
		assert.Contains(t, got.Reasons, TrustClamped)
	})

	t.Run("configured tier base", func(t *testing.T) {
		custom := TrustConfig{TierBase: map[model.MerchantTier]int{model.TierUnknown: 20}}.WithDefaults()
		assert.Equal(t, 95, custom.TierBase[model.TierOfficial])
		m := model.Merchant{Name: "x", Rating: ptr(4.0), ReviewCount: ptr(20)}
		assert.Equal(t, 20, ScoreTrust(TrustInput{Merchant: m}, custom).Score)
	})
}

func view(id int64, price float64, trust int, avail model.Availability, reviews int, created time.Time) model.OfferView {
	return model.OfferView{
		Offer: model.Offer{
			ID: id, EffectivePriceUSD: price, TrustScore: trust, Availability: avail,
			CreatedAt: created, LastSeenAt: created,
		},
		Merchant: model.Merchant{ID: id, ReviewCount: ptr(reviews)},
	}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRank_MinTrustFilter(t *testing.T) {
	views := []model.OfferView{
		view(1, 900, 98, model.AvailabilityInStock, 0, t0),
		view(2, 950, 96, model.AvailabilityInStock, 0, t0),
		view(3, 800, 90, model.AvailabilityInStock, 0, t0),
		view(4, 700, 85, model.AvailabilityInStock, 0, t0),
		view(5, 600, 70, model.AvailabilityInStock, 0, t0),
	}
	lb := Rank(views, 95, 10)
	assert.Equal(t, 2, lb.MatchCount)
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, int64(1), lb.Entries[0].Offer.ID)
	assert.Equal(t, int64(2), lb.Entries[1].Offer.ID)
	assert.Equal(t, 1, lb.Entries[0].Rank)
	assert.Equal(t, 2, lb.Entries[1].Rank)
}

func TestRank_CapAndMatchCount(t *testing.T) {
	var views []model.OfferView
	for i := 0; i < 14; i++ {
		views = append(views, view(int64(i+1), float64(1000-i), 80, model.AvailabilityInStock, 0, t0.Add(time.Duration(i)*time.Minute)))
	}
	lb := Rank(views, 0, 0)
	assert.Equal(t, 14, lb.MatchCount)
	assert.Len(t, lb.Entries, DefaultLimit)
	assert.Equal(t, int64(14), lb.Entries[0].Offer.ID)
	assert.Equal(t, t0.Add(13*time.Minute), lb.LastUpdatedAt)
}

func TestRank_TieBreaks(t *testing.T) {
	views := []model.OfferView{
		view(1, 500, 80, model.AvailabilityInStock, 10, t0.Add(time.Hour)),
		view(2, 500, 80, model.AvailabilityInStock, 10, t0),
		view(3, 500, 80, model.AvailabilityInStock, 99, t0.Add(2*time.Hour)),
		view(4, 500, 80, model.AvailabilityOutOfStock, 500, t0),
		view(5, 500, 80, model.AvailabilityUnknown, 500, t0),
		view(6, 500, 80, model.AvailabilityLimited, 500, t0),
		view(7, 500, 90, model.AvailabilityOutOfStock, 0, t0),
		view(8, 400, 10, model.AvailabilityOutOfStock, 0, t0),
		view(9, 500, 80, model.AvailabilityInStock, 10, t0),
	}
	lb := Rank(views, 0, 20)
	var ids []int64
	for _, e := range lb.Entries {
		ids = append(ids, e.Offer.ID)
	}
	assert.Equal(t, []int64{8, 7, 3, 2, 9, 1, 6, 5, 4}, ids)
}

func TestRank_Stable(t *testing.T) {
	views := []model.OfferView{
		view(3, 500, 80, model.AvailabilityInStock, 10, t0),
		view(1, 500, 80, model.AvailabilityInStock, 10, t0),
		view(2, 500, 80, model.AvailabilityInStock, 10, t0),
	}
	reversed := []model.OfferView{views[2], views[1], views[0]}
	a := Rank(views, 50, 10)
	b := Rank(reversed, 50, 10)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(1), a.Entries[0].Offer.ID)
}

func TestRank_EmptyAndBlacklisted(t *testing.T) {
	lb := Rank(nil, 0, 10)
	assert.Equal(t, 0, lb.MatchCount)
	assert.NotNil(t, lb.Entries)
	assert.Empty(t, lb.Entries)

	v := view(1, 1, 100, model.AvailabilityInStock, 0, t0)
	v.Merchant.Blacklisted = true
	assert.Equal(t, 0, Rank([]model.OfferView{v}, 0, 10).MatchCount)
}

func TestRescore_PeersPerCountry(t *testing.T) {
	cfg := TrustConfig{}.WithDefaults()
	mk := func(id int64, country string, price float64) model.OfferView {
		return model.OfferView{
			Offer:    model.Offer{ID: id, Country: country, EffectivePriceUSD: price, SeenCount: 2},
			Merchant: model.Merchant{Name: "Shop", Verified: true},
		}
	}
	views := []model.OfferView{
		mk(1, "US", 1000), mk(2, "US", 1000), mk(3, "US", 1000), mk(4, "US", 400),
		mk(5, "JP", 400), mk(6, "JP", 1000),
	}
	Rescore(views, cfg)
	assert.Equal(t, 55, views[3].Offer.TrustScore)
	assert.Contains(t, views[3].Offer.TrustReasons, TrustPriceAnomaly)
	assert.Equal(t, 85, views[4].Offer.TrustScore, "too few JP peers for an anomaly")
	assert.Equal(t, 85, views[0].Offer.TrustScore)
}
