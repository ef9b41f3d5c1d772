package ranking

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/store"
)

const testSKU = "iphone-16-pro-256gb-black-new"

func newTestEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ranking.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	_, err = st.UpsertGoldenSkus(ctx, []model.GoldenSku{{
		Key: testSKU, Model: "iphone-16-pro", Storage: "256gb", Color: "black",
		Condition: model.ConditionNew, DisplayName: "iPhone 16 Pro 256GB Black", ReferencePriceUSD: 1099,
	}})
	require.NoError(t, err)

	e := New(st, fakeFX{"USD": 1, "JPY": 150}, Config{
		Pricing: PricingConfig{TaxRefundRates: map[string]float64{"US": 0, "JP": 0.1}},
	})
	e.now = func() time.Time { return t0.Add(time.Hour) }
	return e, st
}

func bufferRaw(t *testing.T, st store.Store, identity, merchant string, price float64, at time.Time) model.RawOffer {
	t.Helper()
	raw, _, err := st.UpsertRawOffer(context.Background(), model.RawOffer{
		Source:       model.SourceGoogleShopping,
		Country:      "US",
		IdentityKey:  identity,
		Title:        "iPhone 16 Pro 256GB Black - New",
		Price:        price,
		Currency:     "USD",
		Merchant:     merchant,
		Availability: model.AvailabilityInStock,
		Attrs: model.ExtractedAttrs{
			Model: "iphone-16-pro", Storage: "256gb", Color: "black",
			Condition: model.ConditionNew, ConditionSource: "title", Confidence: model.ConfidenceHigh,
		},
		LastSeenAt: at,
	})
	require.NoError(t, err)
	return *raw
}

func TestPromoteOrMerge_CreatesOffer(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	raw := bufferRaw(t, st, "pid:1", "Shop A", 999, t0)

	p, err := e.PromoteOrMerge(ctx, raw, testSKU, 1.0)
	require.NoError(t, err)
	assert.True(t, p.Created)
	assert.Equal(t, model.ReasonPromoted, p.Reason)

	o, err := st.GetOffer(ctx, p.OfferID)
	require.NoError(t, err)
	assert.Equal(t, testSKU, o.SKUKey)
	assert.Equal(t, "US", o.Country)
	assert.InDelta(t, 999, o.EffectivePriceUSD, 1e-9)
	assert.InDelta(t, 1, o.FXRate, 1e-9)
	assert.Equal(t, []string{FlagUnknownShipping}, o.PriceFlags)
	assert.Equal(t, 30, o.TrustScore)
	assert.Equal(t, []string{"TIER_UNKNOWN", TrustNewListing}, o.TrustReasons)
	assert.InDelta(t, 1.0, o.MatchConfidence, 1e-9)

	linked, err := st.GetRawOffer(ctx, raw.ID)
	require.NoError(t, err)
	require.NotNil(t, linked.OfferID)
	assert.Equal(t, p.OfferID, *linked.OfferID)
}

func TestPromoteOrMerge_DuplicatesCollapse(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	first, err := e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:1", "Shop A", 999, t0), testSKU, 1.0)
	require.NoError(t, err)
	second, err := e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:2", "shop  a", 999, t0.Add(time.Minute)), testSKU, 1.0)
	require.NoError(t, err)

	assert.Equal(t, first.OfferID, second.OfferID)
	assert.False(t, second.Created)
	assert.True(t, second.Refreshed)
	assert.Equal(t, model.ReasonDedupExisting, second.Reason)

	views, err := st.ListOfferViews(ctx, testSKU, "US", time.Time{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 2, views[0].Offer.SeenCount)
	assert.Equal(t, t0.Add(time.Minute), views[0].Offer.LastSeenAt)
}

func TestPromoteOrMerge_PriceMoveRefreshesLinkedOffer(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	first, err := e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:1", "Shop A", 999, t0), testSKU, 1.0)
	require.NoError(t, err)

	moved := bufferRaw(t, st, "pid:1", "Shop A", 949, t0.Add(time.Hour))
	require.NotNil(t, moved.OfferID)

	p, err := e.PromoteOrMerge(ctx, moved, testSKU, 1.0)
	require.NoError(t, err)
	assert.Equal(t, first.OfferID, p.OfferID)
	assert.True(t, p.Refreshed)

	o, err := st.GetOffer(ctx, p.OfferID)
	require.NoError(t, err)
	assert.InDelta(t, 949, o.Price, 1e-9)
	assert.Equal(t, DedupKey("Shop A", 949, "USD", model.AvailabilityInStock, ""), o.DedupKey)

	views, err := st.ListOfferViews(ctx, testSKU, "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, views, 1)
}

func TestPromoteOrMerge_DifferentMerchantsStaySeparate(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	a, err := e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:1", "Shop A", 999, t0), testSKU, 1.0)
	require.NoError(t, err)
	b, err := e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:2", "Shop B", 999, t0), testSKU, 1.0)
	require.NoError(t, err)
	assert.NotEqual(t, a.OfferID, b.OfferID)
}

func TestPromoteOrMerge_Rejections(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	raw := bufferRaw(t, st, "pid:1", "Shop A", 999, t0)

	_, err := e.PromoteOrMerge(ctx, raw, "iphone-99-1tb-gold-new", 1.0)
	assert.ErrorIs(t, err, ErrCatalogIntegrity)

	excluded := raw
	excluded.Flags.IsContract = true
	_, err = e.PromoteOrMerge(ctx, excluded, testSKU, 1.0)
	assert.ErrorIs(t, err, ErrExcluded)

	noRate := raw
	noRate.Currency = "XYZ"
	_, err = e.PromoteOrMerge(ctx, noRate, testSKU, 1.0)
	assert.ErrorIs(t, err, ErrFXUnavailable)

	views, err := st.ListOfferViews(ctx, testSKU, "", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestLeaderboard(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	a, err := e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:1", "Shop A", 999, t0), testSKU, 1.0)
	require.NoError(t, err)
	b, err := e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:2", "Apple", 1099, t0), testSKU, 1.0)
	require.NoError(t, err)

	lb, err := e.Leaderboard(ctx, testSKU, "US", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, lb.MatchCount)
	require.Len(t, lb.Entries, 2)
	assert.Equal(t, a.OfferID, lb.Entries[0].Offer.ID)

	lb, err = e.Leaderboard(ctx, testSKU, "US", 80)
	require.NoError(t, err)
	assert.Equal(t, 1, lb.MatchCount)
	assert.Equal(t, b.OfferID, lb.Entries[0].Offer.ID)

	shopA, err := st.EnsureMerchant(ctx, "Shop A")
	require.NoError(t, err)
	require.NoError(t, st.SetMerchantBlacklisted(ctx, shopA.ID, true))

	lb, err = e.Leaderboard(ctx, testSKU, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, lb.MatchCount)
	assert.Equal(t, b.OfferID, lb.Entries[0].Offer.ID)
}

func TestLeaderboard_EmptyAndStale(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	lb, err := e.Leaderboard(ctx, testSKU, "US", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, lb.MatchCount)
	assert.Empty(t, lb.Entries)

	_, err = e.PromoteOrMerge(ctx, bufferRaw(t, st, "pid:1", "Shop A", 999, t0), testSKU, 1.0)
	require.NoError(t, err)

	e.cfg.Freshness = 30 * time.Minute
	lb, err = e.Leaderboard(ctx, testSKU, "US", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, lb.MatchCount)

	e.cfg.Freshness = 2 * time.Hour
	lb, err = e.Leaderboard(ctx, testSKU, "US", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, lb.MatchCount)
}
