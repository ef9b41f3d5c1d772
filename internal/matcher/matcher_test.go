package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/skuboard/internal/model"
)

func sku(modelKey, storage, color string, cond model.Condition) model.GoldenSku {
	return model.GoldenSku{Model: modelKey, Storage: storage, Color: color, Condition: cond}
}

func testCatalog() *Catalog {
	return NewCatalog([]model.GoldenSku{
		sku("iphone-16-pro", "256gb", "black", model.ConditionNew),
		sku("iphone-16-pro", "256gb", "white", model.ConditionNew),
		sku("iphone-16-pro", "512gb", "black", model.ConditionNew),
		sku("iphone-16-pro", "128gb", "desert", model.ConditionNew),
		sku("iphone-16-pro", "256gb", "black", model.ConditionUsed),
		sku("iphone-16", "128gb", "pink", model.ConditionNew),
		{Model: "iphone-16", Storage: "128gb", Color: "black", Condition: model.ConditionNew, LockState: "unlocked"},
	})
}

func attrs(m, storage, color string, cond model.Condition, conf model.Confidence) model.ExtractedAttrs {
	return model.ExtractedAttrs{Model: m, Storage: storage, Color: color, Condition: cond, Confidence: conf}
}

func TestNewCatalog(t *testing.T) {
	c := testCatalog()
	assert.Equal(t, 7, c.Len())
	assert.True(t, c.Has("iphone-16-pro-256gb-black-new"))
	assert.True(t, c.Has("iphone-16-128gb-black-new-unlocked"))
	assert.False(t, c.Has("iphone-16-128gb-black-new"))

	s, ok := c.Get("iphone-16-pro-256gb-black-used")
	require.True(t, ok)
	assert.Equal(t, model.ConditionUsed, s.Condition)

	fam := c.Family("iphone-16-pro", model.ConditionNew)
	require.Len(t, fam, 4)
	assert.Equal(t, "iphone-16-pro-128gb-desert-new", fam[0].Key)
	assert.Equal(t, []string{"iphone-16", "iphone-16-pro"}, c.Models())
}

func TestNewCatalog_SkipsIncompleteAndDuplicates(t *testing.T) {
	c := NewCatalog([]model.GoldenSku{
		sku("iphone-16", "128gb", "", model.ConditionNew),
		sku("iphone-16", "128gb", "pink", model.ConditionNew),
		sku("iphone-16", "128gb", "pink", model.ConditionNew),
	})
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []string{"iphone-16-128gb-pink-new"}, c.Keys())
}

func TestMatch_DeterministicHigh(t *testing.T) {
	res := Match(attrs("iphone-16-pro", "256gb", "black", model.ConditionNew, model.ConfidenceHigh), testCatalog())

	assert.Equal(t, Matched, res.Outcome)
	assert.Equal(t, "iphone-16-pro-256gb-black-new", res.SKUKey)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, []string{model.ReasonDeterministicMatch}, res.Reasons)
}

func TestMatch_HighNotInCatalog(t *testing.T) {
	res := Match(attrs("iphone-16-pro", "1tb", "black", model.ConditionNew, model.ConfidenceHigh), testCatalog())
	assert.Equal(t, NoMatch, res.Outcome)
	assert.Equal(t, []string{model.ReasonSKUNotInCatalog}, res.Reasons)
}

func TestMatch_VariantFolding(t *testing.T) {
	c := testCatalog()

	a := attrs("iphone-16-pro", "256gb", "black", model.ConditionNew, model.ConfidenceHigh)
	a.Variants = model.VariantFlags{Sim: "esim"}
	res := Match(a, c)
	assert.Equal(t, Matched, res.Outcome)
	assert.Equal(t, "iphone-16-pro-256gb-black-new", res.SKUKey)
	assert.Contains(t, res.Reasons, model.ReasonVariantFolded)
	assert.Less(t, res.Confidence, 1.0)

	a = attrs("iphone-16", "128gb", "black", model.ConditionNew, model.ConfidenceHigh)
	a.Variants = model.VariantFlags{Lock: "unlocked"}
	res = Match(a, c)
	assert.Equal(t, "iphone-16-128gb-black-new-unlocked", res.SKUKey)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestMatch_LowNeverDeterministic(t *testing.T) {
	c := testCatalog()
	cases := []model.ExtractedAttrs{
		attrs("iphone-16-pro", "256gb", "black", model.ConditionNew, model.ConfidenceLow),
		attrs("iphone-16-pro", "", "", model.ConditionNew, model.ConfidenceLow),
		attrs("", "256gb", "black", model.ConditionNew, model.ConfidenceLow),
	}
	for _, a := range cases {
		res := Match(a, c)
		assert.NotEqual(t, Matched, res.Outcome)
		assert.Zero(t, res.Confidence)
	}
	assert.Equal(t, []string{model.ReasonMissingModel}, Match(cases[2], c).Reasons)
	assert.Equal(t, []string{model.ReasonLowConfidence}, Match(cases[1], c).Reasons)
}

func TestMatch_MediumDominant(t *testing.T) {
	c := testCatalog()

	// Only one new 16 Pro in desert.
	res := Match(attrs("iphone-16-pro", "", "desert", model.ConditionNew, model.ConfidenceMedium), c)
	assert.Equal(t, Matched, res.Outcome)
	assert.Equal(t, "iphone-16-pro-128gb-desert-new", res.SKUKey)
	assert.Equal(t, ConfidenceDominant, res.Confidence)
	assert.Equal(t, []string{model.ReasonDominantMatch}, res.Reasons)

	// Only one used 16 Pro at all.
	res = Match(attrs("iphone-16-pro", "256gb", "", model.ConditionUsed, model.ConfidenceMedium), c)
	assert.Equal(t, "iphone-16-pro-256gb-black-used", res.SKUKey)
}

func TestMatch_MediumAmbiguous(t *testing.T) {
	res := Match(attrs("iphone-16-pro", "256gb", "", model.ConditionNew, model.ConfidenceMedium), testCatalog())

	assert.Equal(t, Ambiguous, res.Outcome)
	assert.Empty(t, res.SKUKey)
	assert.Equal(t, []string{"iphone-16-pro-256gb-black-new", "iphone-16-pro-256gb-white-new"}, res.Tied)
}

func TestMatch_MediumNoFamily(t *testing.T) {
	res := Match(attrs("iphone-17-air", "256gb", "", model.ConditionNew, model.ConfidenceMedium), testCatalog())
	assert.Equal(t, NoMatch, res.Outcome)
	assert.Equal(t, []string{model.ReasonSKUNotInCatalog}, res.Reasons)
}

func TestMatch_RoundTrip(t *testing.T) {
	c := testCatalog()
	for _, key := range c.Keys() {
		s, _ := c.Get(key)
		a := attrs(s.Model, s.Storage, s.Color, s.Condition, model.ConfidenceHigh)
		a.Variants = model.VariantFlags{Sim: s.SimVariant, Lock: s.LockState, Region: s.RegionVariant}
		res := Match(a, c)
		assert.Equal(t, key, res.SKUKey)
	}
}

func TestCandidates(t *testing.T) {
	c := testCatalog()

	got := Candidates(attrs("iphone-16-pro", "256gb", "", model.ConditionNew, model.ConfidenceLow), c, 10)
	assert.Equal(t, []string{"iphone-16-pro-256gb-black-new", "iphone-16-pro-256gb-white-new"}, got)

	got = Candidates(attrs("iphone-16-pro", "", "", model.ConditionNew, model.ConfidenceLow), c, 2)
	assert.Len(t, got, 2)

	// Contradicting storage widens back to the family.
	got = Candidates(attrs("iphone-16-pro", "1tb", "", model.ConditionNew, model.ConfidenceLow), c, 10)
	assert.Len(t, got, 4)

	// Unknown condition is treated as new.
	got = Candidates(attrs("iphone-16", "", "pink", "", model.ConfidenceLow), c, 10)
	assert.Equal(t, []string{"iphone-16-128gb-pink-new"}, got)

	assert.Nil(t, Candidates(attrs("", "256gb", "black", model.ConditionNew, model.ConfidenceLow), c, 10))
}
