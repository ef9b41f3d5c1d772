package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/skuboard/internal/model"
)

// Trust reason codes.
const (
	TrustTierPrefix    = "TIER_"
	TrustRatingBoost   = "RATING_BOOST"
	TrustRatingPenalty = "RATING_PENALTY"
	TrustPriceAnomaly  = "PRICE_ANOMALY"
	TrustNewListing    = "NEW_LISTING"
	TrustBlacklisted   = "BLACKLISTED"
	TrustClamped       = "CLAMPED"
)

const (
	minReviewsSignal    = 10
	ratingNeutral       = 4.0
	ratingPointsPerStar = 10.0
)

// TrustConfig parameterizes the trust score. Zero fields take defaults.
type TrustConfig struct {
	TierBase map[model.MerchantTier]int `mapstructure:"tier_base"`
	// ReviewPrior is the review count at which a rating carries half weight.
	ReviewPrior float64 `mapstructure:"review_prior"`
	// Price anomaly: a discount below the peer median starts costing points
	// at AnomalyThreshold and costs AnomalyMaxPenalty from AnomalySaturation.
	AnomalyThreshold  float64 `mapstructure:"anomaly_threshold"`
	AnomalySaturation float64 `mapstructure:"anomaly_saturation"`
	AnomalyMaxPenalty float64 `mapstructure:"anomaly_max_penalty"`
	AnomalyMinPeers   int     `mapstructure:"anomaly_min_peers"`

	NewListingPenalty       int `mapstructure:"new_listing_penalty"`
	MinCorroboratingSignals int `mapstructure:"min_corroborating_signals"`
	BlacklistFloor          int `mapstructure:"blacklist_floor"`
}

var defaultTierBase = map[model.MerchantTier]int{
	model.TierOfficial:    95,
	model.TierVerified:    85,
	model.TierMarketplace: 60,
	model.TierUnknown:     40,
}

// WithDefaults fills unset fields.
func (c TrustConfig) WithDefaults() TrustConfig {
	base := make(map[model.MerchantTier]int, len(defaultTierBase))
	for t, v := range defaultTierBase {
		base[t] = v
	}
	for t, v := range c.TierBase {
		base[t] = v
	}
	c.TierBase = base
	if c.ReviewPrior <= 0 {
		c.ReviewPrior = 50
	}
	if c.AnomalyThreshold <= 0 {
		c.AnomalyThreshold = 0.25
	}
	if c.AnomalySaturation <= c.AnomalyThreshold {
		c.AnomalySaturation = math.Max(0.6, c.AnomalyThreshold+0.1)
	}
	if c.AnomalyMaxPenalty <= 0 {
		c.AnomalyMaxPenalty = 30
	}
	if c.AnomalyMinPeers <= 0 {
		c.AnomalyMinPeers = 3
	}
	if c.NewListingPenalty <= 0 {
		c.NewListingPenalty = 10
	}
	if c.MinCorroboratingSignals <= 0 {
		c.MinCorroboratingSignals = 2
	}
	if c.BlacklistFloor < 0 {
		c.BlacklistFloor = 0
	}
	return c
}

var knownMerchants = map[string]model.MerchantTier{
	"apple":       model.TierOfficial,
	"apple store": model.TierOfficial,
	"bic camera":  model.TierVerified,
	"ビックカメラ":      model.TierVerified,
	"yodobashi":   model.TierVerified,
	"ヨドバシカメラ":     model.TierVerified,
	"mediamarkt":  model.TierVerified,
	"saturn":      model.TierVerified,
	"best buy":    model.TierVerified,
	"fortress":    model.TierVerified,
	"fortress hk": model.TierVerified,
	"sharaf dg":   model.TierVerified,
	"amazon":      model.TierMarketplace,
	"ebay":        model.TierMarketplace,
	"rakuten":     model.TierMarketplace,
	"楽天市場":        model.TierMarketplace,
	"back market": model.TierMarketplace,
	"backmarket":  model.TierMarketplace,
	"noon":        model.TierMarketplace,
	"coupang":     model.TierMarketplace,
	"walmart":     model.TierMarketplace,
}

var tierRank = map[model.MerchantTier]int{
	model.TierUnknown:     0,
	model.TierMarketplace: 1,
	model.TierVerified:    2,
	model.TierOfficial:    3,
}

// Tier classifies a merchant. Known names match exactly or as a leading word
// ("amazon.co.jp", "best buy - outlet"); the verified flag lifts a merchant
// to at least verified.
func Tier(m model.Merchant) model.MerchantTier {
	name := m.NormalizedName
	if name == "" {
		name = model.NormalizeMerchantName(m.Name)
	}
	tier := model.TierUnknown
	if t, ok := knownMerchants[name]; ok {
		tier = t
	} else {
		for k, t := range knownMerchants {
			if hasLeadingWord(name, k) && tierRank[t] > tierRank[tier] {
				tier = t
			}
		}
	}
	if m.Verified && tierRank[tier] < tierRank[model.TierVerified] {
		tier = model.TierVerified
	}
	return tier
}

func hasLeadingWord(name, word string) bool {
	if !strings.HasPrefix(name, word) || len(name) == len(word) {
		return false
	}
	switch name[len(word)] {
	case ' ', '.', '-', '(', ',':
		return true
	}
	return false
}

// TrustInput is everything the score depends on.
type TrustInput struct {
	Merchant          model.Merchant
	EffectivePriceUSD float64
	// PeerPrices are the effective prices of the other offers for the same
	// SKU and country.
	PeerPrices []float64
	SeenCount  int
}

// TrustScore is a 0-100 score with the reason codes that produced it.
type TrustScore struct {
	Score   int
	Reasons []string
}

// ScoreTrust computes the deterministic trust score.
func ScoreTrust(in TrustInput, cfg TrustConfig) TrustScore {
	tier := Tier(in.Merchant)
	reasons := []string{TrustTierPrefix + strings.ToUpper(string(tier))}

	if in.Merchant.Blacklisted {
		return TrustScore{Score: clampScore(cfg.BlacklistFloor), Reasons: append(reasons, TrustBlacklisted)}
	}

	score := float64(cfg.TierBase[tier])

	if in.Merchant.Rating != nil {
		reviews := float64(in.Merchant.Reviews())
		w := reviews / (reviews + cfg.ReviewPrior)
		adj := w * (*in.Merchant.Rating - ratingNeutral) * ratingPointsPerStar
		switch {
		case adj >= 0.5:
			reasons = append(reasons, TrustRatingBoost)
		case adj <= -0.5:
			reasons = append(reasons, TrustRatingPenalty)
		}
		score += adj
	}

	if p := anomalyPenalty(in.EffectivePriceUSD, in.PeerPrices, cfg); p > 0 {
		score -= p
		reasons = append(reasons, TrustPriceAnomaly)
	}

	if corroboratingSignals(in, tier) < cfg.MinCorroboratingSignals {
		score -= float64(cfg.NewListingPenalty)
		reasons = append(reasons, TrustNewListing)
	}

	rounded := int(math.Round(score))
	clamped := clampScore(rounded)
	if clamped != rounded {
		reasons = append(reasons, TrustClamped)
	}
	return TrustScore{Score: clamped, Reasons: reasons}
}

func corroboratingSignals(in TrustInput, tier model.MerchantTier) int {
	n := 0
	if in.Merchant.Rating != nil {
		n++
	}
	if in.Merchant.Reviews() >= minReviewsSignal {
		n++
	}
	if in.SeenCount > 1 {
		n++
	}
	if tierRank[tier] >= tierRank[model.TierVerified] {
		n++
	}
	return n
}

// anomalyPenalty is zero at or above the peer median and grows linearly with
// the discount between the threshold and the saturation point.
func anomalyPenalty(price float64, peers []float64, cfg TrustConfig) float64 {
	if len(peers) < cfg.AnomalyMinPeers || price <= 0 {
		return 0
	}
	med := median(peers)
	if med <= 0 || price >= med {
		return 0
	}
	dev := (med - price) / med
	if dev <= cfg.AnomalyThreshold {
		return 0
	}
	frac := math.Min(1, (dev-cfg.AnomalyThreshold)/(cfg.AnomalySaturation-cfg.AnomalyThreshold))
	return frac * cfg.AnomalyMaxPenalty
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func clampScore(x int) int {
	return max(0, min(100, x))
}
