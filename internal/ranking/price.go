package ranking

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/skuboard/internal/model"
)

// Price flags recorded on offers whose effective price used a default.
const (
	FlagUnknownShipping = "unknown_shipping"
	FlagUnknownRefund   = "unknown_refund"
)

// PricingConfig holds the per-market pricing adjustments.
type PricingConfig struct {
	// TaxRefundRates is the fraction of the listed price a visitor can
	// reclaim, per country code. A present zero means no refund applies.
	TaxRefundRates map[string]float64
	// KnownCreditsUSD and KnownFeesUSD are flat per-listing adjustments per
	// country code, such as a card-issuer credit or an import fee. Absent
	// countries contribute zero.
	KnownCreditsUSD map[string]float64
	KnownFeesUSD    map[string]float64
}

// Pricing is the USD breakdown of one listing.
type Pricing struct {
	PriceUSD     float64
	FXRate       float64
	ShippingUSD  float64
	TaxRefundUSD float64
	CreditsUSD   float64
	FeesUSD      float64
	EffectiveUSD float64
	Flags        []string
}

var freeShippingPhrases = []string{
	"free delivery", "free shipping", "free 2-day", "free next-day",
	"送料無料", "kostenloser versand", "kostenlose lieferung", "livraison gratuite",
	"무료배송", "무료 배송", "免運", "免运费", "免費送貨", "توصيل مجاني",
}

var shippingAmount = regexp.MustCompile(
	`(?:(?:us|hk|s|a|c)?\$|€|£|¥|₩|aed\s?|د\.إ\s?)\s?(\d[\d,]*(?:\.\d+)?)|(\d[\d,]*(?:\.\d+)?)\s?(?:円|€|원|yen|aed)`)

// ParseShipping reads a shipping cost in listing currency from a delivery
// snippet. known is false when nothing usable was found.
func ParseShipping(delivery string) (amount float64, known bool) {
	s := strings.ToLower(strings.TrimSpace(delivery))
	if s == "" {
		return 0, false
	}
	for _, p := range freeShippingPhrases {
		if strings.Contains(s, p) {
			return 0, true
		}
	}
	m := shippingAmount.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	v, err := parseAmount(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseAmount reads "1,299.00", "4,99" or "1.299,00". A comma followed by
// exactly two trailing digits is a decimal separator.
func parseAmount(s string) (float64, error) {
	if i := strings.LastIndexByte(s, ','); i >= 0 && len(s)-i == 3 && !strings.Contains(s[i:], ".") {
		s = strings.ReplaceAll(s[:i], ".", "") + "." + s[i+1:]
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

// ComputePrice converts a listing price with rate (currency units per USD)
// and applies shipping, tax refund, known credits and known fees. Unknown
// shipping and refund count as zero and are flagged.
func ComputePrice(price, rate float64, delivery, country string, cfg PricingConfig) Pricing {
	p := Pricing{FXRate: rate}
	if rate <= 0 {
		rate = 1
		p.FXRate = 1
	}
	p.PriceUSD = round2(price / rate)

	if amount, ok := ParseShipping(delivery); ok {
		p.ShippingUSD = round2(amount / rate)
	} else {
		p.Flags = append(p.Flags, FlagUnknownShipping)
	}

	if r, ok := cfg.TaxRefundRates[strings.ToUpper(country)]; ok {
		p.TaxRefundUSD = round2(p.PriceUSD * r)
	} else {
		p.Flags = append(p.Flags, FlagUnknownRefund)
	}

	cc := strings.ToUpper(country)
	p.CreditsUSD = round2(cfg.KnownCreditsUSD[cc])
	p.FeesUSD = round2(cfg.KnownFeesUSD[cc])

	p.EffectiveUSD = round2(p.PriceUSD + p.ShippingUSD - p.TaxRefundUSD - p.CreditsUSD + p.FeesUSD)
	return p
}

// applyPricing copies a breakdown onto an offer.
func applyPricing(o *model.Offer, p Pricing) {
	o.PriceUSD = p.PriceUSD
	o.FXRate = p.FXRate
	o.ShippingUSD = p.ShippingUSD
	o.TaxRefundUSD = p.TaxRefundUSD
	o.EffectivePriceUSD = p.EffectiveUSD
	o.PriceFlags = p.Flags
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
