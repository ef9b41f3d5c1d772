package model

import (
	"strings"
	"time"
)

// Condition is the normalized product condition.
type Condition string

const (
	ConditionNew         Condition = "new"
	ConditionRefurbished Condition = "refurbished"
	ConditionUsed        Condition = "used"
)

// Valid reports whether c is one of the known conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionRefurbished, ConditionUsed:
		return true
	default:
		return false
	}
}

// GoldenSku is a canonical product configuration. Its Key is derived from
// the defining attributes and never changes once offers reference it.
type GoldenSku struct {
	Key               string    `json:"key"`
	Model             string    `json:"model"`
	Storage           string    `json:"storage"`
	Color             string    `json:"color"`
	Condition         Condition `json:"condition"`
	SimVariant        string    `json:"sim_variant,omitempty"`
	LockState         string    `json:"lock_state,omitempty"`
	RegionVariant     string    `json:"region_variant,omitempty"`
	DisplayName       string    `json:"display_name"`
	ReferencePriceUSD float64   `json:"reference_price_usd"`
	CreatedAt         time.Time `json:"created_at"`
}

// MerchantTier groups merchants by how much their storefront is trusted
// before any reputation signal is considered.
type MerchantTier string

const (
	TierOfficial    MerchantTier = "official"
	TierVerified    MerchantTier = "verified"
	TierMarketplace MerchantTier = "marketplace"
	TierUnknown     MerchantTier = "unknown"
)

// Merchant is a named seller with reputation signals.
type Merchant struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	NormalizedName      string     `json:"normalized_name"`
	Rating              *float64   `json:"rating,omitempty"`
	ReviewCount         *int       `json:"review_count,omitempty"`
	Verified            bool       `json:"verified"`
	Blacklisted         bool       `json:"blacklisted"`
	ReputationCheckedAt *time.Time `json:"reputation_checked_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Reviews returns the review count, or zero when unknown.
func (m *Merchant) Reviews() int {
	if m == nil || m.ReviewCount == nil {
		return 0
	}
	return *m.ReviewCount
}

// NormalizeMerchantName folds a merchant display name into the form used for
// identity and dedup comparisons.
func NormalizeMerchantName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
