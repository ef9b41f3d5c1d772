package ranking

import (
	"sort"
	"time"

	"github.com/sells-group/skuboard/internal/model"
)

// DefaultLimit caps a leaderboard.
const DefaultLimit = 10

var availabilityOrder = map[model.Availability]int{
	model.AvailabilityInStock:    0,
	model.AvailabilityLimited:    1,
	model.AvailabilityUnknown:    2,
	model.AvailabilityOutOfStock: 3,
}

func availabilityRank(a model.Availability) int {
	if r, ok := availabilityOrder[a]; ok {
		return r
	}
	return availabilityOrder[model.AvailabilityUnknown]
}

// Entry is one ranked offer.
type Entry struct {
	Rank     int            `json:"rank"`
	Offer    model.Offer    `json:"offer"`
	Merchant model.Merchant `json:"merchant"`
}

// Leaderboard is the top of a SKU's offers that passed the trust filter.
// MatchCount counts every passing offer, not only the returned ones.
type Leaderboard struct {
	Entries       []Entry   `json:"entries"`
	MatchCount    int       `json:"match_count"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Less is the leaderboard order: effective price, then trust (high first),
// availability, review count (high first), creation time and id.
func Less(a, b model.OfferView) bool {
	ao, bo := a.Offer, b.Offer
	if ao.EffectivePriceUSD != bo.EffectivePriceUSD {
		return ao.EffectivePriceUSD < bo.EffectivePriceUSD
	}
	if ao.TrustScore != bo.TrustScore {
		return ao.TrustScore > bo.TrustScore
	}
	if ra, rb := availabilityRank(ao.Availability), availabilityRank(bo.Availability); ra != rb {
		return ra < rb
	}
	if ra, rb := a.Merchant.Reviews(), b.Merchant.Reviews(); ra != rb {
		return ra > rb
	}
	if !ao.CreatedAt.Equal(bo.CreatedAt) {
		return ao.CreatedAt.Before(bo.CreatedAt)
	}
	return ao.ID < bo.ID
}

// Rank filters views by minTrust, drops blacklisted merchants, orders the
// rest and keeps the first limit.
func Rank(views []model.OfferView, minTrust, limit int) Leaderboard {
	if limit <= 0 {
		limit = DefaultLimit
	}
	passing := make([]model.OfferView, 0, len(views))
	for _, v := range views {
		if v.Merchant.Blacklisted || v.Offer.TrustScore < minTrust {
			continue
		}
		passing = append(passing, v)
	}
	sort.SliceStable(passing, func(i, j int) bool { return Less(passing[i], passing[j]) })

	lb := Leaderboard{MatchCount: len(passing), Entries: make([]Entry, 0, min(limit, len(passing)))}
	for i, v := range passing {
		if v.Offer.LastSeenAt.After(lb.LastUpdatedAt) {
			lb.LastUpdatedAt = v.Offer.LastSeenAt
		}
		if i < limit {
			lb.Entries = append(lb.Entries, Entry{Rank: i + 1, Offer: v.Offer, Merchant: v.Merchant})
		}
	}
	return lb
}
