// Package merchants refreshes merchant reputation signals from Google Places.
package merchants

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/pkg/google"
)

// Store is the merchant slice of the store.
type Store interface {
	ListMerchantsNeedingReputation(ctx context.Context, checkedBefore time.Time, limit int) ([]model.Merchant, error)
	UpdateMerchantReputation(ctx context.Context, id int64, rating *float64, reviews *int, checkedAt time.Time) error
}

// Config tunes a refresh run.
type Config struct {
	// MaxAge is how long a reputation lookup stays current.
	MaxAge            time.Duration
	BatchSize         int
	RequestsPerSecond float64
	// MinSimilarity is the word overlap a place name needs with the
	// merchant name to be accepted.
	MinSimilarity float64
}

func (c Config) withDefaults() Config {
	if c.MaxAge <= 0 {
		c.MaxAge = 30 * 24 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.5
	}
	return c
}

// Stats summarizes a refresh run.
type Stats struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	NoMatch int `json:"no_match"`
	Errors  int `json:"errors"`
}

// Refresher looks merchants up and records their rating and review count.
type Refresher struct {
	store   Store
	places  google.Client
	guard   *resilience.Guard
	limiter *rate.Limiter
	cfg     Config
	now     func() time.Time
	log     *zap.Logger
}

// New creates a refresher.
func New(st Store, places google.Client, guard *resilience.Guard, cfg Config) *Refresher {
	cfg = cfg.withDefaults()
	if guard == nil {
		guard = resilience.NewGuard("google_places", resilience.GuardConfig{Timeout: 15 * time.Second})
	}
	return &Refresher{
		store:   st,
		places:  places,
		guard:   guard,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cfg:     cfg,
		now:     time.Now,
		log:     zap.L().With(zap.String("component", "merchants")),
	}
}

// Refresh checks one batch of merchants whose reputation is missing or
// stale. Lookup failures leave the merchant due for the next run; a lookup
// with no matching place is still recorded as checked.
func (r *Refresher) Refresh(ctx context.Context) (Stats, error) {
	var stats Stats
	now := r.now()
	due, err := r.store.ListMerchantsNeedingReputation(ctx, now.Add(-r.cfg.MaxAge), r.cfg.BatchSize)
	if err != nil {
		return stats, eris.Wrap(err, "merchants: list due")
	}

	for _, m := range due {
		if err := r.limiter.Wait(ctx); err != nil {
			return stats, eris.Wrap(err, "merchants: rate limit")
		}
		stats.Checked++

		resp, err := resilience.Call(ctx, r.guard, func(ctx context.Context) (*google.TextSearchResponse, error) {
			return r.places.TextSearch(ctx, google.TextSearchRequest{TextQuery: m.Name, MaxResultCount: 5})
		})
		if err != nil {
			stats.Errors++
			r.log.Warn("places lookup failed", zap.String("merchant", m.Name), zap.Error(err))
			continue
		}

		var rating *float64
		var reviews *int
		if p, ok := bestPlace(m.Name, resp.Places, r.cfg.MinSimilarity); ok {
			rt, rc := p.Rating, p.UserRatingCount
			rating, reviews = &rt, &rc
		}
		if err := r.store.UpdateMerchantReputation(ctx, m.ID, rating, reviews, now); err != nil {
			stats.Errors++
			r.log.Warn("reputation update failed", zap.Int64("merchant_id", m.ID), zap.Error(err))
			continue
		}
		if rating == nil {
			stats.NoMatch++
		} else {
			stats.Updated++
		}
	}

	r.log.Info("reputation refresh complete",
		zap.Int("checked", stats.Checked),
		zap.Int("updated", stats.Updated),
		zap.Int("no_match", stats.NoMatch),
		zap.Int("errors", stats.Errors),
	)
	return stats, nil
}

// bestPlace picks the operational place whose name overlaps the merchant
// name most, ignoring places without any reviews.
func bestPlace(name string, places []google.Place, minSimilarity float64) (google.Place, bool) {
	var best google.Place
	bestScore := 0.0
	for _, p := range places {
		if !p.Operational() || p.UserRatingCount == 0 {
			continue
		}
		if s := nameSimilarity(name, p.DisplayName.Text); s >= minSimilarity && s > bestScore {
			best, bestScore = p, s
		}
	}
	return best, bestScore > 0
}

// nameSimilarity is the Jaccard overlap of the names' words.
func nameSimilarity(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if wb[w] {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]bool {
	words := strings.FieldsFunc(model.NormalizeMerchantName(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
