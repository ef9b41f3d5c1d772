// Package reconcile re-decides buffered listings against the current catalog
// and dictionaries and promotes the ones that now resolve. It never calls the
// search provider.
package reconcile

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/classifier"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/ranking"
	"github.com/sells-group/skuboard/internal/resolve"
	"github.com/sells-group/skuboard/internal/store"
)

// ErrNeedsCountry is returned when an identity key is given without the
// country it is scoped to.
var ErrNeedsCountry = eris.New("reconcile: identity key needs a country")

const (
	DefaultLimit = 200
	MaxLimit     = 5000
	sampleLimit  = 25
)

// Store is the slice of the store reconciliation reads and writes.
type Store interface {
	ListUnresolvedRawOffers(ctx context.Context, filter store.RawOfferFilter) ([]model.RawOffer, error)
	GetRawOffer(ctx context.Context, id int64) (*model.RawOffer, error)
	GetRawOfferByIdentity(ctx context.Context, source, country, identityKey string) (*model.RawOffer, error)
	UpdateRawOfferMatch(ctx context.Context, id int64, m store.MatchUpdate) error
}

// Promoter moves a resolved listing into the canonical offers.
type Promoter interface {
	PromoteOrMerge(ctx context.Context, raw model.RawOffer, skuKey string, confidence float64) (ranking.Promotion, error)
}

// Resolvers hands out the current decision pipeline.
type Resolvers interface {
	Resolver(ctx context.Context) (*resolve.Resolver, error)
}

// Config bounds classifier use per run.
type Config struct {
	ClassifierMaxCalls int
	ClassifierFraction float64
}

// Scope selects what a run covers. DryRun defaults to true when unset.
// AfterID resumes a scan after a previous run's NextAfterID.
type Scope struct {
	Limit   int    `json:"limit"`
	Country string `json:"country_code"`
	DryRun  *bool  `json:"dry_run"`
	AfterID int64  `json:"after_id"`
}

// IsDryRun reports whether the run must leave storage untouched.
func (s Scope) IsDryRun() bool {
	return s.DryRun == nil || *s.DryRun
}

// Sample is one decision reported back for inspection.
type Sample struct {
	RawOfferID int64    `json:"raw_offer_id"`
	Title      string   `json:"title"`
	SKUKey     string   `json:"sku_key,omitempty"`
	Reasons    []string `json:"reasons"`
	Action     string   `json:"action"`
}

// Stats summarizes a run. In a dry run Promoted counts listings that would
// be promoted.
type Stats struct {
	DryRun     bool           `json:"dry_run"`
	Scanned    int            `json:"scanned"`
	Eligible   int            `json:"eligible"`
	Promoted   int            `json:"promoted"`
	Created    int            `json:"created"`
	Merged     int            `json:"merged"`
	Changed    int            `json:"changed"`
	Errors     int            `json:"errors"`
	Skipped    map[string]int `json:"skipped_reasons"`
	Classifier struct {
		Calls           int     `json:"calls"`
		Fraction        float64 `json:"fraction"`
		Limit           int     `json:"limit"`
		BudgetExhausted bool    `json:"budget_exhausted"`
	} `json:"classifier"`
	Samples []Sample `json:"samples"`

	// NextAfterID is the cursor for the next batch: the last id scanned when
	// the batch was full, 0 once the scan reached the end of the buffer.
	NextAfterID int64 `json:"next_after_id"`
}

func (s *Stats) sample(x Sample) {
	if len(s.Samples) < sampleLimit {
		s.Samples = append(s.Samples, x)
	}
}

// Engine runs reconciliation.
type Engine struct {
	store     Store
	resolvers Resolvers
	promoter  Promoter
	cfg       Config
	log       *zap.Logger
}

// New creates a reconciliation engine.
func New(st Store, resolvers Resolvers, promoter Promoter, cfg Config) *Engine {
	return &Engine{
		store:     st,
		resolvers: resolvers,
		promoter:  promoter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "reconcile")),
	}
}

// Reconcile scans unresolved listings in id order, starting after
// scope.AfterID. Listing-level failures
// are counted; storage failures while scanning abort the run.
func (e *Engine) Reconcile(ctx context.Context, scope Scope) (Stats, error) {
	stats := Stats{DryRun: scope.IsDryRun(), Skipped: map[string]int{}, Samples: []Sample{}}
	limit := scope.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	r, err := e.resolvers.Resolver(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "reconcile: load resolver")
	}
	raws, err := e.store.ListUnresolvedRawOffers(ctx, store.RawOfferFilter{
		Country: strings.ToUpper(strings.TrimSpace(scope.Country)),
		Limit:   limit,
		AfterID: scope.AfterID,
	})
	if err != nil {
		return stats, eris.Wrap(err, "reconcile: list raw offers")
	}
	if len(raws) == limit {
		stats.NextAfterID = raws[len(raws)-1].ID
	}

	budget := classifier.NewBudget(e.cfg.ClassifierMaxCalls, e.cfg.ClassifierFraction, len(raws))
	for i := range raws {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "reconcile: cancelled")
		}
		stats.Scanned++
		if err := e.reconcileOne(ctx, r, budget, &raws[i], &stats); err != nil {
			stats.Errors++
			e.log.Warn("reconcile: listing failed", zap.Int64("raw_offer_id", raws[i].ID), zap.Error(err))
		}
	}

	stats.Classifier.Calls = budget.Used()
	stats.Classifier.Limit = budget.Limit()
	stats.Classifier.BudgetExhausted = budget.Exhausted()
	if stats.Eligible > 0 {
		stats.Classifier.Fraction = float64(stats.Classifier.Calls) / float64(stats.Eligible)
	}
	e.log.Info("reconcile: run complete",
		zap.Bool("dry_run", stats.DryRun),
		zap.Int("scanned", stats.Scanned),
		zap.Int("promoted", stats.Promoted),
		zap.Int("classifier_calls", stats.Classifier.Calls),
		zap.Bool("budget_exhausted", stats.Classifier.BudgetExhausted),
	)
	return stats, nil
}

func (e *Engine) reconcileOne(ctx context.Context, r *resolve.Resolver, budget *classifier.Budget, raw *model.RawOffer, stats *Stats) error {
	d := r.Decide(ctx, inputFor(r, raw), budget)
	if !d.Extraction.Flags.Excluded() {
		stats.Eligible++
	}
	if changed(raw, d) {
		stats.Changed++
	}
	smp := Sample{RawOfferID: raw.ID, Title: raw.Title, SKUKey: d.SKUKey, Reasons: d.Reasons}

	if !stats.DryRun {
		err := e.store.UpdateRawOfferMatch(ctx, raw.ID, store.MatchUpdate{
			Attrs:          d.Extraction.Attrs,
			ExtractedFlags: d.Extraction.Flags,
			Flags:          d.Flags,
			SKUKey:         d.SKUKey,
			Confidence:     d.ConfidencePtr(),
			Reasons:        d.Reasons,
		})
		if err != nil {
			return eris.Wrap(err, "record decision")
		}
	}

	if !d.Promotable {
		for _, reason := range d.Reasons {
			stats.Skipped[reason]++
		}
		smp.Action = "skipped"
		stats.sample(smp)
		return nil
	}
	if stats.DryRun {
		stats.Promoted++
		smp.Action = "would_promote"
		stats.sample(smp)
		return nil
	}

	raw.Flags = d.Flags
	raw.Attrs = d.Extraction.Attrs
	p, err := e.promoter.PromoteOrMerge(ctx, *raw, d.SKUKey, d.Confidence)
	switch {
	case errors.Is(err, ranking.ErrFXUnavailable):
		stats.Skipped[model.ReasonFXUnavailable]++
		smp.Action = "skipped"
		smp.Reasons = append(smp.Reasons, model.ReasonFXUnavailable)
		stats.sample(smp)
		return nil
	case err != nil:
		return eris.Wrap(err, "promote")
	}
	stats.Promoted++
	if p.Created {
		stats.Created++
		smp.Action = "created"
	} else {
		stats.Merged++
		smp.Action = "merged"
	}
	stats.sample(smp)
	return nil
}

// changed reports whether a decision differs from the stored one.
func changed(raw *model.RawOffer, d resolve.Decision) bool {
	if raw.MatchedSKUKey != d.SKUKey || raw.Flags != d.Flags {
		return true
	}
	if len(raw.ReasonCodes) != len(d.Reasons) {
		return true
	}
	for i := range d.Reasons {
		if raw.ReasonCodes[i] != d.Reasons[i] {
			return true
		}
	}
	return false
}

func inputFor(r *resolve.Resolver, raw *model.RawOffer) resolve.Input {
	queryModel := ""
	if raw.Query != "" {
		queryModel = r.Extract(resolve.Input{Title: raw.Query}).Attrs.Model
	}
	return resolve.Input{
		Title:         raw.Title,
		ConditionHint: raw.ConditionHint,
		Country:       raw.Country,
		Link:          raw.Link,
		Merchant:      raw.Merchant,
		QueryModel:    queryModel,
	}
}

// Explanation is the explain view of one buffered listing: its stored state
// and a fresh deterministic pass under the current catalog.
type Explanation struct {
	RawOffer model.RawOffer      `json:"raw_offer"`
	Current  resolve.Explanation `json:"current"`
}

// Explain looks a raw offer up by numeric id, or by identity key within
// country, and explains it. It never calls the classifier.
func (e *Engine) Explain(ctx context.Context, ref, country string) (*Explanation, error) {
	raw, err := e.lookup(ctx, strings.TrimSpace(ref), country)
	if err != nil {
		return nil, err
	}
	r, err := e.resolvers.Resolver(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: load resolver")
	}
	return &Explanation{RawOffer: *raw, Current: r.Explain(ctx, inputFor(r, raw))}, nil
}

func (e *Engine) lookup(ctx context.Context, ref, country string) (*model.RawOffer, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		raw, err := e.store.GetRawOffer(ctx, id)
		return raw, eris.Wrapf(err, "reconcile: raw offer %d", id)
	}
	if country == "" {
		return nil, eris.Wrapf(ErrNeedsCountry, "reconcile: identity %q", ref)
	}
	raw, err := e.store.GetRawOfferByIdentity(ctx, model.SourceGoogleShopping, country, ref)
	return raw, eris.Wrapf(err, "reconcile: raw offer %s/%s", strings.ToUpper(country), ref)
}
