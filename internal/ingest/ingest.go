// Package ingest drives one (SKU, market) ingestion unit end to end: search,
// extract, buffer, decide and promote. Every usable listing is buffered
// whether or not it resolves, so paid results are never thrown away.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/skuboard/internal/cache"
	"github.com/sells-group/skuboard/internal/classifier"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/ranking"
	"github.com/sells-group/skuboard/internal/resilience"
	"github.com/sells-group/skuboard/internal/resolve"
	"github.com/sells-group/skuboard/internal/skukey"
	"github.com/sells-group/skuboard/internal/store"
	"github.com/sells-group/skuboard/pkg/serpapi"
)

var (
	// ErrUnknownMarket is returned for a country outside the market table.
	ErrUnknownMarket = eris.New("ingest: unknown market")
	// ErrUnknownSKU is returned for a SKU key missing from the catalog.
	ErrUnknownSKU = eris.New("ingest: unknown sku")
	// ErrSearchInFlight is returned when another worker holds the search
	// lease and its result did not land in time.
	ErrSearchInFlight = eris.New("ingest: search in flight")
)

// Store is the slice of the store ingestion writes to.
type Store interface {
	UpsertRawOffer(ctx context.Context, raw model.RawOffer) (*model.RawOffer, store.UpsertOutcome, error)
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

// Config controls ingestion.
type Config struct {
	// Concurrency bounds parallel units in IngestMany.
	Concurrency    int
	SearchCacheTTL time.Duration
	LockTTL        time.Duration
	// LockWait is how long a unit waits for another worker's search.
	LockWait           time.Duration
	ClassifierMaxCalls int
	ClassifierFraction float64
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SearchCacheTTL <= 0 {
		c.SearchCacheTTL = time.Hour
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 60 * time.Second
	}
	if c.LockWait <= 0 {
		c.LockWait = 10 * time.Second
	}
	return c
}

// Request is one ingestion unit.
type Request struct {
	SKUKey  string `json:"sku_key"`
	Country string `json:"country_code"`
	// MinConfidence overrides the promotion threshold for this unit.
	MinConfidence *float64 `json:"min_confidence,omitempty"`
}

// Stats summarizes a unit.
type Stats struct {
	SKUKey          string         `json:"sku_key"`
	Country         string         `json:"country_code"`
	Query           string         `json:"query"`
	CachedSearch    bool           `json:"cached_search"`
	Fetched         int            `json:"fetched"`
	Buffered        int            `json:"buffered"`
	NewRaw          int            `json:"new_raw"`
	Stale           int            `json:"stale"`
	Dropped         int            `json:"dropped"`
	Decided         int            `json:"decided"`
	Excluded        int            `json:"excluded"`
	Unresolved      int            `json:"unresolved"`
	Promoted        int            `json:"promoted"`
	Merged          int            `json:"merged"`
	Errors          int            `json:"errors"`
	ClassifierCalls int            `json:"classifier_calls"`
	BudgetExhausted bool           `json:"budget_exhausted"`
	Reasons         map[string]int `json:"reasons"`
}

func (s *Stats) count(reasons ...string) {
	for _, r := range reasons {
		s.Reasons[r]++
	}
}

// Result pairs a unit with its outcome for IngestMany.
type Result struct {
	Request Request `json:"request"`
	Stats   Stats   `json:"stats"`
	Error   string  `json:"error,omitempty"`
}

// Orchestrator runs ingestion units.
type Orchestrator struct {
	store     Store
	resolvers Resolvers
	promoter  Promoter
	search    serpapi.Client
	cache     cache.Cache
	guard     *resilience.Guard
	cfg       Config
	now       func() time.Time
	log       *zap.Logger
}

// New creates an orchestrator.
func New(st Store, resolvers Resolvers, promoter Promoter, search serpapi.Client, c cache.Cache, guard *resilience.Guard, cfg Config) *Orchestrator {
	if c == nil {
		c = cache.Nop{}
	}
	if guard == nil {
		guard = resilience.NewGuard("serpapi", resilience.GuardConfig{Timeout: 30 * time.Second})
	}
	return &Orchestrator{
		store:     st,
		resolvers: resolvers,
		promoter:  promoter,
		search:    search,
		cache:     c,
		guard:     guard,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "ingest")),
	}
}

// Ingest runs one unit. Listing-level failures are counted and never abort
// the unit; a failed search or an unusable request does.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (Stats, error) {
	market, ok := model.LookupMarket(req.Country)
	stats := Stats{SKUKey: req.SKUKey, Country: strings.ToUpper(req.Country), Reasons: map[string]int{}}
	if !ok {
		return stats, eris.Wrapf(ErrUnknownMarket, "%q", req.Country)
	}
	stats.Country = market.Code

	r, err := o.resolvers.Resolver(ctx)
	if err != nil {
		return stats, eris.Wrap(err, "ingest: load resolver")
	}
	if req.MinConfidence != nil {
		r = r.WithMinConfidence(*req.MinConfidence)
	}
	if !r.Catalog().Has(req.SKUKey) {
		return stats, eris.Wrapf(ErrUnknownSKU, "%q", req.SKUKey)
	}

	stats.Query = skukey.SearchQuery(req.SKUKey)
	log := o.log.With(
		zap.String("sku_key", req.SKUKey),
		zap.String("country", market.Code),
		zap.String("query", stats.Query),
	)

	results, cached, err := o.searchCached(ctx, stats.Query, market)
	if err != nil {
		return stats, eris.Wrap(err, "ingest: search")
	}
	stats.CachedSearch = cached
	stats.Fetched = len(results)

	budget := classifier.NewBudget(o.cfg.ClassifierMaxCalls, o.cfg.ClassifierFraction, len(results))
	queryModel := skukey.ModelOf(req.SKUKey)
	seenAt := o.now().UTC()
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "ingest: cancelled")
		}
		if err := o.processListing(ctx, r, budget, market, stats.Query, queryModel, res, seenAt, &stats); err != nil {
			stats.Errors++
			log.Warn("ingest: listing failed", zap.String("product_id", res.ProductID), zap.Error(err))
		}
	}
	stats.ClassifierCalls = budget.Used()
	stats.BudgetExhausted = budget.Exhausted()

	log.Info("ingest: unit complete",
		zap.Int("fetched", stats.Fetched),
		zap.Int("buffered", stats.Buffered),
		zap.Int("promoted", stats.Promoted),
		zap.Int("merged", stats.Merged),
		zap.Int("errors", stats.Errors),
		zap.Bool("cached_search", stats.CachedSearch),
	)
	return stats, nil
}

func (o *Orchestrator) processListing(
	ctx context.Context,
	r *resolve.Resolver,
	budget *classifier.Budget,
	market model.Market,
	query, queryModel string,
	res serpapi.ShoppingResult,
	seenAt time.Time,
	stats *Stats,
) error {
	raw, reason := toRawOffer(res, market, query, seenAt)
	if reason != "" {
		stats.Dropped++
		stats.count(reason)
		return nil
	}

	in := resolve.Input{
		Title:         raw.Title,
		ConditionHint: raw.ConditionHint,
		Country:       raw.Country,
		Link:          raw.Link,
		Merchant:      raw.Merchant,
		QueryModel:    queryModel,
	}
	ex := r.Extract(in)
	raw.Attrs, raw.Flags = ex.Attrs, ex.Flags

	stored, outcome, err := o.store.UpsertRawOffer(ctx, raw)
	if err != nil {
		return eris.Wrap(err, "buffer listing")
	}
	stats.Buffered++
	if outcome.Created {
		stats.NewRaw++
	}
	if outcome.Stale {
		stats.Stale++
		return nil
	}

	skuKey, confidence, promotable := storedDecision(stored, r.MinConfidence())
	if outcome.NeedsDecision(stored) {
		d := r.Decide(ctx, in, budget)
		stats.Decided++
		stats.count(d.Reasons...)
		err := o.store.UpdateRawOfferMatch(ctx, stored.ID, store.MatchUpdate{
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
		stored.Flags = d.Flags
		stored.MatchedSKUKey = d.SKUKey
		stored.MatchConfidence = d.ConfidencePtr()
		stored.ReasonCodes = d.Reasons
		skuKey, confidence, promotable = d.SKUKey, d.Confidence, d.Promotable
	}

	switch {
	case stored.Flags.Excluded():
		stats.Excluded++
		return nil
	case !promotable:
		stats.Unresolved++
		return nil
	}

	p, err := o.promoter.PromoteOrMerge(ctx, *stored, skuKey, confidence)
	switch {
	case errors.Is(err, ranking.ErrFXUnavailable):
		stats.Unresolved++
		stats.count(model.ReasonFXUnavailable)
		return nil
	case err != nil:
		return eris.Wrap(err, "promote")
	case p.Created:
		stats.Promoted++
	default:
		stats.Merged++
	}
	return nil
}

// storedDecision reports the existing decision of a re-sighted listing.
func storedDecision(raw *model.RawOffer, minConfidence float64) (string, float64, bool) {
	if raw.MatchedSKUKey == "" || raw.MatchConfidence == nil || raw.Flags.Excluded() {
		return "", 0, false
	}
	c := *raw.MatchConfidence
	return raw.MatchedSKUKey, c, c >= minConfidence
}

// toRawOffer maps a search result to a buffer row. It returns a reason code
// when the result cannot be buffered.
func toRawOffer(res serpapi.ShoppingResult, market model.Market, query string, seenAt time.Time) (model.RawOffer, string) {
	title := strings.TrimSpace(res.Title)
	if title == "" {
		return model.RawOffer{}, model.ReasonMissingTitle
	}
	if res.Price <= 0 {
		return model.RawOffer{}, model.ReasonInvalidPrice
	}
	identity := model.IdentityKey(res.ProductID, res.Link)
	if identity == "" {
		return model.RawOffer{}, model.ReasonMissingIdentity
	}
	currency := strings.ToUpper(strings.TrimSpace(res.Currency))
	if currency == "" {
		currency = market.Currency
	}
	merchant := strings.TrimSpace(res.Merchant)
	if merchant == "" {
		merchant = "unknown"
	}
	return model.RawOffer{
		Source:         model.SourceGoogleShopping,
		Country:        market.Code,
		IdentityKey:    identity,
		ProductID:      strings.TrimSpace(res.ProductID),
		URLHash:        model.URLHash(res.Link),
		Link:           strings.TrimSpace(res.Link),
		Query:          query,
		Title:          title,
		Price:          res.Price,
		Currency:       currency,
		Merchant:       merchant,
		ImmersiveToken: res.ImmersiveToken,
		ConditionHint:  res.Condition,
		Delivery:       res.Delivery,
		Availability:   model.ParseAvailability(res.Delivery),
		LastSeenAt:     seenAt,
	}, ""
}

// searchCached returns the shopping results for query in market, sharing a
// paid search between concurrent units through a cache lease.
func (o *Orchestrator) searchCached(ctx context.Context, query string, market model.Market) ([]serpapi.ShoppingResult, bool, error) {
	key := searchKey(query, market)
	if res, ok := o.cachedSearch(ctx, key); ok {
		return res, true, nil
	}

	token, ok, err := o.cache.AcquireLease(ctx, cache.LeaseKey(key), o.cfg.LockTTL)
	switch {
	case err != nil:
		o.log.Warn("ingest: search lease failed, proceeding", zap.Error(err))
	case !ok:
		return o.awaitSearch(ctx, key)
	default:
		defer func() {
			if err := o.cache.ReleaseLease(context.WithoutCancel(ctx), cache.LeaseKey(key), token); err != nil {
				o.log.Debug("ingest: release search lease", zap.Error(err))
			}
		}()
		if res, ok := o.cachedSearch(ctx, key); ok {
			return res, true, nil
		}
	}

	res, err := resilience.Call(ctx, o.guard, func(ctx context.Context) ([]serpapi.ShoppingResult, error) {
		return o.search.Shopping(ctx, serpapi.ShoppingRequest{Query: query, GL: market.GL, HL: market.HL})
	})
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		res = []serpapi.ShoppingResult{}
	}
	if err := cache.SetJSON(ctx, o.cache, key, res, o.cfg.SearchCacheTTL); err != nil {
		o.log.Warn("ingest: search cache write failed", zap.Error(err))
	}
	return res, false, nil
}

// awaitSearch polls for the result of a search another worker is running.
func (o *Orchestrator) awaitSearch(ctx context.Context, key string) ([]serpapi.ShoppingResult, bool, error) {
	deadline := time.NewTimer(o.cfg.LockWait)
	defer deadline.Stop()
	tick := time.NewTicker(o.cfg.LockWait / 20)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			return nil, false, ErrSearchInFlight
		case <-tick.C:
			if res, ok := o.cachedSearch(ctx, key); ok {
				return res, true, nil
			}
		}
	}
}

func (o *Orchestrator) cachedSearch(ctx context.Context, key string) ([]serpapi.ShoppingResult, bool) {
	var res []serpapi.ShoppingResult
	ok, err := cache.GetJSON(ctx, o.cache, key, &res)
	if err != nil {
		o.log.Warn("ingest: search cache read failed", zap.Error(err))
		return nil, false
	}
	return res, ok
}

func searchKey(query string, market model.Market) string {
	sum := sha256.Sum256([]byte(strings.ToLower(query) + "|" + market.GL + "|" + market.HL))
	return "search:" + hex.EncodeToString(sum[:16])
}

// IngestMany runs units concurrently. A failed unit is reported in its
// Result and does not stop the others.
func (o *Orchestrator) IngestMany(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			stats, err := o.Ingest(gctx, req)
			results[i] = Result{Request: req, Stats: stats}
			if err != nil {
				results[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
