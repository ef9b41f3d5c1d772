// Package refresh runs the scheduled ingestion cycle: one search per
// catalogue query and market, followed by a reconciliation batch.
package refresh

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/skuboard/internal/ingest"
	"github.com/sells-group/skuboard/internal/merchants"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/reconcile"
	"github.com/sells-group/skuboard/internal/skukey"
)

// Catalog lists the Golden SKUs to search for.
type Catalog interface {
	ListGoldenSkus(ctx context.Context) ([]model.GoldenSku, error)
}

// Ingester runs ingestion units concurrently.
type Ingester interface {
	IngestMany(ctx context.Context, reqs []ingest.Request) ([]ingest.Result, error)
}

// Reconciler re-decides a batch of buffered listings.
type Reconciler interface {
	Reconcile(ctx context.Context, scope reconcile.Scope) (reconcile.Stats, error)
}

// Reputation refreshes merchant ratings. Optional.
type Reputation interface {
	Refresh(ctx context.Context) (merchants.Stats, error)
}

// Config controls the cycle.
type Config struct {
	Interval       time.Duration
	Countries      []string
	ReconcileBatch int
}

// Summary reports one cycle.
type Summary struct {
	Units      int              `json:"units"`
	Failed     int              `json:"failed"`
	Promoted   int              `json:"promoted"`
	Merged     int              `json:"merged"`
	Reconcile  reconcile.Stats  `json:"reconcile"`
	Reputation *merchants.Stats `json:"reputation,omitempty"`
}

// Scheduler runs the cycle on a ticker.
type Scheduler struct {
	catalog    Catalog
	ingester   Ingester
	reconciler Reconciler
	reputation Reputation
	cfg        Config
	log        *zap.Logger

	// cursor carries the reconcile scan position across cycles so
	// permanently unresolved listings do not pin every batch to the oldest
	// rows.
	mu     sync.Mutex
	cursor int64
}

// New creates a scheduler. reputation may be nil.
func New(catalog Catalog, ingester Ingester, reconciler Reconciler, reputation Reputation, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.ReconcileBatch <= 0 {
		cfg.ReconcileBatch = reconcile.DefaultLimit
	}
	return &Scheduler{
		catalog:    catalog,
		ingester:   ingester,
		reconciler: reconciler,
		reputation: reputation,
		cfg:        cfg,
		log:        zap.L().With(zap.String("component", "refresh")),
	}
}

// Run starts the periodic loop. It blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("starting scheduled refresh",
		zap.Duration("interval", s.cfg.Interval),
		zap.Strings("countries", s.cfg.Countries),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduled refresh stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("refresh: cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce ingests every catalogue query in every configured country, then
// reconciles one batch for real. Failed units are counted, not fatal.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	reqs, err := s.requests(ctx)
	if err != nil {
		return sum, err
	}
	sum.Units = len(reqs)

	results, err := s.ingester.IngestMany(ctx, reqs)
	for _, r := range results {
		if r.Error != "" {
			sum.Failed++
			s.log.Warn("refresh: unit failed",
				zap.String("sku_key", r.Request.SKUKey),
				zap.String("country", r.Request.Country),
				zap.String("error", r.Error),
			)
			continue
		}
		sum.Promoted += r.Stats.Promoted
		sum.Merged += r.Stats.Merged
	}
	if err != nil {
		return sum, eris.Wrap(err, "refresh: ingest")
	}

	apply := false
	s.mu.Lock()
	after := s.cursor
	s.mu.Unlock()
	sum.Reconcile, err = s.reconciler.Reconcile(ctx, reconcile.Scope{
		Limit:   s.cfg.ReconcileBatch,
		DryRun:  &apply,
		AfterID: after,
	})
	if err != nil {
		return sum, eris.Wrap(err, "refresh: reconcile")
	}
	s.mu.Lock()
	s.cursor = sum.Reconcile.NextAfterID
	s.mu.Unlock()

	if s.reputation != nil {
		rs, err := s.reputation.Refresh(ctx)
		if err != nil {
			s.log.Warn("refresh: merchant reputation failed", zap.Error(err))
		} else {
			sum.Reputation = &rs
		}
	}

	s.log.Info("refresh: cycle complete",
		zap.Int("units", sum.Units),
		zap.Int("failed", sum.Failed),
		zap.Int("promoted", sum.Promoted),
		zap.Int("reconciled", sum.Reconcile.Promoted),
	)
	return sum, nil
}

// requests builds one unit per distinct search query and country. The
// representative SKU is the lowest key sharing the query; ingestion
// promotes every catalogued sibling it matches.
func (s *Scheduler) requests(ctx context.Context) ([]ingest.Request, error) {
	skus, err := s.catalog.ListGoldenSkus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "refresh: list catalog")
	}
	byQuery := make(map[string]string)
	for _, g := range skus {
		q := strings.ToLower(skukey.SearchQuery(g.Key))
		if cur, ok := byQuery[q]; !ok || g.Key < cur {
			byQuery[q] = g.Key
		}
	}
	keys := make([]string, 0, len(byQuery))
	for _, k := range byQuery {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var reqs []ingest.Request
	for _, country := range s.cfg.Countries {
		m, ok := model.LookupMarket(country)
		if !ok {
			s.log.Warn("refresh: skipping unknown market", zap.String("country", country))
			continue
		}
		for _, k := range keys {
			reqs = append(reqs, ingest.Request{SKUKey: k, Country: m.Code})
		}
	}
	return reqs, nil
}
