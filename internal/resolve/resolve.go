// Package resolve runs the per-listing decision pipeline shared by ingestion
// and reconciliation: extract, match deterministically, and fall back to the
// classifier gateway when the listing qualifies.
package resolve

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/classifier"
	"github.com/sells-group/skuboard/internal/extract"
	"github.com/sells-group/skuboard/internal/matcher"
	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/skukey"
)

// CatalogSource is the read side of the catalog the resolver is built from.
type CatalogSource interface {
	ListGoldenSkus(ctx context.Context) ([]model.GoldenSku, error)
	ListPhrases(ctx context.Context) ([]model.Phrase, error)
}

// Resolver holds a point-in-time view of the catalog and phrase dictionary.
type Resolver struct {
	extractor     *extract.Extractor
	catalog       *matcher.Catalog
	gateway       *classifier.Gateway
	minConfidence float64
}

// New creates a resolver. A nil gateway disables the classifier fallback.
func New(ex *extract.Extractor, cat *matcher.Catalog, gw *classifier.Gateway, minConfidence float64) *Resolver {
	if gw == nil {
		gw = classifier.New(nil, nil, nil, classifier.Config{})
	}
	return &Resolver{extractor: ex, catalog: cat, gateway: gw, minConfidence: minConfidence}
}

// Load builds a resolver from the current catalog and admin phrases.
func Load(ctx context.Context, src CatalogSource, gw *classifier.Gateway, minConfidence float64) (*Resolver, error) {
	skus, err := src.ListGoldenSkus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: load catalog")
	}
	phrases, err := src.ListPhrases(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: load phrases")
	}
	return New(extract.New(phrases), matcher.NewCatalog(skus), gw, minConfidence), nil
}

// Catalog returns the catalog snapshot.
func (r *Resolver) Catalog() *matcher.Catalog {
	return r.catalog
}

// Gateway returns the classifier gateway.
func (r *Resolver) Gateway() *classifier.Gateway {
	return r.gateway
}

// MinConfidence is the promotion threshold.
func (r *Resolver) MinConfidence() float64 {
	return r.minConfidence
}

// WithMinConfidence returns a copy using a different promotion threshold.
func (r *Resolver) WithMinConfidence(threshold float64) *Resolver {
	cp := *r
	cp.minConfidence = threshold
	return &cp
}

// Input is a listing as the resolver sees it. QueryModel is the model family
// the search was issued for; it seeds classifier candidates when the title
// names no model.
type Input struct {
	Title         string
	ConditionHint string
	Country       string
	Link          string
	Merchant      string
	QueryModel    string
}

// Decision is the outcome for one listing.
type Decision struct {
	Extraction extract.Result     `json:"extraction"`
	Flags      model.Flags        `json:"flags"`
	Match      matcher.Result     `json:"match"`
	Classifier *classifier.Result `json:"classifier,omitempty"`
	Candidates []string           `json:"candidates,omitempty"`
	SKUKey     string             `json:"sku_key,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	Reasons    []string           `json:"reasons"`
	Promotable bool               `json:"promotable"`
}

// ConfidencePtr returns the match confidence, or nil when unresolved.
func (d Decision) ConfidencePtr() *float64 {
	if d.SKUKey == "" {
		return nil
	}
	c := d.Confidence
	return &c
}

// Extract runs the deterministic extractor on a listing.
func (r *Resolver) Extract(in Input) extract.Result {
	return r.extractor.Extract(extract.Input{
		Title:         in.Title,
		ConditionHint: in.ConditionHint,
		Country:       in.Country,
		Link:          in.Link,
	})
}

// Decide resolves one listing. Excluded listings are never sent to the
// classifier; the budget bounds classifier calls for the surrounding run.
func (r *Resolver) Decide(ctx context.Context, in Input, budget *classifier.Budget) Decision {
	ex := r.Extract(in)
	d := Decision{Extraction: ex, Flags: ex.Flags}

	if ex.Flags.Excluded() {
		d.Reasons = skipReasons(ex.Flags)
		d.Match = matcher.Result{Outcome: matcher.NoMatch, Reasons: d.Reasons}
		return d
	}

	d.Match = matcher.Match(ex.Attrs, r.catalog)
	d.Reasons = append(d.Reasons, d.Match.Reasons...)

	if d.Match.Outcome == matcher.Matched {
		d.SKUKey, d.Confidence = d.Match.SKUKey, d.Match.Confidence
	} else {
		d.Candidates = r.candidates(ex.Attrs, d.Match, in.QueryModel)
		res := r.gateway.Classify(ctx, classifier.Request{
			Title:         in.Title,
			ConditionHint: in.ConditionHint,
			Merchant:      in.Merchant,
			Attrs:         ex.Attrs,
			Flags:         ex.Flags,
			Candidates:    d.Candidates,
		}, budget)
		d.Classifier = &res
		d.Reasons = append(d.Reasons, res.Reasons()...)

		if res.Kind == classifier.Classified {
			v := res.Verdict
			d.Flags.IsAccessory = d.Flags.IsAccessory || v.IsAccessory
			d.Flags.IsContract = d.Flags.IsContract || v.IsContract
			d.Flags.IsMultiVariant = d.Flags.IsMultiVariant || v.IsBundle
			if v.SKUKey != "" && !d.Flags.Excluded() {
				d.SKUKey, d.Confidence = v.SKUKey, v.Confidence
			}
		}
	}

	if d.SKUKey == "" {
		return d
	}
	if d.Confidence < r.minConfidence {
		d.Reasons = append(d.Reasons, model.ReasonBelowMinConfidence)
		return d
	}
	d.Promotable = true
	return d
}

func skipReasons(f model.Flags) []string {
	var out []string
	if f.IsMultiVariant {
		out = append(out, model.ReasonSkipMultiVariant)
	}
	if f.IsContract {
		out = append(out, model.ReasonSkipContract)
	}
	if f.IsAccessory {
		out = append(out, model.ReasonSkipAccessory)
	}
	return out
}

// candidates builds the bounded classifier candidate list: tied keys first,
// then the family ranking. The query model stands in for a missing model.
func (r *Resolver) candidates(a model.ExtractedAttrs, m matcher.Result, queryModel string) []string {
	if a.Model == "" && queryModel != "" {
		a.Model = queryModel
	}
	limit := r.gateway.Config().MaxCandidates
	seen := make(map[string]bool)
	var out []string
	add := func(keys []string) {
		for _, k := range keys {
			if seen[k] || (limit > 0 && len(out) >= limit) {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	if m.Outcome == matcher.Ambiguous {
		add(m.Tied)
	}
	add(matcher.Candidates(a, r.catalog, limit))
	return out
}

// ClassifierView explains the classifier's stance on a listing without
// calling it.
type ClassifierView struct {
	Enabled      bool   `json:"enabled"`
	Eligible     bool   `json:"eligible"`
	Reason       string `json:"reason,omitempty"`
	WouldCallNow bool   `json:"would_call_now"`
	CachedSKUKey string `json:"cached_sku_key,omitempty"`
	Cached       bool   `json:"cached"`
}

// Explanation is the explainability view of a listing under the current
// catalog.
type Explanation struct {
	Extraction  extract.Result `json:"extraction"`
	ComputedKey string         `json:"computed_key,omitempty"`
	Catalogued  bool           `json:"catalogued"`
	Match       matcher.Result `json:"match"`
	Classifier  ClassifierView `json:"classifier"`
	Candidates  []string       `json:"candidates"`
}

// Explain reruns the deterministic steps and reports what the classifier
// would do. It never calls out.
func (r *Resolver) Explain(ctx context.Context, in Input) Explanation {
	ex := r.Extract(in)
	key := skukey.FromAttrs(ex.Attrs)
	e := Explanation{
		Extraction:  ex,
		ComputedKey: key,
		Catalogued:  key != "" && r.catalog.Has(key),
		Match:       matcher.Match(ex.Attrs, r.catalog),
	}
	e.Candidates = r.candidates(ex.Attrs, e.Match, in.QueryModel)
	if e.Candidates == nil {
		e.Candidates = []string{}
	}

	view := ClassifierView{Enabled: r.gateway.Enabled()}
	if e.Match.Outcome == matcher.Matched {
		view.Reason = "deterministic match"
	} else {
		view.Eligible, view.Reason = classifier.Eligible(ex.Attrs, ex.Flags)
		if view.Eligible {
			v, ok := r.gateway.Peek(ctx, classifier.Request{
				Title:         in.Title,
				ConditionHint: in.ConditionHint,
				Merchant:      in.Merchant,
				Attrs:         ex.Attrs,
				Flags:         ex.Flags,
				Candidates:    e.Candidates,
			})
			if ok {
				view.Cached, view.CachedSKUKey = true, v.SKUKey
			}
			switch {
			case !view.Enabled:
				view.Reason = model.ReasonLLMDisabled
			case len(e.Candidates) == 0:
				view.Reason = model.ReasonNoCandidates
			}
			view.WouldCallNow = view.Enabled && len(e.Candidates) > 0 && !ok
		}
	}
	e.Classifier = view
	return e
}
