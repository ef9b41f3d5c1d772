// Package matcher resolves extracted listing attributes to Golden SKU keys.
package matcher

import (
	"sort"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/skukey"
)

// Outcome is the kind of matcher result.
type Outcome string

const (
	Matched   Outcome = "matched"
	NoMatch   Outcome = "no_match"
	Ambiguous Outcome = "ambiguous"
)

// Match confidences. A low-confidence extraction never reaches any of these.
const (
	ConfidenceExact    = 1.0
	ConfidenceMedium   = 0.85
	ConfidenceFolded   = 0.95
	ConfidenceDominant = 0.7
)

// Result is the matcher's decision for one listing.
type Result struct {
	Outcome    Outcome  `json:"outcome"`
	SKUKey     string   `json:"sku_key,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Reasons    []string `json:"reasons"`
	// Tied lists the top-scoring keys when the outcome is Ambiguous.
	Tied []string `json:"tied,omitempty"`
}

// Match resolves attrs against the catalog.
func Match(a model.ExtractedAttrs, c *Catalog) Result {
	if a.Model == "" {
		return Result{Outcome: NoMatch, Reasons: []string{model.ReasonMissingModel}}
	}
	if a.Confidence == model.ConfidenceLow || a.Confidence == "" {
		return Result{Outcome: NoMatch, Reasons: []string{model.ReasonLowConfidence}}
	}

	parts := skukey.PartsFromAttrs(a)
	if key := skukey.Compose(parts); key != "" {
		if c.Has(key) {
			return Result{
				Outcome:    Matched,
				SKUKey:     key,
				Confidence: scaled(a.Confidence, ConfidenceExact),
				Reasons:    []string{model.ReasonDeterministicMatch},
			}
		}
		if parts.HasVariants() {
			if base := skukey.Compose(parts.Base()); c.Has(base) {
				return Result{
					Outcome:    Matched,
					SKUKey:     base,
					Confidence: scaled(a.Confidence, ConfidenceFolded),
					Reasons:    []string{model.ReasonDeterministicMatch, model.ReasonVariantFolded},
				}
			}
		}
	}

	if a.Confidence != model.ConfidenceMedium {
		return Result{Outcome: NoMatch, Reasons: []string{model.ReasonSKUNotInCatalog}}
	}
	return dominant(a, c)
}

// scaled maps extraction confidence onto a match confidence ceiling.
func scaled(conf model.Confidence, ceiling float64) float64 {
	if conf == model.ConfidenceHigh {
		return ceiling
	}
	return ceiling * ConfidenceMedium
}

type scored struct {
	key   string
	score int
}

func score(a model.ExtractedAttrs, s model.GoldenSku) int {
	n := 0
	if a.Storage != "" && a.Storage == s.Storage {
		n++
	}
	if a.Color != "" && a.Color == s.Color {
		n++
	}
	return n
}

// rank scores the same model-family + condition SKUs against attrs. SKUs whose
// present secondary attribute contradicts attrs are dropped. Variant SKUs
// only compete when their variants equal the listing's; otherwise the
// variant-free SKUs are used.
func rank(a model.ExtractedAttrs, c *Catalog) []scored {
	family := c.Family(a.Model, a.Condition)
	want := skukey.PartsFromAttrs(a)

	var pool []model.GoldenSku
	for _, s := range family {
		if s.SimVariant == want.Sim && s.LockState == want.Lock && s.RegionVariant == want.Region {
			pool = append(pool, s)
		}
	}
	if len(pool) == 0 && want.HasVariants() {
		for _, s := range family {
			if s.SimVariant == "" && s.LockState == "" && s.RegionVariant == "" {
				pool = append(pool, s)
			}
		}
	}

	out := make([]scored, 0, len(pool))
	for _, s := range pool {
		if a.Storage != "" && s.Storage != a.Storage {
			continue
		}
		if a.Color != "" && s.Color != a.Color {
			continue
		}
		out = append(out, scored{key: s.Key, score: score(a, s)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].key < out[j].key
	})
	return out
}

func dominant(a model.ExtractedAttrs, c *Catalog) Result {
	ranked := rank(a, c)
	if len(ranked) == 0 {
		return Result{Outcome: NoMatch, Reasons: []string{model.ReasonSKUNotInCatalog}}
	}
	top := ranked[0]
	if top.score > 0 && (len(ranked) == 1 || top.score > ranked[1].score) {
		return Result{
			Outcome:    Matched,
			SKUKey:     top.key,
			Confidence: ConfidenceDominant,
			Reasons:    []string{model.ReasonDominantMatch},
		}
	}
	var tied []string
	for _, r := range ranked {
		if r.score != top.score {
			break
		}
		tied = append(tied, r.key)
	}
	return Result{Outcome: Ambiguous, Reasons: []string{model.ReasonAmbiguousMatch}, Tied: tied}
}

// Candidates returns up to limit catalogued keys the listing could plausibly
// be, best first: same model family and condition, narrowed by whatever
// storage and color were extracted. When narrowing leaves nothing, the whole
// family is offered. It returns nil when the model is unknown.
func Candidates(a model.ExtractedAttrs, c *Catalog, limit int) []string {
	if a.Model == "" {
		return nil
	}
	if !a.Condition.Valid() {
		a.Condition = model.ConditionNew
	}
	ranked := rank(a, c)
	if len(ranked) == 0 {
		loose := a
		loose.Storage, loose.Color = "", ""
		ranked = rank(loose, c)
	}
	out := make([]string, 0, min(len(ranked), max(limit, 0)))
	for _, r := range ranked {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, r.key)
	}
	return out
}
