package matcher

import (
	"sort"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/skukey"
)

// Catalog is an immutable, indexed snapshot of the Golden SKU table. Build a
// new one when the catalog changes; readers never see partial updates.
type Catalog struct {
	skus     map[string]model.GoldenSku
	byFamily map[string][]model.GoldenSku
	keys     []string
}

// NewCatalog indexes skus by key and by model family + condition. SKUs whose
// stored key disagrees with their attributes are indexed under the derived key.
func NewCatalog(skus []model.GoldenSku) *Catalog {
	c := &Catalog{
		skus:     make(map[string]model.GoldenSku, len(skus)),
		byFamily: make(map[string][]model.GoldenSku),
	}
	for _, s := range skus {
		key := skukey.ForSku(s)
		if key == "" {
			continue
		}
		s.Key = key
		if _, dup := c.skus[key]; dup {
			continue
		}
		c.skus[key] = s
		c.keys = append(c.keys, key)
		fk := familyKey(s.Model, s.Condition)
		c.byFamily[fk] = append(c.byFamily[fk], s)
	}
	sort.Strings(c.keys)
	for _, fam := range c.byFamily {
		sort.Slice(fam, func(i, j int) bool { return fam[i].Key < fam[j].Key })
	}
	return c
}

func familyKey(modelKey string, cond model.Condition) string {
	return skukey.Normalize(modelKey) + "|" + string(cond)
}

// Has reports whether key is catalogued.
func (c *Catalog) Has(key string) bool {
	_, ok := c.skus[key]
	return ok
}

// Get returns the SKU for key.
func (c *Catalog) Get(key string) (model.GoldenSku, bool) {
	s, ok := c.skus[key]
	return s, ok
}

// Family returns the SKUs sharing a model family and condition, ordered by key.
func (c *Catalog) Family(modelKey string, cond model.Condition) []model.GoldenSku {
	return c.byFamily[familyKey(modelKey, cond)]
}

// Len returns the number of catalogued SKUs.
func (c *Catalog) Len() int {
	return len(c.keys)
}

// Keys returns every catalogued key in sorted order.
func (c *Catalog) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Models returns the distinct model families in the catalog, sorted.
func (c *Catalog) Models() []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range c.keys {
		m := c.skus[k].Model
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out
}
