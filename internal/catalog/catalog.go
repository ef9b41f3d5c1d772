// Package catalog holds the built-in Golden SKU seed.
package catalog

import (
	"context"
	_ "embed"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/skuboard/internal/model"
	"github.com/sells-group/skuboard/internal/skukey"
)

//go:embed seed.yaml
var seedYAML []byte

type seedFile struct {
	ConditionFactors map[model.Condition]float64 `yaml:"condition_factors"`
	Families         []family                    `yaml:"families"`
}

type family struct {
	Model  string             `yaml:"model"`
	Colors []string           `yaml:"colors"`
	Prices map[string]float64 `yaml:"prices"`
}

// Upserter writes catalog entries.
type Upserter interface {
	UpsertGoldenSkus(ctx context.Context, skus []model.GoldenSku) (int64, error)
}

// Default returns the embedded seed expanded into Golden SKUs, sorted by key.
func Default() ([]model.GoldenSku, error) {
	return Parse(seedYAML)
}

// Parse expands a seed document into Golden SKUs: every storage and color of
// every family, in each condition with a price factor.
func Parse(data []byte) ([]model.GoldenSku, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: parse seed")
	}
	title := cases.Title(language.English)

	var out []model.GoldenSku
	seen := make(map[string]bool)
	for _, fam := range f.Families {
		for storage, price := range fam.Prices {
			for _, color := range fam.Colors {
				for cond, factor := range f.ConditionFactors {
					if !cond.Valid() {
						return nil, eris.Errorf("catalog: unknown condition %q", cond)
					}
					g := model.GoldenSku{
						Model:             skukey.Normalize(fam.Model),
						Storage:           skukey.Normalize(storage),
						Color:             skukey.Normalize(color),
						Condition:         cond,
						ReferencePriceUSD: math.Round(price*factor*100) / 100,
					}
					g.Key = skukey.ForSku(g)
					if g.Key == "" {
						return nil, eris.Errorf("catalog: incomplete entry %s/%s/%s", fam.Model, storage, color)
					}
					if seen[g.Key] {
						return nil, eris.Errorf("catalog: duplicate key %s", g.Key)
					}
					seen[g.Key] = true
					g.DisplayName = displayName(g, title)
					out = append(out, g)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DisplayName renders the human name of a SKU, e.g.
// "iPhone 17 Pro 256GB Cosmic Orange (Refurbished)".
func DisplayName(g model.GoldenSku) string {
	return displayName(g, cases.Title(language.English))
}

func displayName(g model.GoldenSku, title cases.Caser) string {
	name := skukey.DisplayModel(g.Model) + " " + strings.ToUpper(g.Storage) + " " +
		title.String(strings.ReplaceAll(g.Color, "-", " "))
	if g.Condition != model.ConditionNew {
		name += " (" + title.String(string(g.Condition)) + ")"
	}
	return name
}

// Seed upserts the embedded catalog and reports how many rows changed.
func Seed(ctx context.Context, u Upserter) (int64, error) {
	skus, err := Default()
	if err != nil {
		return 0, err
	}
	n, err := u.UpsertGoldenSkus(ctx, skus)
	if err != nil {
		return 0, eris.Wrap(err, "catalog: seed")
	}
	zap.L().Info("catalog seeded", zap.Int("skus", len(skus)), zap.Int64("changed", n))
	return n, nil
}
