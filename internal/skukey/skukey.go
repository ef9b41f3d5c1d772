// Package skukey derives and parses Golden SKU keys.
//
// A key is model-storage-color-condition with optional SIM, lock and region
// variants appended in that order, e.g. "iphone-16-pro-256gb-black-new" or
// "iphone-16-pro-256gb-black-new-esim-unlocked".
package skukey

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/skuboard/internal/model"
)

// Parts are the defining attributes of a key.
type Parts struct {
	Model     string
	Storage   string
	Color     string
	Condition model.Condition
	Sim       string
	Lock      string
	Region    string
}

// Base returns p without variants.
func (p Parts) Base() Parts {
	return Parts{Model: p.Model, Storage: p.Storage, Color: p.Color, Condition: p.Condition}
}

// HasVariants reports whether any variant part is set.
func (p Parts) HasVariants() bool {
	return p.Sim != "" || p.Lock != "" || p.Region != ""
}

var (
	invalidChars = regexp.MustCompile(`[^a-z0-9-]+`)
	repeatedDash = regexp.MustCompile(`-{2,}`)
	storageToken = regexp.MustCompile(`^\d+(gb|tb)$`)
)

// Normalize lowercases s, turns spaces and underscores into hyphens and drops
// everything outside [a-z0-9-].
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	s = invalidChars.ReplaceAllString(s, "")
	s = repeatedDash.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Compose builds the key for p. It returns "" unless model, storage, color
// and condition are all present.
func Compose(p Parts) string {
	required := []string{Normalize(p.Model), Normalize(p.Storage), Normalize(p.Color), Normalize(string(p.Condition))}
	for _, part := range required {
		if part == "" {
			return ""
		}
	}
	parts := required
	for _, v := range []string{p.Sim, p.Lock, p.Region} {
		if n := Normalize(v); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "-")
}

// FromAttrs composes the key for extracted attributes, variants included.
func FromAttrs(a model.ExtractedAttrs) string {
	return Compose(PartsFromAttrs(a))
}

// PartsFromAttrs maps extracted attributes to key parts.
func PartsFromAttrs(a model.ExtractedAttrs) Parts {
	return Parts{
		Model:     a.Model,
		Storage:   a.Storage,
		Color:     a.Color,
		Condition: a.Condition,
		Sim:       a.Variants.Sim,
		Lock:      a.Variants.Lock,
		Region:    a.Variants.Region,
	}
}

// ForSku composes the key from a GoldenSku's defining attributes.
func ForSku(s model.GoldenSku) string {
	return Compose(Parts{
		Model:     s.Model,
		Storage:   s.Storage,
		Color:     s.Color,
		Condition: s.Condition,
		Sim:       s.SimVariant,
		Lock:      s.LockState,
		Region:    s.RegionVariant,
	})
}

var (
	simValues  = []string{"dual-esim", "dual-sim", "physical-sim", "esim"}
	lockValues = []string{"carrier-locked", "unlocked", "locked"}
)

// Parse splits a key back into its parts.
func Parse(key string) (Parts, error) {
	tokens := strings.Split(Normalize(key), "-")

	storageIdx := -1
	for i, tok := range tokens {
		if storageToken.MatchString(tok) {
			storageIdx = i
			break
		}
	}
	if storageIdx <= 0 {
		return Parts{}, eris.Errorf("skukey: no storage token in %q", key)
	}

	condIdx := -1
	for i := storageIdx + 2; i < len(tokens); i++ {
		if model.Condition(tokens[i]).Valid() {
			condIdx = i
			break
		}
	}
	if condIdx < 0 {
		return Parts{}, eris.Errorf("skukey: no condition token in %q", key)
	}

	p := Parts{
		Model:     strings.Join(tokens[:storageIdx], "-"),
		Storage:   tokens[storageIdx],
		Color:     strings.Join(tokens[storageIdx+1:condIdx], "-"),
		Condition: model.Condition(tokens[condIdx]),
	}

	rest := strings.Join(tokens[condIdx+1:], "-")
	p.Sim, rest = takePrefix(rest, simValues)
	p.Lock, rest = takePrefix(rest, lockValues)
	p.Region = rest
	return p, nil
}

func takePrefix(s string, values []string) (string, string) {
	for _, v := range values {
		if s == v {
			return v, ""
		}
		if strings.HasPrefix(s, v+"-") {
			return v, strings.TrimPrefix(s, v+"-")
		}
	}
	return "", s
}

// ModelOf returns the model family of key, or "" when key does not parse.
func ModelOf(key string) string {
	p, err := Parse(key)
	if err != nil {
		return ""
	}
	return p.Model
}

var displayWords = map[string]string{
	"iphone": "iPhone",
	"pro":    "Pro",
	"max":    "Max",
	"plus":   "Plus",
	"air":    "Air",
	"mini":   "Mini",
}

// DisplayModel renders a model family key for humans: "iphone-16-pro" → "iPhone 16 Pro".
func DisplayModel(modelKey string) string {
	tokens := strings.Split(Normalize(modelKey), "-")
	for i, tok := range tokens {
		if w, ok := displayWords[tok]; ok {
			tokens[i] = w
		}
	}
	return strings.Join(tokens, " ")
}

// SearchQuery renders the shopping-search query for key:
// "iphone-16-pro-256gb-black-new" → "iPhone 16 Pro 256GB". Color and
// condition are left out so one search covers every sibling SKU.
func SearchQuery(key string) string {
	p, err := Parse(key)
	if err != nil {
		return DisplayModel(key)
	}
	return DisplayModel(p.Model) + " " + strings.ToUpper(p.Storage)
}
