// Package extract turns free-text shopping listings into normalized product
// attributes. Everything here is a pure function of its inputs and the active
// lexicon.
package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/skuboard/internal/model"
)

// Input is what the extractor sees of a listing.
type Input struct {
	Title         string
	ConditionHint string
	Country       string
	Link          string
}

// Result is the extraction outcome. Signals name the rules that fired, for
// explainability.
type Result struct {
	Attrs   model.ExtractedAttrs `json:"attrs"`
	Flags   model.Flags          `json:"flags"`
	Signals []string             `json:"signals,omitempty"`
}

// Extractor applies a lexicon to listings.
type Extractor struct {
	lex *Lexicon
}

// New creates an extractor over the built-in lexicon plus admin phrases.
func New(extra []model.Phrase) *Extractor {
	return &Extractor{lex: NewLexicon(extra)}
}

// Lexicon exposes the extractor's lexicon.
func (e *Extractor) Lexicon() *Lexicon {
	return e.lex
}

var (
	modelPattern    = regexp.MustCompile(`iphone\s*-?\s*(\d{2})(e)?(?:\s*-?\s*(pro\s*max|pro|plus|air|mini))?`)
	storagePattern  = regexp.MustCompile(`(?:^|[^\d])(\d{1,4})\s?(gb|go|tb)\b|(?:^|[^\d])(\d)to\b`)
	storageSlashRun = regexp.MustCompile(`\b((?:\d{2,4}\s*/\s*)+)\d{2,4}\s?(?:gb|go)\b`)
	spaceRun        = regexp.MustCompile(`\s+`)
)

var validStorage = map[string]bool{
	"64gb": true, "128gb": true, "256gb": true, "512gb": true, "1tb": true, "2tb": true,
}

// Extract parses a listing.
func (e *Extractor) Extract(in Input) Result {
	dict := e.lex.Dictionary(in.Country)
	title := normalizeText(in.Title)
	haystack := strings.TrimSpace(title + " " + linkText(in.Link))

	var res Result
	a := &res.Attrs

	models := findModels(title)
	if len(models) > 0 {
		a.Model = models[0]
	}
	if len(models) > 1 {
		res.Flags.IsMultiVariant = true
		res.Signals = append(res.Signals, "multi_model")
	}

	storages := findStorages(title)
	if len(storages) > 0 {
		a.Storage = storages[0]
	}
	if len(storages) > 1 {
		res.Flags.IsMultiVariant = true
		res.Signals = append(res.Signals, "multi_storage")
	}

	colors := findColors(title, dict)
	if len(colors) > 0 {
		a.Color = colors[0]
	}
	if len(colors) > 1 {
		res.Flags.IsMultiVariant = true
		res.Signals = append(res.Signals, "multi_color")
	}

	if p, ok := firstPhrase(title, dict.Phrases(model.PhraseMultiVariant)); ok {
		res.Flags.IsMultiVariant = true
		res.Signals = append(res.Signals, "multi_variant_phrase:"+p)
	}
	if p, ok := firstPhrase(haystack, dict.Phrases(model.PhraseContract)); ok {
		res.Flags.IsContract = true
		res.Signals = append(res.Signals, "contract_phrase:"+p)
	}
	if p, ok := firstPhrase(title, dict.Phrases(model.PhraseAccessory)); ok && (a.Storage == "" || a.Model == "") {
		res.Flags.IsAccessory = true
		res.Signals = append(res.Signals, "accessory_phrase:"+p)
	}

	a.Condition, a.ConditionSource = resolveCondition(in.ConditionHint, haystack, dict)
	a.Variants = findVariants(title)
	a.Confidence = confidence(*a)
	return res
}

func findModels(title string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, idx := range modelPattern.FindAllStringSubmatchIndex(title, -1) {
		key := "iphone-" + title[idx[2]:idx[3]]
		if idx[4] >= 0 {
			key += "e"
		}
		// A suffix glued to more letters ("airpods", "promo") is not a model name.
		if idx[6] >= 0 && !(idx[1] < len(title) && isASCIILetter(title[idx[1]])) {
			suffix := spaceRun.ReplaceAllString(title[idx[6]:idx[7]], "")
			key += "-" + strings.Replace(suffix, "promax", "pro-max", 1)
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

func isASCIILetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

func normalizeStorage(value int, unit string) string {
	switch unit {
	case "tb", "to":
		return strconv.Itoa(value) + "tb"
	}
	if value >= 1024 && value%1024 == 0 {
		return strconv.Itoa(value/1024) + "tb"
	}
	return strconv.Itoa(value) + "gb"
}

func findStorages(title string) []string {
	type hit struct {
		pos   int
		value string
	}
	var hits []hit
	add := func(pos, value int, unit string) {
		s := normalizeStorage(value, unit)
		if validStorage[s] {
			hits = append(hits, hit{pos: pos, value: s})
		}
	}

	for _, idx := range storagePattern.FindAllStringSubmatchIndex(title, -1) {
		if idx[2] >= 0 {
			v, _ := strconv.Atoi(title[idx[2]:idx[3]])
			add(idx[0], v, title[idx[4]:idx[5]])
		} else {
			v, _ := strconv.Atoi(title[idx[6]:idx[7]])
			add(idx[0], v, "to")
		}
	}
	// "128/256GB": the bare numbers before the last one share its unit.
	for _, idx := range storageSlashRun.FindAllStringSubmatchIndex(title, -1) {
		for _, n := range strings.Split(title[idx[2]:idx[3]], "/") {
			if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				add(idx[2], v, "gb")
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })
	var out []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if !seen[h.value] {
			seen[h.value] = true
			out = append(out, h.value)
		}
	}
	return out
}

func findColors(title string, dict *Dictionary) []string {
	type hit struct {
		pos       int
		canonical string
	}
	var hits []hit
	work := title
	for _, c := range dict.colors {
		for {
			i := findPhrase(work, c.phrase)
			if i < 0 {
				break
			}
			hits = append(hits, hit{pos: i, canonical: c.canonical})
			work = blank(work, i, i+len(c.phrase))
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	var out []string
	seen := make(map[string]bool)
	for _, h := range hits {
		if !seen[h.canonical] {
			seen[h.canonical] = true
			out = append(out, h.canonical)
		}
	}
	return out
}

func resolveCondition(hint, haystack string, dict *Dictionary) (model.Condition, string) {
	if c, ok := NormalizeConditionHint(hint); ok {
		return c, "hint"
	}
	// Priority: refurbished > used > new.
	if containsAny(haystack, dict.Phrases(model.PhraseConditionRefurbished)) {
		return model.ConditionRefurbished, "title"
	}
	if containsAny(haystack, dict.Phrases(model.PhraseConditionUsed)) {
		return model.ConditionUsed, "title"
	}
	if containsAny(haystack, dict.Phrases(model.PhraseConditionNew)) {
		return model.ConditionNew, "title"
	}
	return model.ConditionNew, "default"
}

func containsAny(s string, phrases []string) bool {
	_, ok := firstPhrase(s, phrases)
	return ok
}

var (
	simPhrases = []struct{ phrase, value string }{
		{"dual esim", "dual-esim"},
		{"dual e-sim", "dual-esim"},
		{"dual sim", "dual-sim"},
		{"dual-sim", "dual-sim"},
		{"dual nano-sim", "dual-sim"},
		{"esim", "esim"},
		{"e-sim", "esim"},
	}
	lockPhrases = []struct{ phrase, value string }{
		{"carrier locked", "carrier-locked"},
		{"locked to", "carrier-locked"},
		{"unlocked", "unlocked"},
		{"sim free", "unlocked"},
		{"sim-free", "unlocked"},
		{"simフリー", "unlocked"},
	}
	regionPhrases = []struct{ phrase, value string }{
		{"hong kong version", "hk"},
		{"hk version", "hk"},
		{"港版", "hk"},
		{"japan version", "jp"},
		{"日本版", "jp"},
		{"us version", "us"},
		{"international version", "intl"},
		{"global version", "intl"},
	}
)

func findVariants(title string) model.VariantFlags {
	var v model.VariantFlags
	for _, p := range simPhrases {
		if containsPhrase(title, p.phrase) {
			v.Sim = p.value
			break
		}
	}
	for _, p := range lockPhrases {
		if containsPhrase(title, p.phrase) {
			v.Lock = p.value
			break
		}
	}
	for _, p := range regionPhrases {
		if containsPhrase(title, p.phrase) {
			v.Region = p.value
			break
		}
	}
	return v
}

// confidence applies the extraction policy: high needs model, storage,
// color and condition; medium tolerates one of storage or color missing.
func confidence(a model.ExtractedAttrs) model.Confidence {
	if a.Model == "" || !a.Condition.Valid() {
		return model.ConfidenceLow
	}
	switch {
	case a.Storage != "" && a.Color != "":
		return model.ConfidenceHigh
	case a.Storage != "" || a.Color != "":
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
