package extract

import (
	_ "embed"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/skuboard/internal/model"
)

//go:embed lexicon.yaml
var lexiconYAML []byte

type lexiconFile struct {
	Languages map[string]languageEntry `yaml:"languages"`
}

type languageEntry struct {
	Colors               map[string][]string `yaml:"colors"`
	ConditionNew         []string            `yaml:"condition_new"`
	ConditionUsed        []string            `yaml:"condition_used"`
	ConditionRefurbished []string            `yaml:"condition_refurbished"`
	Contract             []string            `yaml:"contract"`
	MultiVariant         []string            `yaml:"multi_variant"`
	Accessory            []string            `yaml:"accessory"`
}

func (e languageEntry) phrases(kind model.PhraseKind) []string {
	switch kind {
	case model.PhraseConditionNew:
		return e.ConditionNew
	case model.PhraseConditionUsed:
		return e.ConditionUsed
	case model.PhraseConditionRefurbished:
		return e.ConditionRefurbished
	case model.PhraseContract:
		return e.Contract
	case model.PhraseMultiVariant:
		return e.MultiVariant
	case model.PhraseAccessory:
		return e.Accessory
	default:
		return nil
	}
}

var phraseKinds = []model.PhraseKind{
	model.PhraseConditionNew,
	model.PhraseConditionUsed,
	model.PhraseConditionRefurbished,
	model.PhraseContract,
	model.PhraseMultiVariant,
	model.PhraseAccessory,
}

var builtin = mustParseLexicon(lexiconYAML)

func parseLexicon(data []byte) (map[string]languageEntry, error) {
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "extract: parse lexicon")
	}
	if _, ok := f.Languages["en"]; !ok {
		return nil, eris.New("extract: lexicon has no en section")
	}
	return f.Languages, nil
}

func mustParseLexicon(data []byte) map[string]languageEntry {
	langs, err := parseLexicon(data)
	if err != nil {
		panic(err)
	}
	return langs
}

// DefaultPhrases returns the built-in phrases of kind for lang.
func DefaultPhrases(kind model.PhraseKind, lang string) []string {
	return builtin[lang].phrases(kind)
}

type colorPhrase struct {
	phrase    string
	canonical string
}

// Dictionary is the vocabulary active for one market: English plus the
// market's languages, with admin phrases merged after the built-ins.
type Dictionary struct {
	colors  []colorPhrase
	phrases map[model.PhraseKind][]string
}

// Phrases returns the merged phrase list for kind.
func (d *Dictionary) Phrases(kind model.PhraseKind) []string {
	return d.phrases[kind]
}

// Lexicon resolves dictionaries per market.
type Lexicon struct {
	extra map[string][]model.Phrase
	dicts map[string]*Dictionary
}

// NewLexicon builds a lexicon from the built-in vocabulary and admin phrases.
func NewLexicon(extra []model.Phrase) *Lexicon {
	l := &Lexicon{
		extra: make(map[string][]model.Phrase),
		dicts: make(map[string]*Dictionary),
	}
	for _, p := range extra {
		if !p.Kind.Valid() || strings.TrimSpace(p.Phrase) == "" {
			continue
		}
		l.extra[strings.ToLower(p.Lang)] = append(l.extra[strings.ToLower(p.Lang)], p)
	}

	all := make([]string, 0, len(builtin))
	for lang := range builtin {
		all = append(all, lang)
	}
	sort.Strings(all)
	l.dicts[""] = l.build(all)
	for _, m := range model.Markets() {
		l.dicts[m.Code] = l.build(append([]string{"en"}, m.Languages...))
	}
	return l
}

// Dictionary returns the dictionary for a country code. Unknown countries get
// every language.
func (l *Lexicon) Dictionary(country string) *Dictionary {
	if d, ok := l.dicts[strings.ToUpper(country)]; ok {
		return d
	}
	return l.dicts[""]
}

func (l *Lexicon) build(langs []string) *Dictionary {
	d := &Dictionary{phrases: make(map[model.PhraseKind][]string)}

	seenColor := make(map[string]bool)
	for _, lang := range langs {
		entry := builtin[lang]
		for canonical, phrases := range entry.Colors {
			for _, p := range phrases {
				p = normalizeText(p)
				if p == "" || seenColor[p] {
					continue
				}
				seenColor[p] = true
				d.colors = append(d.colors, colorPhrase{phrase: p, canonical: canonical})
			}
		}
	}
	// Longest phrase first so "deep blue" wins over "blue".
	sort.Slice(d.colors, func(i, j int) bool {
		if len(d.colors[i].phrase) != len(d.colors[j].phrase) {
			return len(d.colors[i].phrase) > len(d.colors[j].phrase)
		}
		return d.colors[i].phrase < d.colors[j].phrase
	})

	for _, kind := range phraseKinds {
		var merged []string
		for _, lang := range langs {
			merged = append(merged, builtin[lang].phrases(kind)...)
		}
		for _, lang := range append([]string{""}, langs...) {
			for _, p := range l.extra[lang] {
				if p.Kind == kind {
					merged = append(merged, p.Phrase)
				}
			}
		}
		d.phrases[kind] = dedupe(merged)
	}
	return d
}

func dedupe(phrases []string) []string {
	seen := make(map[string]bool, len(phrases))
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = normalizeText(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
