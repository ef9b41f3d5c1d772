package home

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var supportedLanguages = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.Japanese,
	language.Korean,
	language.TraditionalChinese,
	language.Arabic,
}

var languageMatcher = language.NewMatcher(supportedLanguages)

// negotiate picks the closest supported language for a lang parameter or
// Accept-Language value. Unknown input falls back to English.
func negotiate(lang string) language.Tag {
	if lang == "" {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(lang)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, conf := languageMatcher.Match(tags...)
	if conf == language.No {
		return language.English
	}
	return supportedLanguages[idx]
}

// formatMoney renders amount in the currency's narrow symbol with the
// locale's grouping and the currency's standard number of decimals, so yen
// and won carry none.
func formatMoney(tag language.Tag, amount float64, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return ""
	}
	scale, _ := currency.Standard.Rounding(unit)
	p := message.NewPrinter(tag)
	sym := p.Sprint(currency.NarrowSymbol(unit))
	num := p.Sprint(number.Decimal(amount, number.Scale(scale)))
	if r, _ := utf8.DecodeLastRuneInString(sym); unicode.IsLetter(r) {
		return sym + " " + num
	}
	return sym + num
}
