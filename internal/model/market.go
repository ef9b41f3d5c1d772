package model

import (
	"sort"
	"strings"
)

// Market describes a country the pipeline searches in.
type Market struct {
	Code      string   `json:"countryCode"`
	Name      string   `json:"country"`
	Currency  string   `json:"currency"`
	GL        string   `json:"gl"`
	HL        string   `json:"hl"`
	Languages []string `json:"languages"`
}

// Flag returns the regional-indicator emoji for the market's country code.
func (m Market) Flag() string {
	if len(m.Code) != 2 {
		return ""
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(m.Code) {
		b.WriteRune(0x1F1E6 + (r - 'A'))
	}
	return b.String()
}

var markets = map[string]Market{
	"JP": {Code: "JP", Name: "Japan", Currency: "JPY", GL: "jp", HL: "ja", Languages: []string{"ja"}},
	"US": {Code: "US", Name: "United States", Currency: "USD", GL: "us", HL: "en"},
	"HK": {Code: "HK", Name: "Hong Kong", Currency: "HKD", GL: "hk", HL: "zh-tw", Languages: []string{"zh"}},
	"AE": {Code: "AE", Name: "United Arab Emirates", Currency: "AED", GL: "ae", HL: "en", Languages: []string{"ar"}},
	"DE": {Code: "DE", Name: "Germany", Currency: "EUR", GL: "de", HL: "de", Languages: []string{"de"}},
	"GB": {Code: "GB", Name: "United Kingdom", Currency: "GBP", GL: "uk", HL: "en"},
	"FR": {Code: "FR", Name: "France", Currency: "EUR", GL: "fr", HL: "fr", Languages: []string{"fr"}},
	"SG": {Code: "SG", Name: "Singapore", Currency: "SGD", GL: "sg", HL: "en", Languages: []string{"zh"}},
	"KR": {Code: "KR", Name: "South Korea", Currency: "KRW", GL: "kr", HL: "ko", Languages: []string{"ko"}},
	"AU": {Code: "AU", Name: "Australia", Currency: "AUD", GL: "au", HL: "en"},
	"CA": {Code: "CA", Name: "Canada", Currency: "CAD", GL: "ca", HL: "en", Languages: []string{"fr"}},
}

// LookupMarket returns the market for an ISO country code.
func LookupMarket(code string) (Market, bool) {
	m, ok := markets[strings.ToUpper(strings.TrimSpace(code))]
	return m, ok
}

// Markets returns every supported market ordered by country code.
func Markets() []Market {
	out := make([]Market, 0, len(markets))
	for _, m := range markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
