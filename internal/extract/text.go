package extract

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// normalizeText folds full-width forms (NFKC), lowercases and collapses
// whitespace. Titles and dictionary phrases go through the same path.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

// linkText renders host, path and query of a listing URL for phrase matching.
func linkText(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	s := u.Host + u.Path
	if u.RawQuery != "" {
		if q, err := url.QueryUnescape(u.RawQuery); err == nil {
			s += "?" + q
		} else {
			s += "?" + u.RawQuery
		}
	}
	return strings.ToLower(s)
}

// needsBoundary reports whether phrase must match on word boundaries. Scripts
// written without spaces (CJK, Hangul) and Arabic, which attaches prefixes,
// match as plain substrings.
func needsBoundary(phrase string) bool {
	for _, r := range phrase {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul, unicode.Arabic) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// findPhrase returns the byte offset of the first occurrence of phrase in s
// that satisfies the boundary rule, or -1.
func findPhrase(s, phrase string) int {
	if phrase == "" {
		return -1
	}
	bounded := needsBoundary(phrase)
	first, _ := utf8.DecodeRuneInString(phrase)
	last, _ := utf8.DecodeLastRuneInString(phrase)

	offset := 0
	for offset <= len(s) {
		i := strings.Index(s[offset:], phrase)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(phrase)
		if !bounded || boundaryOK(s, start, end, first, last) {
			return start
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		offset = start + size
	}
	return -1
}

func boundaryOK(s string, start, end int, first, last rune) bool {
	if isWordRune(first) && start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(prev) {
			return false
		}
	}
	if isWordRune(last) && end < len(s) {
		next, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(next) {
			return false
		}
	}
	return true
}

func containsPhrase(s, phrase string) bool {
	return findPhrase(s, phrase) >= 0
}

// firstPhrase returns the first phrase from phrases present in s.
func firstPhrase(s string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if containsPhrase(s, p) {
			return p, true
		}
	}
	return "", false
}

// blank replaces s[start:end] with spaces, keeping offsets stable.
func blank(s string, start, end int) string {
	return s[:start] + strings.Repeat(" ", end-start) + s[end:]
}
