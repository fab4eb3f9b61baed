package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeHeader folds a source column name to its lookup form:
// Unicode case-folded, runs of whitespace and punctuation collapsed to a
// single underscore, no leading or trailing underscore.
//
//	"Ownership Type" -> "ownership_type"
//	" Steam App-ID " -> "steam_app_id"
func NormalizeHeader(s string) string {
	return collapse(cases.Fold().String(s), '_')
}

// NormalizeTitle folds a title for exact-match comparison: accents removed,
// case-folded, punctuation dropped and whitespace collapsed.
//
//	"Pokémon: Red Version" -> "pokemon red version"
func NormalizeTitle(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return collapse(cases.Fold().String(stripped), ' ')
}

// collapse keeps letters and digits and joins the runs between them with sep.
func collapse(s string, sep rune) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteRune(sep)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
