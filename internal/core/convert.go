package core

// convert.go provides cell cleanup for user-provided spreadsheet data:
//   - Excel formula prefixes (="value")
//   - surrounding whitespace
//   - control characters in free text
//   - integers with thousand separators or a trailing ".0"

import (
	"strconv"
	"strings"
	"unicode"
)

// CleanCell trims whitespace and unwraps Excel text formulas (="value").
// Any other leading "=" is data and is kept.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}

	return strings.TrimSpace(s)
}

// StripControl removes control characters. Tabs and line breaks become
// single spaces so adjacent words stay separated.
func StripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = r == ' '
		}
	}
	return strings.TrimSpace(b.String())
}

// ParsePositiveInt parses a strictly positive integer.
// Accepts thousand separators in grouping positions ("1,200") and a zero
// fraction ("12.0").
func ParsePositiveInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if whole, frac, ok := strings.Cut(s, "."); ok {
		if strings.Trim(frac, "0") != "" {
			return 0, false
		}
		s = whole
	}
	if strings.Contains(s, ",") {
		groups := strings.Split(s, ",")
		if len(groups[0]) == 0 || len(groups[0]) > 3 {
			return 0, false
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return 0, false
			}
		}
		s = strings.Join(groups, "")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// runeLen counts runes, not bytes.
func runeLen(s string) int {
	return len([]rune(s))
}
