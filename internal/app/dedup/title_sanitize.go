package dedup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxTitleLength is the maximum length of a generated title, in runes.
const MaxTitleLength = 120

// SanitizeGeneratedTitle reduces free-form generator output to a single-line
// title. It returns "" when nothing usable remains.
func SanitizeGeneratedTitle(raw string) string {
	s := NormalizeUnicode(raw)

	s = firstLine(s)
	s = stripLabel(s)
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, "\"'`*_ ")
	s = strings.TrimRight(s, ".:;, ")
	s = strings.Trim(s, "\"'`*_ ")

	return truncateWords(s, MaxTitleLength)
}

// NormalizeUnicode applies NFKC and removes control and format characters
// (zero-width spaces, direction overrides). Newlines are kept.
func NormalizeUnicode(text string) string {
	t := transform.Chain(
		norm.NFKC,
		runes.Remove(runes.Predicate(func(r rune) bool {
			if r == '\n' {
				return false
			}
			return unicode.IsControl(r) || unicode.Is(unicode.Cf, r)
		})),
	)
	out, _, err := transform.String(t, text)
	if err != nil {
		return ""
	}
	return out
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// stripLabel removes a leading "Title:" that chat models like to add.
func stripLabel(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) >= 6 && strings.EqualFold(trimmed[:6], "title:") {
		return trimmed[6:]
	}
	return trimmed
}

// truncateWords cuts s to at most limit runes, preferring a word boundary.
func truncateWords(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)[:limit]
	cut := string(r)
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
