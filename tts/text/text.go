// Package text prepares chat and dialog text for synthesis and encodes piper
// requests.
package text

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\b", `\b`,
	"\f", `\f`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Escape escapes s for use inside a JSON string literal.
func Escape(s string) string {
	s = escaper.Replace(s)
	if strings.IndexFunc(s, isBareControl) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if isBareControl(r) {
			fmt.Fprintf(&b, `\u%04x`, r)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// control characters left over after the short escapes
func isBareControl(r rune) bool {
	return r < 0x20 && r != '\b' && r != '\f' && r != '\n' && r != '\r' && r != '\t'
}

// RequestJSON builds the single-line piper --json-input request. A negative
// speakerID selects the model's default speaker.
func RequestJSON(text string, speakerID int) string {
	if speakerID < 0 {
		return `{"text":"` + Escape(text) + `"}`
	}
	return `{"text":"` + Escape(text) + `", "speaker_id":` + strconv.Itoa(speakerID) + `}`
}

var (
	thousandsGroup   = regexp.MustCompile(`(\d{1,3}),(\d{3})`)
	thousandsDecimal = regexp.MustCompile(`(\d),(\d{3})(\.\d+)?`)

	suffixes = []struct {
		re   *regexp.Regexp
		word string
	}{
		{regexp.MustCompile(`(?i)(\d+)\s?k\b`), "thousand"},
		{regexp.MustCompile(`(?i)(\d+)\s?m\b`), "million"},
		{regexp.MustCompile(`(?i)(\d+)\s?b\b`), "billion"},
		{regexp.MustCompile(`(?i)(\d+)\s?t\b`), "trillion"},
	}
)

// RenderLargeNumbers drops thousands separators and spells out the k, m, b
// and t suffixes, so "1,500" reads as "1500" and "5k" as "5 thousand".
func RenderLargeNumbers(s string) string {
	s = thousandsGroup.ReplaceAllString(s, "${1}${2}")
	s = thousandsDecimal.ReplaceAllString(s, "${1}${2}${3}")
	for _, sfx := range suffixes {
		s = sfx.re.ReplaceAllString(s, "${1} "+sfx.word)
	}
	return s
}

// ContainsAlphaNumeric reports whether s has at least one letter, digit or
// underscore.
func ContainsAlphaNumeric(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// Normalize converts s to NFC and collapses runs of whitespace into single
// spaces.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
