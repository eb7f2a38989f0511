// Package sentence splits utterances into segments that can be synthesized
// independently and played back in order.
package sentence

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultThreshold is the text length above which an utterance is split.
const DefaultThreshold = 50

const (
	sentenceMarks = ".!?;:"
	clauseMarks   = ","
)

// Parser splits text into speakable segments.
type Parser struct {
	threshold     int
	abbreviations map[string]bool
}

// NewParser creates a parser that leaves text of at most threshold characters
// whole. Zero splits every utterance into sentences; a negative threshold
// uses DefaultThreshold.
func NewParser(threshold int) *Parser {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Parser{
		threshold:     threshold,
		abbreviations: makeAbbreviationMap(),
	}
}

// Threshold returns the split threshold.
func (p *Parser) Threshold() int {
	return p.threshold
}

// Segment returns text unchanged when it is short, otherwise its sentence
// segments. It never returns an empty slice for non-blank text.
func (p *Parser) Segment(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= p.threshold {
		return []string{text}
	}

	var out []string
	for _, s := range p.Split(text) {
		// long sentences fall back to clause boundaries
		if p.threshold > 0 && utf8.RuneCountInString(s) > p.threshold {
			out = append(out, splitAfter(s, clauseMarks, nil)...)
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// Split cuts text after every run of sentence punctuation, trimming the
// pieces and dropping empty ones.
func (p *Parser) Split(text string) []string {
	return splitAfter(text, sentenceMarks, p.isAbbreviation)
}

// Split cuts text using a default parser.
func Split(text string) []string {
	return NewParser(DefaultThreshold).Split(text)
}

// Segment segments text using a default parser.
func Segment(text string) []string {
	return NewParser(DefaultThreshold).Segment(text)
}

func splitAfter(text, marks string, skip func(text string, end int) bool) []string {
	var out []string
	start := 0
	for i, r := range text {
		if !strings.ContainsRune(marks, r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		// keep runs like "?!" and "..." together
		if end < len(text) && strings.IndexByte(marks, text[end]) >= 0 {
			continue
		}
		if r == '.' && isDecimalPoint(text, i) {
			continue
		}
		if skip != nil && skip(text, end) {
			continue
		}
		out = appendTrimmed(out, text[start:end])
		start = end
	}
	return appendTrimmed(out, text[start:])
}

func appendTrimmed(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	return append(out, s)
}

// isDecimalPoint reports whether the '.' at i sits between two digits.
func isDecimalPoint(text string, i int) bool {
	if i == 0 || i+1 >= len(text) {
		return false
	}
	return isDigit(text[i-1]) && isDigit(text[i+1])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// isAbbreviation reports whether the word ending at end is a known
// abbreviation followed by more text.
func (p *Parser) isAbbreviation(text string, end int) bool {
	if end >= len(text) || text[end-1] != '.' {
		return false
	}
	start := strings.LastIndexFunc(text[:end-1], func(r rune) bool {
		return unicode.IsSpace(r)
	}) + 1
	word := strings.ToLower(text[start : end-1])
	return p.abbreviations[word]
}

func makeAbbreviationMap() map[string]bool {
	words := []string{
		"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "st",
		"vs", "etc", "e.g", "i.e", "lvl", "approx",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
