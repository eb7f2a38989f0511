package text

import (
	"sort"
	"strings"
	"sync"
)

// Replacement rewrites Match (case-insensitive) to Replacement.
type Replacement struct {
	Match       string
	Replacement string
}

// ParseReplacements reads one "match=replacement" rule per line. The last
// '=' separates the two halves so rules like "=_==squint face" work; lines
// without '=' or with an empty match are skipped. Replacements may be empty.
func ParseReplacements(lines string) []Replacement {
	var out []Replacement
	for _, line := range strings.Split(lines, "\n") {
		i := strings.LastIndex(line, "=")
		if i < 0 {
			continue
		}
		match := strings.TrimSpace(line[:i])
		if match == "" {
			continue
		}
		out = append(out, Replacement{Match: match, Replacement: strings.TrimSpace(line[i+1:])})
	}
	return out
}

// ReplacementsFromMap orders the rules of m longest match first so that
// multi-word matches win over their parts.
func ReplacementsFromMap(m map[string]string) []Replacement {
	out := make([]Replacement, 0, len(m))
	for k, v := range m {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		out = append(out, Replacement{Match: k, Replacement: strings.TrimSpace(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Match) != len(out[j].Match) {
			return len(out[i].Match) > len(out[j].Match)
		}
		return out[i].Match < out[j].Match
	})
	return out
}

// RenderReplacements applies each rule in order. A match must start the text
// or follow a space, and must end the text or be followed by a space or one
// of ",!.?".
func RenderReplacements(s string, rules []Replacement) string {
	for _, r := range rules {
		s = replaceWords(s, r)
	}
	return strings.TrimSpace(s)
}

func replaceWords(s string, r Replacement) string {
	lower := strings.ToLower(s)
	match := strings.ToLower(r.Match)
	// case folding can change byte lengths; fall back to exact matching then
	if len(lower) != len(s) {
		lower, match = s, r.Match
	}

	var b strings.Builder
	prev := 0
	for {
		i := strings.Index(lower[prev:], match)
		if i < 0 {
			break
		}
		head := prev + i
		tail := head + len(match)

		b.WriteString(s[prev:head])
		if (head == 0 || s[head-1] == ' ') && (tail == len(s) || isMatchTail(s[tail])) {
			b.WriteString(r.Replacement)
		} else {
			b.WriteString(s[head:tail])
		}
		prev = tail
	}
	b.WriteString(s[prev:])
	return b.String()
}

func isMatchTail(c byte) bool {
	switch c {
	case ' ', ',', '!', '.', '?':
		return true
	}
	return false
}

// Processor applies the configured preprocessing to every utterance. Rules
// can be swapped while it is in use.
type Processor struct {
	mu           sync.RWMutex
	replacements []Replacement
	largeNumbers bool
}

// NewProcessor creates a processor with the given rules.
func NewProcessor(replacements []Replacement, largeNumbers bool) *Processor {
	return &Processor{replacements: replacements, largeNumbers: largeNumbers}
}

// SetReplacements replaces the rule set.
func (p *Processor) SetReplacements(rules []Replacement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replacements = rules
}

// SetLargeNumbers toggles RenderLargeNumbers.
func (p *Processor) SetLargeNumbers(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.largeNumbers = enabled
}

// Process normalizes s and applies replacements and number rendering. It
// returns "" when nothing speakable is left.
func (p *Processor) Process(s string) string {
	p.mu.RLock()
	rules := p.replacements
	numbers := p.largeNumbers
	p.mu.RUnlock()

	s = Normalize(s)
	s = RenderReplacements(s, rules)
	if numbers {
		s = RenderLargeNumbers(s)
	}
	if !ContainsAlphaNumeric(s) {
		return ""
	}
	return s
}
