// internal/resolver/resolver.go
package resolver

import (
	"strings"
	"unicode"

	"github.com/Corphon/AutoAnnotator/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Strategy names the pass that located a candidate.
type Strategy string

const (
	StrategyWindow  Strategy = "window"  // normalized sliding window over the raw text
	StrategyLiteral Strategy = "literal" // case-insensitive literal search
	StrategyNone    Strategy = "none"
)

// Match is the outcome for one comma-separated candidate of a scope label.
type Match struct {
	Candidate string      `json:"candidate"`
	Span      models.Span `json:"span"`
	Strategy  Strategy    `json:"strategy"`
	// Skipped is set for candidates that normalize to nothing.
	Skipped bool `json:"skipped,omitempty"`
}

// Found reports whether the candidate produced a span.
func (m Match) Found() bool {
	return m.Strategy == StrategyWindow || m.Strategy == StrategyLiteral
}

// Resolver recovers the spans of a scope label inside a document text.
// Implementations must be safe for concurrent use.
type Resolver interface {
	// Resolve returns one span per located candidate, in candidate order.
	// The boolean is false when no candidate could be located.
	Resolve(text, label string) ([]models.Span, bool)
	// ResolveCandidates reports the outcome of every candidate.
	ResolveCandidates(text, label string) []Match
}

// WindowResolver aligns candidates by normalizing every window of the raw
// text that has the candidate's length. Cost is O(len(text) * len(candidate))
// per candidate, fine for sentence-sized documents. Longer documents want a
// single normalization pass with a normalized-to-raw offset table instead.
type WindowResolver struct{}

// NewWindowResolver returns the default resolver.
func NewWindowResolver() *WindowResolver {
	return &WindowResolver{}
}

// Resolve implements Resolver.
func (r *WindowResolver) Resolve(text, label string) ([]models.Span, bool) {
	var spans []models.Span
	for _, m := range r.ResolveCandidates(text, label) {
		if m.Found() {
			spans = append(spans, m.Span)
		}
	}
	if len(spans) == 0 {
		return nil, false
	}
	return spans, true
}

// ResolveCandidates implements Resolver.
func (r *WindowResolver) ResolveCandidates(text, label string) []Match {
	if text == "" || label == "" {
		return nil
	}

	candidates := SplitCandidates(label)
	raw := []rune(text)
	normText := Normalize(text)

	matches := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		matches = append(matches, resolveOne(raw, normText, cand))
	}
	return matches
}

func resolveOne(raw []rune, normText, cand string) Match {
	m := Match{Candidate: cand, Strategy: StrategyNone}

	normCand := Normalize(cand)
	if normCand == "" {
		m.Skipped = true
		return m
	}
	if !strings.Contains(normText, normCand) {
		return m
	}

	candRunes := []rune(cand)
	width := len(candRunes)
	for s := 0; s+width <= len(raw); s++ {
		if Normalize(string(raw[s:s+width])) == normCand {
			m.Span = models.Span{Start: s, End: s + width}
			m.Strategy = StrategyWindow
			return m
		}
	}

	// Normalization changed the rune count (ligatures, compatibility forms).
	if idx := indexRunes(lowerRunes(raw), lowerRunes(candRunes)); idx >= 0 {
		m.Span = models.Span{Start: idx, End: idx + width}
		m.Strategy = StrategyLiteral
	}
	return m
}

// SplitCandidates splits a scope label on commas, trims every part and drops
// empty ones. A label with no usable part is returned whole.
func SplitCandidates(label string) []string {
	var out []string
	for _, part := range strings.Split(label, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{label}
	}
	return out
}

// Normalize folds a string for comparison: NFKC, lower case, whitespace runs
// collapsed to one space, surrounding whitespace removed.
func Normalize(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))
	return strings.Join(strings.Fields(s), " ")
}

// lowerRunes maps rune by rune, so offsets stay aligned with the input.
func lowerRunes(rs []rune) []rune {
	out := make([]rune, len(rs))
	for i, r := range rs {
		out[i] = unicode.ToLower(r)
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}
