// Package transcript post-processes recognizer output before it reaches
// response generation.
//
// Speech recognizers routinely garble uncommon proper nouns and project
// jargon ("echo gate" for "echogate"). The [Corrector] realigns such words
// against a configured vocabulary using Double Metaphone phonetic encoding
// for candidate filtering and Jaro-Winkler similarity for ranked selection:
//
//  1. Phonetic filtering: a vocabulary entry whose Double Metaphone codes
//     overlap the input token's codes becomes a candidate.
//  2. Jaro-Winkler ranking: among candidates the entry with the highest
//     similarity wins, provided it clears the phonetic threshold. Without
//     any phonetic candidate a stricter pure-similarity fallback applies.
//
// Multi-word vocabulary entries are matched against sliding token windows
// of the transcript up to the longest entry's word count.
package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Correction records one replaced span for logging and diagnostics.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched vocabulary entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Corrector realigns transcript words against a fixed vocabulary. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	vocabulary []string
	maxWords   int

	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New creates a Corrector over the given vocabulary. An empty vocabulary
// yields a corrector that passes text through unchanged.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		maxWords:          1,
	}
	for _, entry := range vocabulary {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		c.vocabulary = append(c.vocabulary, entry)
		if n := len(strings.Fields(entry)); n > c.maxWords {
			c.maxWords = n
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns text with vocabulary-aligned words substituted, together
// with the list of applied corrections. Longer token windows are tried
// first so multi-word entries win over their individual words.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.vocabulary) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	tokens := strings.Fields(text)
	out := make([]string, 0, len(tokens))
	var corrections []Correction

	for i := 0; i < len(tokens); {
		matchedLen := 0
		for window := min(c.maxWords, len(tokens)-i); window >= 1 && matchedLen == 0; window-- {
			span := strings.Join(tokens[i:i+window], " ")
			if corrected, confidence, ok := c.match(span); ok {
				// An exact (case-insensitive) span needs no rewriting.
				if !strings.EqualFold(span, corrected) {
					corrections = append(corrections, Correction{
						Original:   span,
						Corrected:  corrected,
						Confidence: confidence,
					})
					out = append(out, corrected)
				} else {
					out = append(out, tokens[i:i+window]...)
				}
				matchedLen = window
			}
		}
		if matchedLen == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		i += matchedLen
	}

	return strings.Join(out, " "), corrections
}

// match tests one span against the whole vocabulary and returns the best
// entry, its similarity score, and whether anything cleared a threshold.
func (c *Corrector) match(span string) (string, float64, bool) {
	spanLower := strings.ToLower(span)
	spanTokens := strings.Fields(spanLower)
	spanCodes := codesForTokens(spanTokens)

	var (
		bestEntry    string
		bestScore    float64
		bestPhonetic bool
	)

	for _, entry := range c.vocabulary {
		entryLower := strings.ToLower(entry)
		entryTokens := strings.Fields(entryLower)

		phonetic := codesOverlap(spanCodes, codesForTokens(entryTokens))
		score := bestSimilarity(spanTokens, entryTokens, spanLower, entryLower)

		if phonetic {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestEntry, bestScore, bestPhonetic = entry, score, true
			}
		} else if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			bestEntry, bestScore = entry, score
		}
	}

	if bestEntry == "" {
		return span, 0, false
	}
	return bestEntry, bestScore, true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler score between the span
// and the entry across three comparisons: the full strings, the
// space-stripped strings, and the best pairwise token score.
func bestSimilarity(spanTokens, entryTokens []string, spanFull, entryFull string) float64 {
	score := matchr.JaroWinkler(spanFull, entryFull, false)

	if len(spanTokens) > 1 || len(entryTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(spanTokens, ""), strings.Join(entryTokens, ""), false); s > score {
			score = s
		}
	}

	for _, st := range spanTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(st, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
