// Package morphname suggests catalog morph target names for unknown ones
// using Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// Payload producers and mesh assets rarely agree on naming: one side says
// "jawOpen", the other "jaw_open" or "JawOpen", and a typo like "browInerUp"
// slips through a pipeline nobody type-checks. The suggester exists so the
// mesh boundary can log "unknown morph target X, did you mean Y" instead of
// silently eating weights.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: names are split into identifier tokens
//     (camelCase humps, underscores, dashes) and Double Metaphone codes are
//     computed per token. A catalog name whose code set overlaps the
//     input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the name with the
//     highest Jaro-Winkler similarity wins, provided its score exceeds the
//     configurable phonetic threshold. When no phonetic candidate exists, a
//     secondary pass tests pure Jaro-Winkler similarity against the whole
//     catalog using a higher fuzzy threshold (default 0.85).
package morphname

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Suggester].
type Option func(*Suggester)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(s *Suggester) {
		s.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the suggester falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(s *Suggester) {
		s.fuzzyThreshold = threshold
	}
}

// Suggester ranks catalog names against unknown morph target names.
// All methods are safe for concurrent use; the Suggester is read-only
// after construction.
type Suggester struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Suggester] configured with the supplied options.
// Default thresholds are 0.70 for phonetic matches and 0.85 for fuzzy
// fallback matches.
func New(opts ...Option) *Suggester {
	s := &Suggester{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Suggest finds the catalog name most similar to name.
//
// When ok is false, no candidate cleared its threshold: suggestion is empty
// and confidence is 0. The caller decides what to do with a miss; the
// suggester never mutates anything.
func (s *Suggester) Suggest(name string, catalog []string) (suggestion string, confidence float64, ok bool) {
	if len(catalog) == 0 || strings.TrimSpace(name) == "" {
		return "", 0, false
	}

	nameTokens := splitName(name)
	nameConcat := strings.Join(nameTokens, "")
	nameCodes := codesForTokens(nameTokens)

	type candidate struct {
		name     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, entry := range catalog {
		entryTokens := splitName(entry)
		if len(entryTokens) == 0 {
			continue
		}
		entryConcat := strings.Join(entryTokens, "")

		phoneticMatch := codesOverlap(nameCodes, codesForTokens(entryTokens))
		score := bestScore(nameTokens, entryTokens, nameConcat, entryConcat)

		if phoneticMatch {
			if score >= s.phoneticThreshold {
				if !best.phonetic || score > best.score {
					best = candidate{name: entry, score: score, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if score >= s.fuzzyThreshold && score > best.score {
				best = candidate{name: entry, score: score, phonetic: false}
			}
		}
	}

	if best.name != "" {
		return best.name, best.score, true
	}
	return "", 0, false
}

// splitName breaks an identifier into lowercase tokens at camelCase humps
// and at underscore, dash, dot and space separators. "browInnerUp" and
// "brow_inner_up" both tokenize to [brow inner up].
func splitName(name string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}

	var prev rune
	for _, r := range name {
		switch {
		case r == '_' || r == '-' || r == '.' || r == ' ':
			flush()
		case unicode.IsUpper(r) && prev != 0 && !unicode.IsUpper(prev):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
		prev = r
	}
	flush()
	return tokens
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when a token is too short or has no
// consonants) are excluded.
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

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
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

// bestScore computes the highest Jaro-Winkler similarity between the input
// and a catalog entry using two strategies:
//
//  1. Concatenated token comparison ("jaw_open" vs "jawOpen" both become
//     "jawopen", which the separator-insensitive case needs).
//  2. Best pairwise token comparison, for single-token inputs that match
//     one hump of a longer name.
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestScore(nameTokens, entryTokens []string, nameConcat, entryConcat string) float64 {
	score := matchr.JaroWinkler(nameConcat, entryConcat, false)

	for _, nt := range nameTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(nt, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
