// Package textnorm folds free text scraped from agency sites into comparable keys.
package textnorm

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SimilarityThreshold is the minimum similarity for two folded names to count as the same place.
const SimilarityThreshold = 0.8

// Fold drops case and diacritics, keeping letters and digits separated by single spaces.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	var b strings.Builder
	space := false
	for _, r := range out {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Tokens splits a folded string into words.
func Tokens(s string) []string { return strings.Fields(Fold(s)) }

// Similarity returns 0..1 edit-distance similarity of the folded inputs.
func Similarity(a, b string) float64 {
	fa, fb := Fold(a), Fold(b)
	if fa == "" || fb == "" {
		return 0
	}
	if fa == fb {
		return 1
	}
	return levenshtein.Similarity(fa, fb, nil)
}

// ContainsPhrase reports whether the folded haystack contains needle on word boundaries.
func ContainsPhrase(haystack, needle string) bool {
	h, n := " "+Fold(haystack)+" ", Fold(needle)
	if n == "" {
		return false
	}
	return strings.Contains(h, " "+n+" ")
}

// BestTokenSimilarity compares needle with every window of the haystack's words of
// the same length and returns the best similarity.
func BestTokenSimilarity(haystack, needle string) float64 {
	ht, nt := Tokens(haystack), Tokens(needle)
	if len(ht) == 0 || len(nt) == 0 {
		return 0
	}
	best := Similarity(haystack, needle)
	if len(nt) > len(ht) {
		return best
	}
	n := strings.Join(nt, " ")
	for i := 0; i+len(nt) <= len(ht); i++ {
		w := strings.Join(ht[i:i+len(nt)], " ")
		if s := levenshtein.Similarity(w, n, nil); s > best {
			best = s
		}
	}
	return best
}

// Related is the coarse destination predicate used by stores to narrow reads.
func Related(query, destination string) bool {
	if ContainsPhrase(destination, query) || ContainsPhrase(query, destination) {
		return true
	}
	return BestTokenSimilarity(destination, query) >= SimilarityThreshold
}
