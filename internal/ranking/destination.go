package ranking

import (
	"sort"

	"tripscout/internal/textnorm"
)

// Aliases resolves alternate names of one place to a canonical folded key.
type Aliases map[string]string

// DefaultAliases covers common alternate spellings seen on agency sites.
func DefaultAliases() Aliases {
	return Aliases{
		"bombay":      "mumbai",
		"madras":      "chennai",
		"calcutta":    "kolkata",
		"bengaluru":   "bangalore",
		"denpasar":    "bali",
		"ubud":        "bali",
		"kuta":        "bali",
		"seminyak":    "bali",
		"pondicherry": "puducherry",
		"kashmir":     "jammu and kashmir",
		"srinagar":    "jammu and kashmir",
		"andaman":     "andaman and nicobar",
		"port blair":  "andaman and nicobar",
		"havelock":    "andaman and nicobar",
		"dubai city":  "dubai",
		"phuket town": "phuket",
		"male":        "maldives",
		"saigon":      "ho chi minh city",
		"new york":    "new york city",
		"nyc":         "new york city",
		"holland":     "netherlands",
		"peking":      "beijing",
	}
}

func (a Aliases) resolve(s string) string {
	f := textnorm.Fold(s)
	if c, ok := a[f]; ok {
		return c
	}
	return f
}

// canonicals resolves every alias phrase that appears inside s.
func (a Aliases) canonicals(s string) map[string]bool {
	f := textnorm.Fold(s)
	out := map[string]bool{f: true, a.resolve(f): true}
	for alias, canon := range a {
		if textnorm.ContainsPhrase(f, alias) {
			out[canon] = true
		}
	}
	return out
}

// destinationScore is 1 for an exact or contained match, 0.9 for an alias match and the
// best token similarity otherwise.
func destinationScore(query, dest string, aliases Aliases) float64 {
	q, d := textnorm.Fold(query), textnorm.Fold(dest)
	if q == "" || d == "" {
		return 0
	}
	if q == d || textnorm.ContainsPhrase(d, q) || textnorm.ContainsPhrase(q, d) {
		return 1
	}
	qc := aliases.canonicals(q)
	for c := range aliases.canonicals(d) {
		if qc[c] {
			return 0.9
		}
	}
	return textnorm.BestTokenSimilarity(d, q)
}

// DestinationMatches is the hard destination predicate of the filter.
func DestinationMatches(query, dest string, aliases Aliases) bool {
	return destinationScore(query, dest, aliases) >= textnorm.SimilarityThreshold
}

// Expand returns the destination together with every alternate name that shares its
// canonical, so a store read can be widened before filtering.
func (a Aliases) Expand(dest string) []string {
	out := []string{dest}
	want := a.canonicals(dest)
	seen := map[string]bool{textnorm.Fold(dest): true}
	for alias, canon := range a {
		if !want[canon] {
			continue
		}
		for _, name := range []string{alias, canon} {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out[1:])
	return out
}
