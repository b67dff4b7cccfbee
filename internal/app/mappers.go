package app

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"

	"tripscout/internal/domain"
	"tripscout/internal/extract"
	"tripscout/internal/textnorm"
)

/********** alias registry **********/

// recordAliases lists the keys a raw record may use for each canonical field. Extraction
// emits canonical names; the aliases cover records assembled by hand-written rule sets
// and JSON-LD payloads.
var recordAliases = map[string][]string{
	extract.FieldTitle:         {"title", "name", "package_title", "package_name", "heading"},
	extract.FieldDestination:   {"destination", "destinations", "location", "place", "city", "region"},
	extract.FieldDuration:      {"duration", "duration_days", "days", "length", "nights_days"},
	extract.FieldPrice:         {"price", "price_in_inr", "cost", "amount", "fare", "offers.price"},
	extract.FieldCurrency:      {"currency", "priceCurrency", "offers.priceCurrency"},
	extract.FieldInclusions:    {"inclusions", "includes", "included", "amenities", "features"},
	extract.FieldRating:        {"rating", "ratingValue", "score", "aggregateRating.ratingValue"},
	extract.FieldReviewCount:   {"review_count", "reviews_count", "reviewCount", "reviews", "aggregateRating.reviewCount"},
	extract.FieldAvailableFrom: {"available_from", "valid_from", "start_date", "availabilityStarts"},
	extract.FieldAvailableTo:   {"available_to", "valid_to", "valid_till", "end_date", "availabilityEnds"},
	extract.FieldURL:           {"url", "link", "href", "source_url"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// field returns the first present value for a canonical field.
func field(r domain.RawRecord, name string) any {
	for _, p := range recordAliases[name] {
		switch v := lookupAny(r, p).(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		default:
			return v
		}
	}
	return nil
}

// fieldStr flattens a field to one line of text; lists are joined with ", ".
func fieldStr(r domain.RawRecord, name string) string {
	switch v := field(r, name).(type) {
	case nil:
		return ""
	case string:
		return collapse(v)
	case []any:
		return strings.Join(sliceStrings(v), ", ")
	default:
		return collapse(fmt.Sprint(v))
	}
}

func collapse(s string) string { return strings.Join(strings.Fields(s), " ") }

// sliceStrings accepts []any with either strings or {name/url}.
func sliceStrings(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, it := range raw {
		switch t := it.(type) {
		case string:
			if s := collapse(t); s != "" {
				out = append(out, s)
			}
		case map[string]any:
			if n, ok := t["name"].(string); ok && n != "" {
				out = append(out, collapse(n))
				continue
			}
			if u, ok := t["url"].(string); ok && u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}

/********** currency **********/

// currencySymbols maps symbols and local abbreviations to ISO 4217 codes.
// Matching tries longer symbols first so "A$" wins over "$".
var currencySymbols = map[string]string{
	"US$": "USD", "A$": "AUD", "AU$": "AUD", "C$": "CAD", "S$": "SGD", "NZ$": "NZD", "HK$": "HKD",
	"$": "USD", "€": "EUR", "£": "GBP", "₹": "INR", "Rs.": "INR", "Rs": "INR", "¥": "JPY",
	"฿": "THB", "RM": "MYR", "Rp": "IDR", "₫": "VND", "₩": "KRW", "د.إ": "AED", "CHF": "CHF",
}

var symbolOrder = func() []string {
	keys := make([]string, 0, len(currencySymbols))
	for k := range currencySymbols {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var isoCodeRe = regexp.MustCompile(`\b[A-Z]{3}\b`)

// detectCurrency finds an ISO code or a known symbol in s.
func detectCurrency(s string) (string, bool) {
	for _, m := range isoCodeRe.FindAllString(s, -1) {
		if u, err := currency.ParseISO(m); err == nil {
			return u.String(), true
		}
	}
	for _, sym := range symbolOrder {
		if strings.Contains(s, sym) {
			return currencySymbols[sym], true
		}
	}
	return "", false
}

/********** numbers **********/

var numberRe = regexp.MustCompile(`\d[\d.,'\x{00a0}\x{202f} ]*\d|\d`)

// parseAmount reads the first number in s. With decimalComma "1.299,50" is 1299.5;
// otherwise commas, spaces and apostrophes are thousands separators.
func parseAmount(s string, decimalComma bool) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	m = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "").Replace(m)
	if decimalComma {
		m = strings.ReplaceAll(m, ".", "")
		m = strings.ReplaceAll(m, ",", ".")
	} else {
		m = strings.ReplaceAll(m, ",", "")
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// floatFlexible: number from float64/int/string like "4,5" or "4.5/5".
func floatFlexible(v any, decimalComma bool) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		return parseAmount(t, decimalComma)
	}
	return 0, false
}

func intFlexible(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		f, ok := parseAmount(t, false)
		return int(f), ok
	}
	return 0, false
}

var (
	ratingScaleRe   = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:/|out of)\s*(\d+)`)
	ratingPercentRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*%`)
)

// parseRating normalizes ratings to 0..5; "9.1/10" becomes 4.55 and "92%" becomes 4.6.
// Anything that does not land in 0..5 is reported as unparseable.
func parseRating(v any) (float64, bool) {
	f, ok := rawRating(v)
	if !ok || f < 0 || f > 5 {
		return 0, false
	}
	return f, true
}

func rawRating(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		if m := ratingScaleRe.FindStringSubmatch(s); m != nil {
			val, _ := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
			scale, _ := strconv.ParseFloat(m[2], 64)
			if scale > 0 {
				return val / scale * 5, true
			}
		}
		if m := ratingPercentRe.FindStringSubmatch(s); m != nil {
			val, _ := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
			return val / 100 * 5, true
		}
		v = strings.ReplaceAll(s, ",", ".")
	}
	f, ok := floatFlexible(v, false)
	if !ok {
		return 0, false
	}
	switch {
	case f > 5 && f <= 10:
		f /= 2
	case f > 10 && f <= 100:
		f = f / 100 * 5
	}
	return f, true
}

/********** durations **********/

var (
	isoDurationRe = regexp.MustCompile(`(?i)^P(?:(\d+)W)?(?:(\d+)D)?`)
	nightsDaysRe  = regexp.MustCompile(`(?i)(\d+)\s*N(?:ights?)?\s*[/,&-]?\s*(\d+)\s*D(?:ays?)?\b`)
	daysNightsRe  = regexp.MustCompile(`(?i)(\d+)\s*D(?:ays?)?\s*[/,&-]?\s*(\d+)\s*N(?:ights?)?\b`)
	daysRe        = regexp.MustCompile(`(?i)(\d+)\s*days?\b`)
	nightsRe      = regexp.MustCompile(`(?i)(\d+)\s*nights?\b`)
	weeksRe       = regexp.MustCompile(`(?i)(\d+|a|one|two)\s*weeks?\b`)
	bareIntRe     = regexp.MustCompile(`^\s*(\d+)\s*$`)
)

// parseDurationDays understands "7 Days / 6 Nights", "6N/7D", "1 week", "P7D" and
// bare numbers. A nights-only phrase counts one extra day.
func parseDurationDays(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		return durationFromText(t)
	}
	return 0, false
}

func durationFromText(s string) (int, bool) {
	s = strings.TrimSpace(s)
	atoi := func(x string) int { n, _ := strconv.Atoi(x); return n }

	if m := isoDurationRe.FindStringSubmatch(s); m != nil && (m[1] != "" || m[2] != "") {
		return atoi(m[1])*7 + atoi(m[2]), true
	}
	if m := daysNightsRe.FindStringSubmatch(s); m != nil {
		return atoi(m[1]), true
	}
	if m := nightsDaysRe.FindStringSubmatch(s); m != nil {
		return atoi(m[2]), true
	}
	if m := daysRe.FindStringSubmatch(s); m != nil {
		return atoi(m[1]), true
	}
	if m := nightsRe.FindStringSubmatch(s); m != nil {
		return atoi(m[1]) + 1, true
	}
	if m := weeksRe.FindStringSubmatch(s); m != nil {
		n := 1
		switch strings.ToLower(m[1]) {
		case "a", "one":
		case "two":
			n = 2
		default:
			n = atoi(m[1])
		}
		return n * 7, true
	}
	if m := bareIntRe.FindStringSubmatch(s); m != nil {
		return atoi(m[1]), true
	}
	return 0, false
}

/********** dates **********/

var defaultDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
}

// parseDate tries the agency's layouts before the defaults.
func parseDate(v any, layouts []string) (*time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = collapse(s)
	if s == "" {
		return nil, false
	}
	for _, ls := range [][]string{layouts, defaultDateLayouts} {
		for _, l := range ls {
			if t, err := time.Parse(l, s); err == nil {
				u := t.UTC()
				return &u, true
			}
		}
	}
	return nil, false
}

/********** inclusions **********/

// defaultInclusions maps canonical inclusions to common phrasing. An agency rule set's
// units.inclusions extends it.
var defaultInclusions = map[string][]string{
	"meals":       {"meals", "meal", "breakfast", "dinner", "lunch", "all meals", "map plan", "cp plan"},
	"flights":     {"flight", "flights", "airfare", "air fare", "air tickets", "airport tickets"},
	"hotel":       {"hotel", "hotels", "accommodation", "stay", "resort", "houseboat"},
	"transfers":   {"transfer", "transfers", "pickup", "pick up", "drop", "cab", "transport"},
	"sightseeing": {"sightseeing", "excursion", "excursions", "city tour", "guided tour"},
	"visa":        {"visa"},
	"insurance":   {"insurance", "travel insurance"},
	"guide":       {"guide", "tour guide", "escort"},
	"activities":  {"activities", "adventure", "safari", "trek", "trekking", "rafting"},
}

var inclusionSplitRe = regexp.MustCompile(`[,;|•\n]+|\s+\+\s+`)

func inclusionItems(v any) []string {
	switch t := v.(type) {
	case []any:
		return sliceStrings(t)
	case []string:
		return t
	case string:
		var out []string
		for _, p := range inclusionSplitRe.Split(t, -1) {
			if p = collapse(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// canonicalInclusions maps phrases to canonical names. Unknown phrases are kept folded.
// The result is sorted and unique.
func canonicalInclusions(items []string, extra map[string][]string) []string {
	set := map[string]bool{}
	for _, it := range items {
		f := textnorm.Fold(it)
		if f == "" {
			continue
		}
		matched := false
		for _, table := range []map[string][]string{extra, defaultInclusions} {
			for canon, phrases := range table {
				for _, ph := range phrases {
					if textnorm.ContainsPhrase(f, ph) {
						set[textnorm.Fold(canon)] = true
						matched = true
						break
					}
				}
			}
		}
		if !matched {
			set[f] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
