// Package extract turns fetched listing pages into raw records using declarative rule sets.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tripscout/internal/domain"
)

// Result is the outcome of one structural parse.
type Result struct {
	Records    []domain.RawRecord
	Items      int // listing items seen before the required-field check
	Incomplete int // items dropped for missing required fields
}

// Extract applies rs to the page body. A missing marker or a page with no item carrying
// every required field is a *domain.ParseError.
func Extract(rs *RuleSet, pageURL string, body []byte) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Result{}, &domain.ParseError{URL: pageURL, Reason: "unreadable html: " + err.Error()}
	}
	if rs.Marker != "" && doc.Find(rs.Marker).Length() == 0 {
		return Result{}, &domain.ParseError{URL: pageURL, Reason: fmt.Sprintf("marker %q not found", rs.Marker)}
	}

	base, _ := url.Parse(pageURL)
	var candidates []domain.RawRecord

	if len(rs.Fields) > 0 {
		items := doc.Selection
		if rs.Item != "" {
			items = doc.Find(rs.Item)
		}
		items.Each(func(_ int, item *goquery.Selection) {
			rec := domain.RawRecord{}
			for name, f := range rs.Fields {
				if v, ok := readField(item, f, base); ok {
					rec[name] = v
				}
			}
			if len(rec) > 0 {
				candidates = append(candidates, rec)
			}
		})
	}
	if rs.JSONLD {
		candidates = append(candidates, jsonLDRecords(doc)...)
	}

	res := Result{Items: len(candidates)}
	for _, rec := range candidates {
		if !hasRequired(rec, rs.Required) {
			res.Incomplete++
			continue
		}
		if _, ok := rec[FieldURL]; !ok {
			rec[FieldURL] = pageURL
		}
		res.Records = append(res.Records, rec)
	}
	if len(res.Records) == 0 {
		return res, &domain.ParseError{
			URL:    pageURL,
			Reason: fmt.Sprintf("no listing with required fields %v (%d items seen)", rs.Required, res.Items),
		}
	}
	return res, nil
}

func readField(item *goquery.Selection, f FieldRule, base *url.URL) (any, bool) {
	if f.Const != "" {
		return f.Const, true
	}
	sel := item
	if f.Selector != "" {
		sel = item.Find(f.Selector)
	}
	if sel.Length() == 0 {
		return nil, false
	}
	if f.Multi {
		var out []any
		sel.Each(func(_ int, s *goquery.Selection) {
			if v := f.apply(nodeValue(s, f.Attr, base)); v != "" {
				out = append(out, v)
			}
		})
		return out, len(out) > 0
	}
	v := f.apply(nodeValue(sel.First(), f.Attr, base))
	return v, v != ""
}

func (f FieldRule) apply(v string) string {
	if f.re == nil || v == "" {
		return v
	}
	m := f.re.FindStringSubmatch(v)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return strings.TrimSpace(m[1])
	default:
		return strings.TrimSpace(m[0])
	}
}

func nodeValue(s *goquery.Selection, attr string, base *url.URL) string {
	if attr == "" {
		return strings.Join(strings.Fields(s.Text()), " ")
	}
	v, _ := s.Attr(attr)
	v = strings.TrimSpace(v)
	if (attr == "href" || attr == "src") && base != nil && v != "" {
		if u, err := base.Parse(v); err == nil {
			return u.String()
		}
	}
	return v
}

func hasRequired(rec domain.RawRecord, required []string) bool {
	for _, k := range required {
		switch v := rec[k].(type) {
		case nil:
			return false
		case string:
			if strings.TrimSpace(v) == "" {
				return false
			}
		case []any:
			if len(v) == 0 {
				return false
			}
		}
	}
	return true
}

var jsonLDTypes = map[string]bool{"touristtrip": true, "product": true, "offer": true, "trip": true}

// listingType accepts a single @type or an array of them, bare or as a schema.org IRI.
func listingType(v any) bool {
	switch t := v.(type) {
	case string:
		name := t[strings.LastIndexAny(t, "/:#")+1:]
		return jsonLDTypes[strings.ToLower(name)]
	case []any:
		for _, e := range t {
			if listingType(e) {
				return true
			}
		}
	}
	return false
}

// jsonLDRecords maps schema.org TouristTrip/Product blocks onto canonical fields.
func jsonLDRecords(doc *goquery.Document) []domain.RawRecord {
	var out []domain.RawRecord
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		for _, node := range flattenLD(payload) {
			if !listingType(node["@type"]) {
				continue
			}
			rec := domain.RawRecord{}
			setIf(rec, FieldTitle, node["name"])
			setIf(rec, FieldURL, node["url"])
			setIf(rec, FieldDuration, node["duration"])
			setIf(rec, FieldDestination, placeName(node["touristDestination"]))
			if _, ok := rec[FieldDestination]; !ok {
				setIf(rec, FieldDestination, placeName(node["itinerary"]))
			}
			if offers := firstMap(node["offers"]); offers != nil {
				setIf(rec, FieldPrice, offers["price"])
				setIf(rec, FieldCurrency, offers["priceCurrency"])
				setIf(rec, FieldAvailableFrom, offers["availabilityStarts"])
				setIf(rec, FieldAvailableTo, offers["availabilityEnds"])
			}
			if agg := firstMap(node["aggregateRating"]); agg != nil {
				setIf(rec, FieldRating, agg["ratingValue"])
				setIf(rec, FieldReviewCount, agg["reviewCount"])
			}
			if inc, ok := node["includes"].([]any); ok {
				rec[FieldInclusions] = inc
			}
			out = append(out, rec)
		}
	})
	return out
}

func flattenLD(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, it := range t {
			out = append(out, flattenLD(it)...)
		}
		return out
	case map[string]any:
		if g, ok := t["@graph"]; ok {
			return flattenLD(g)
		}
		return []map[string]any{t}
	}
	return nil
}

func firstMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}

func placeName(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return t["name"]
	case []any:
		if len(t) > 0 {
			return placeName(t[0])
		}
	}
	return nil
}

func setIf(rec domain.RawRecord, k string, v any) {
	switch t := v.(type) {
	case nil:
	case string:
		if strings.TrimSpace(t) != "" {
			rec[k] = strings.TrimSpace(t)
		}
	case float64:
		rec[k] = t
	default:
		rec[k] = fmt.Sprint(t)
	}
}
