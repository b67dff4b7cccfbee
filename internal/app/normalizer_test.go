package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"tripscout/internal/domain"
	"tripscout/internal/storage/memory"
)

func TestDurationFromText(t *testing.T) {
	cases := map[string]int{
		"7 Days / 6 Nights": 7,
		"6N/7D":             7,
		"6 Nights 7 Days":   7,
		"5 days":            5,
		"4 nights":          5,
		"1 week":            7,
		"a week in Goa":     7,
		"2 weeks":           14,
		"P7D":               7,
		"P1W":               7,
		" 3 ":               3,
	}
	for in, want := range cases {
		got, ok := durationFromText(in)
		if !ok || got != want {
			t.Errorf("durationFromText(%q) = %d, %v; want %d", in, got, ok, want)
		}
	}
	if _, ok := durationFromText("flexible"); ok {
		t.Error("expected no duration")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in    string
		comma bool
		want  float64
	}{
		{"₹ 25,999/-", false, 25999},
		{"Rs. 1,25,000 per person", false, 125000},
		{"from $1,299.50", false, 1299.5},
		{"1.299,50 €", true, 1299.5},
		{"CHF 2'450", false, 2450},
		{"1 200 - 1 500", false, 1200},
	}
	for _, tt := range tests {
		got, ok := parseAmount(tt.in, tt.comma)
		if !ok || got != tt.want {
			t.Errorf("parseAmount(%q) = %v, %v; want %v", tt.in, got, ok, tt.want)
		}
	}
}

func TestDetectCurrency(t *testing.T) {
	cases := map[string]string{
		"₹ 25,999":  "INR",
		"Rs. 9,999": "INR",
		"A$ 1,200":  "AUD",
		"$ 800":     "USD",
		"EUR 700":   "EUR",
		"1.299 €":   "EUR",
	}
	for in, want := range cases {
		if got, ok := detectCurrency(in); !ok || got != want {
			t.Errorf("detectCurrency(%q) = %q, %v; want %s", in, got, ok, want)
		}
	}
	if _, ok := detectCurrency("all meals"); ok {
		t.Error("lowercase words must not read as currency codes")
	}
}

func TestParseRating(t *testing.T) {
	cases := map[any]float64{"4.5": 4.5, "4,2": 4.2, "9/10": 4.5, 8.0: 4.0, "4 out of 5": 4, "92%": 4.6, 80.0: 4.0}
	for in, want := range cases {
		got, ok := parseRating(in)
		if !ok || math.Abs(got-want) > 1e-9 {
			t.Errorf("parseRating(%v) = %v, %v; want %v", in, got, ok, want)
		}
	}
	for _, in := range []any{"New", "No reviews yet", 420.0, "7/5", -1.0} {
		if got, ok := parseRating(in); ok {
			t.Errorf("parseRating(%v) = %v, want not ok", in, got)
		}
	}
}

func TestNormalize_BadRatingKeepsPackage(t *testing.T) {
	n := NewNormalizer(memory.New(), "INR")
	for _, rating := range []any{"New", "No reviews yet", 42000.0} {
		raw := domain.RawRecord{"destination": "Bali", "price": "₹45,000", "duration": "7 Days / 6 Nights", "rating": rating}
		p, _, err := n.Normalize(context.Background(), "ag", "https://x.example/bali", raw, domain.Units{})
		if err != nil {
			t.Fatalf("rating %v: %v", rating, err)
		}
		if p.Rating != nil || p.Price != 45000 || p.DurationDays != 7 {
			t.Fatalf("rating %v: unexpected package %+v", rating, p)
		}
	}

	raw := domain.RawRecord{"destination": "Bali", "price": "₹45,000", "duration": "7 Days / 6 Nights", "rating": "92%"}
	p, _, err := n.Normalize(context.Background(), "ag", "https://x.example/bali", raw, domain.Units{})
	if err != nil || p.Rating == nil || math.Abs(*p.Rating-4.6) > 1e-9 {
		t.Fatalf("percent rating: %v %v", p.Rating, err)
	}
}

func TestCanonicalInclusions(t *testing.T) {
	got := canonicalInclusions(
		inclusionItems("Breakfast & Dinner; Airport pickup | 3★ Hotel stay • Camel ride"),
		map[string][]string{"activities": {"camel ride"}},
	)
	want := []string{"activities", "hotel", "meals", "transfers"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNormalize_FieldsAndFingerprint(t *testing.T) {
	store := memory.New()
	n := NewNormalizer(store, "INR")
	n.now = func() time.Time { return time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC) }

	raw := domain.RawRecord{
		"title":          "Magical Kerala",
		"destination":    "  Kerala   Backwaters ",
		"duration":       "5N/6D",
		"price":          "₹ 24,500",
		"inclusions":     []any{"Houseboat stay", map[string]any{"name": "All meals"}},
		"rating":         "4.6/5",
		"review_count":   "(1,204 reviews)",
		"available_from": "01/06/2026",
		"available_to":   "30/09/2026",
	}
	units := domain.Units{DateLayouts: []string{"02/01/2006"}}
	ctx := context.Background()

	p, res, err := n.Normalize(ctx, "ag-1", "https://kt.example/pkg/1", raw, units)
	if err != nil {
		t.Fatal(err)
	}
	if res != ResultChanged {
		t.Fatalf("res = %s", res)
	}
	if p.Destination != "Kerala Backwaters" || p.DurationDays != 6 || p.Price != 24500 || p.Currency != "INR" {
		t.Fatalf("pkg = %+v", p)
	}
	if p.Rating == nil || *p.Rating < 4.59 || *p.Rating > 4.61 || p.ReviewCount != 1204 {
		t.Fatalf("rating = %v count = %d", p.Rating, p.ReviewCount)
	}
	if p.AvailableFrom == nil || p.AvailableFrom.Month() != time.June {
		t.Fatalf("available_from = %v", p.AvailableFrom)
	}
	if p.ID != PackageID("ag-1", "https://kt.example/pkg/1") {
		t.Fatal("id not deterministic")
	}

	if err := store.UpsertPackage(ctx, p); err != nil {
		t.Fatal(err)
	}
	n.now = func() time.Time { return time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC) }
	_, res, err = n.Normalize(ctx, "ag-1", "https://kt.example/pkg/1", raw, units)
	if err != nil || res != ResultUnchanged {
		t.Fatalf("second normalize: %s %v", res, err)
	}

	raw["price"] = "₹ 23,900"
	_, res, _ = n.Normalize(ctx, "ag-1", "https://kt.example/pkg/1", raw, units)
	if res != ResultChanged {
		t.Fatal("price change must change the fingerprint")
	}
}

func TestNormalize_Drops(t *testing.T) {
	n := NewNormalizer(memory.New(), "USD")
	base := func() domain.RawRecord {
		return domain.RawRecord{"destination": "Goa", "duration": "4 days", "price": "$500"}
	}
	tests := []struct {
		name  string
		edit  func(domain.RawRecord)
		field string
	}{
		{"no destination", func(r domain.RawRecord) { delete(r, "destination") }, "destination"},
		{"zero duration", func(r domain.RawRecord) { r["duration"] = "0 days" }, "duration_days"},
		{"no duration", func(r domain.RawRecord) { r["duration"] = "flexible" }, "duration_days"},
		{"negative price", func(r domain.RawRecord) { r["price"] = -10.0 }, "price"},
		{"no price", func(r domain.RawRecord) { r["price"] = "on request" }, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.edit(r)
			_, _, err := n.Normalize(context.Background(), "ag", "https://x.example/1", r, domain.Units{})
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("field = %s, want %s", ve.Field, tt.field)
			}
		})
	}
}

func TestPackageWriter_Ingest(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	agency := domain.Agency{ID: "ag-1", Name: "Kerala Trails", Domain: "kt.example", TrustScore: 0.6, IsActive: true}
	_ = store.UpsertAgency(ctx, agency)
	w := NewPackageWriter(NewNormalizer(store, "INR"), store)

	page := "https://kt.example/packages"
	recs := []domain.RawRecord{
		{"title": "Munnar", "destination": "Munnar", "duration": "3D/2N", "price": "9,999", "url": page},
		{"title": "Alleppey", "destination": "Alleppey", "duration": "2 days", "price": "7,499", "url": page},
		{"title": "Broken", "destination": "", "duration": "2 days", "price": "100"},
		{"title": "Detail", "destination": "Kochi", "duration": "2 days", "price": "5,000", "url": "/pkg/kochi"},
	}
	rep, err := w.Ingest(ctx, agency, page, recs, domain.Units{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Written != 3 || rep.Dropped != 1 || rep.Unchanged != 0 {
		t.Fatalf("first report = %+v", rep)
	}
	if _, ok, _ := store.PackageFingerprint(ctx, "ag-1", "https://kt.example/pkg/kochi"); !ok {
		t.Fatal("relative record url should resolve against the page")
	}

	rep, err = w.Ingest(ctx, agency, page, recs, domain.Units{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Written != 0 || rep.Unchanged != 3 {
		t.Fatalf("second report = %+v", rep)
	}
	if store.PackageWrites() != 3 {
		t.Fatalf("writes = %d", store.PackageWrites())
	}
}

func TestRecordURL_FragmentIsStable(t *testing.T) {
	rec := domain.RawRecord{"title": "A", "destination": "Goa", "duration": "3 days"}
	a := recordURL("https://x.example/list", rec)
	b := recordURL("https://x.example/list#top", rec)
	if a != b || a == "https://x.example/list" {
		t.Fatalf("a=%s b=%s", a, b)
	}
}
