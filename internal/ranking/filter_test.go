package ranking

import (
	"reflect"
	"testing"
	"time"

	"tripscout/internal/domain"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func pkg(id, dest string, price float64, days int, trust float64) domain.StoredPackage {
	return domain.StoredPackage{
		Package: domain.Package{
			ID: id, AgencyID: "ag-" + id, SourceURL: "https://example.com/" + id,
			Destination: dest, Price: price, DurationDays: days, Currency: "USD",
		},
		AgencyName:  "Agency " + id,
		AgencyTrust: trust,
	}
}

func TestFilter_BudgetDropsOverpriced(t *testing.T) {
	q := domain.TripQuery{Destination: "Bali", BudgetMax: floatp(1500), DurationDays: intp(7)}
	in := []domain.StoredPackage{
		pkg("cheap", "Bali", 1200, 7, 0.5),
		pkg("pricey", "Bali", 2000, 7, 0.5),
	}
	out, rep := NewFilter(nil).ApplyWithReport(q, in)
	if len(out) != 1 || out[0].ID != "cheap" {
		t.Fatalf("got %+v", out)
	}
	if rep.Dropped[DropBudget] != 1 || rep.Kept != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestFilter_Constraints(t *testing.T) {
	june := domain.DateRange{
		Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	aug := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	sep := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		q    domain.TripQuery
		p    func() domain.StoredPackage
		want DropReason
	}{
		{"other destination", domain.TripQuery{Destination: "Bali"},
			func() domain.StoredPackage { return pkg("a", "Paris", 100, 5, 0.5) }, DropDestination},
		{"alias destination kept", domain.TripQuery{Destination: "Bali"},
			func() domain.StoredPackage { return pkg("a", "Ubud Retreat", 100, 5, 0.5) }, ""},
		{"party multiplies price", domain.TripQuery{Destination: "Goa", BudgetMax: floatp(500), PartySize: intp(3)},
			func() domain.StoredPackage { return pkg("a", "Goa", 200, 4, 0.5) }, DropBudget},
		{"currency mismatch", domain.TripQuery{Destination: "Goa", BudgetMax: floatp(50000), Currency: "INR"},
			func() domain.StoredPackage { return pkg("a", "Goa", 200, 4, 0.5) }, DropCurrency},
		{"duration within flex", domain.TripQuery{Destination: "Goa", DurationDays: intp(7)},
			func() domain.StoredPackage { return pkg("a", "Goa", 200, 5, 0.5) }, ""},
		{"duration outside flex", domain.TripQuery{Destination: "Goa", DurationDays: intp(7), FlexibilityDays: intp(0)},
			func() domain.StoredPackage { return pkg("a", "Goa", 200, 6, 0.5) }, DropDuration},
		{"window outside dates", domain.TripQuery{Destination: "Goa", DateRange: &june},
			func() domain.StoredPackage {
				p := pkg("a", "Goa", 200, 5, 0.5)
				p.AvailableFrom, p.AvailableTo = &aug, &sep
				return p
			}, DropDates},
		{"no window always available", domain.TripQuery{Destination: "Goa", DateRange: &june},
			func() domain.StoredPackage { return pkg("a", "Goa", 200, 5, 0.5) }, ""},
		{"malformed row", domain.TripQuery{Destination: "Goa"},
			func() domain.StoredPackage { return pkg("a", "Goa", -1, 5, 0.5) }, DropInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, rep := NewFilter(nil).ApplyWithReport(tt.q, []domain.StoredPackage{tt.p()})
			if tt.want == "" {
				if len(out) != 1 {
					t.Fatalf("expected kept, report %+v", rep)
				}
				return
			}
			if len(out) != 0 || rep.Dropped[tt.want] != 1 {
				t.Fatalf("expected drop %q, report %+v", tt.want, rep)
			}
		})
	}
}

func TestFilter_PureAndSubset(t *testing.T) {
	q := domain.TripQuery{Destination: "Bali", BudgetMax: floatp(1500), DurationDays: intp(7)}
	in := []domain.StoredPackage{
		pkg("1", "Bali", 1200, 7, 0.5),
		pkg("2", "Paris", 900, 7, 0.5),
		pkg("3", "Seminyak, Bali", 1400, 8, 0.7),
		pkg("4", "Bali", 1000, 3, 0.9),
	}
	snapshot := append([]domain.StoredPackage(nil), in...)
	f := NewFilter(nil)

	a := f.Apply(q, in)
	b := f.Apply(q, in)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("filter not deterministic: %v vs %v", a, b)
	}
	if !reflect.DeepEqual(in, snapshot) {
		t.Fatal("input mutated")
	}
	ids := map[string]bool{}
	for _, p := range in {
		ids[p.ID] = true
	}
	for _, p := range a {
		if !ids[p.ID] {
			t.Fatalf("%s not in input", p.ID)
		}
	}
	if len(a) != 2 || a[0].ID != "1" || a[1].ID != "3" {
		t.Fatalf("unexpected result %v", a)
	}
}

func TestAliases_Expand(t *testing.T) {
	got := DefaultAliases().Expand("Bali")
	has := map[string]bool{}
	for _, g := range got {
		has[g] = true
	}
	if got[0] != "Bali" || !has["ubud"] || !has["seminyak"] || has["mumbai"] {
		t.Fatalf("expand = %v", got)
	}
}
