// Package ranking filters stored packages against a trip query and orders the survivors
// with a weighted, explainable score.
package ranking

import (
	"math"

	"tripscout/internal/domain"
)

type DropReason string

const (
	DropInvalid     DropReason = "invalid"
	DropDestination DropReason = "destination"
	DropCurrency    DropReason = "currency"
	DropBudget      DropReason = "budget"
	DropDuration    DropReason = "duration"
	DropDates       DropReason = "dates"
)

type FilterReport struct {
	Kept    int
	Dropped map[DropReason]int
}

// Filter applies the hard constraints of a query. It holds no mutable state.
type Filter struct {
	aliases Aliases
}

func NewFilter(aliases Aliases) Filter {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return Filter{aliases: aliases}
}

// Apply returns the packages that satisfy q, in input order.
func (f Filter) Apply(q domain.TripQuery, pkgs []domain.StoredPackage) []domain.StoredPackage {
	out, _ := f.ApplyWithReport(q, pkgs)
	return out
}

func (f Filter) ApplyWithReport(q domain.TripQuery, pkgs []domain.StoredPackage) ([]domain.StoredPackage, FilterReport) {
	rep := FilterReport{Dropped: make(map[DropReason]int)}
	out := make([]domain.StoredPackage, 0, len(pkgs))
	for _, p := range pkgs {
		if reason, ok := f.check(q, p); !ok {
			rep.Dropped[reason]++
			continue
		}
		out = append(out, p)
	}
	rep.Kept = len(out)
	return out, rep
}

func (f Filter) check(q domain.TripQuery, p domain.StoredPackage) (DropReason, bool) {
	if p.Validate() != nil {
		return DropInvalid, false
	}
	if !DestinationMatches(q.Destination, p.Destination, f.aliases) {
		return DropDestination, false
	}
	if q.BudgetMax != nil {
		// no FX conversion: a budget in one currency cannot bound a price in another
		if q.Currency != "" && p.Currency != "" && p.Currency != q.Currency {
			return DropCurrency, false
		}
		if p.Price*float64(q.Party()) > *q.BudgetMax {
			return DropBudget, false
		}
	}
	if q.DurationDays != nil {
		if math.Abs(float64(p.DurationDays-*q.DurationDays)) > float64(q.Flexibility()) {
			return DropDuration, false
		}
	}
	if q.DateRange != nil && !q.DateRange.Overlaps(p.AvailableFrom, p.AvailableTo) {
		return DropDates, false
	}
	return "", true
}
