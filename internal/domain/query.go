package domain

import (
	"fmt"
	"strings"
	"time"
)

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether [from, to] intersects the range; nil bounds are open.
func (r DateRange) Overlaps(from, to *time.Time) bool {
	if from != nil && from.After(r.End) {
		return false
	}
	if to != nil && to.Before(r.Start) {
		return false
	}
	return true
}

// TripQuery is a structured, already-parsed request. It is treated as immutable.
type TripQuery struct {
	Destination     string     `json:"destination"`
	DateRange       *DateRange `json:"date_range,omitempty"`
	DurationDays    *int       `json:"duration_days,omitempty"`
	BudgetMax       *float64   `json:"budget_max,omitempty"`
	PartySize       *int       `json:"party_size,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	Inclusions      []string   `json:"inclusions,omitempty"`
	FlexibilityDays *int       `json:"flexibility_days,omitempty"`
	MaxResults      int        `json:"max_results,omitempty"`
}

const DefaultFlexibilityDays = 2

func (q TripQuery) Validate() error {
	if strings.TrimSpace(q.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidQuery)
	}
	if q.DurationDays != nil && *q.DurationDays < 1 {
		return fmt.Errorf("%w: duration_days must be >= 1", ErrInvalidQuery)
	}
	if q.BudgetMax != nil && *q.BudgetMax <= 0 {
		return fmt.Errorf("%w: budget_max must be positive", ErrInvalidQuery)
	}
	if q.PartySize != nil && *q.PartySize < 1 {
		return fmt.Errorf("%w: party_size must be >= 1", ErrInvalidQuery)
	}
	if q.FlexibilityDays != nil && *q.FlexibilityDays < 0 {
		return fmt.Errorf("%w: flexibility_days must be >= 0", ErrInvalidQuery)
	}
	if q.DateRange != nil && q.DateRange.End.Before(q.DateRange.Start) {
		return fmt.Errorf("%w: date_range end before start", ErrInvalidQuery)
	}
	if q.MaxResults < 0 {
		return fmt.Errorf("%w: max_results must be >= 0", ErrInvalidQuery)
	}
	return nil
}

// Flexibility returns the duration tolerance in days.
func (q TripQuery) Flexibility() int {
	if q.FlexibilityDays == nil {
		return DefaultFlexibilityDays
	}
	return *q.FlexibilityDays
}

// Party returns the party size, defaulting to one traveller.
func (q TripQuery) Party() int {
	if q.PartySize == nil || *q.PartySize < 1 {
		return 1
	}
	return *q.PartySize
}

type Criterion string

const (
	CriterionDestination Criterion = "destination"
	CriterionDuration    Criterion = "duration"
	CriterionBudget      Criterion = "budget"
	CriterionTrust       Criterion = "trust"
	CriterionReviews     Criterion = "reviews"
	CriterionInclusions  Criterion = "inclusions"
)

var Criteria = []Criterion{
	CriterionDestination, CriterionDuration, CriterionBudget,
	CriterionTrust, CriterionReviews, CriterionInclusions,
}

type PackageCandidate struct {
	StoredPackage
	Rank        int                   `json:"rank"`
	Score       float64               `json:"score"`
	Breakdown   map[Criterion]float64 `json:"score_breakdown"`
	SubScores   map[Criterion]float64 `json:"sub_scores"`
	Explanation string                `json:"explanation"`
}

type EmptyReason string

const (
	ReasonNone      EmptyReason = ""
	ReasonNoData    EmptyReason = "no_data"
	ReasonNoMatches EmptyReason = "no_matches"
)

type Recommendations struct {
	Query      TripQuery          `json:"query"`
	Candidates []PackageCandidate `json:"candidates"`
	Considered int                `json:"considered"`
	Matched    int                `json:"matched"`
	Skipped    int                `json:"skipped"`
	Reason     EmptyReason        `json:"reason,omitempty"`
}
