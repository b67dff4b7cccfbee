package ranking

import (
	"math"
	"sort"
	"strings"
	"testing"

	"tripscout/internal/domain"
)

func TestRank_TrustBreaksTies(t *testing.T) {
	q := domain.TripQuery{Destination: "Bali", DurationDays: intp(7)}
	low := pkg("low", "Bali", 1000, 7, 0.5)
	high := pkg("high", "Bali", 1000, 7, 0.9)
	// zero trust weight makes the scores tie exactly
	w := DefaultWeights()
	w[domain.CriterionTrust] = 0

	got := NewRanker(Config{Weights: w}).Rank(q, []domain.StoredPackage{low, high})
	if got[0].ID != "high" || got[0].Rank != 1 || got[1].Rank != 2 {
		t.Fatalf("order = %s,%s", got[0].ID, got[1].ID)
	}
	if math.Abs(got[0].Score-got[1].Score) > 1e-12 {
		t.Fatalf("scores should tie: %v %v", got[0].Score, got[1].Score)
	}
}

func TestRank_PriceThenIDBreakTies(t *testing.T) {
	q := domain.TripQuery{Destination: "Goa"}
	a := pkg("b", "Goa", 300, 4, 0.5)
	b := pkg("a", "Goa", 300, 4, 0.5)
	c := pkg("c", "Goa", 200, 4, 0.5)
	got := NewRanker(Config{}).Rank(q, []domain.StoredPackage{a, b, c})
	var ids []string
	for _, x := range got {
		ids = append(ids, x.ID)
	}
	if strings.Join(ids, ",") != "c,a,b" {
		t.Fatalf("order = %v", ids)
	}
}

func TestRank_BaliScenario(t *testing.T) {
	q := domain.TripQuery{Destination: "Bali", BudgetMax: floatp(1500), DurationDays: intp(7)}
	in := []domain.StoredPackage{
		pkg("cheap", "Bali", 1200, 7, 0.5),
		pkg("pricey", "Bali", 2000, 7, 0.5),
	}
	got := NewRanker(Config{}).Top(q, NewFilter(nil).Apply(q, in))
	if len(got) != 1 || got[0].ID != "cheap" {
		t.Fatalf("got %+v", got)
	}
	if !strings.Contains(got[0].Explanation, "Perfect match for Bali") ||
		!strings.Contains(got[0].Explanation, "Perfect 7-day duration") {
		t.Fatalf("explanation = %q", got[0].Explanation)
	}
	// 1200/1500 = 0.8 is still comfortably inside the budget
	if got[0].SubScores[domain.CriterionBudget] != 1 {
		t.Fatalf("budget sub-score = %v", got[0].SubScores[domain.CriterionBudget])
	}
}

func TestWeights_AlwaysSumToOne(t *testing.T) {
	rating := 4.2
	q := domain.TripQuery{Destination: "Bali", Inclusions: []string{"meals"}}
	withRating := pkg("r", "Bali", 100, 5, 0.6)
	withRating.Rating, withRating.ReviewCount = &rating, 40
	bare := pkg("n", "Bali", 100, 5, 0.6)

	sets := []Weights{
		DefaultWeights(),
		{domain.CriterionBudget: 3, domain.CriterionTrust: 1},
		{},
		{domain.CriterionDestination: -1, domain.CriterionReviews: 2},
	}
	for _, policy := range []MissingPolicy{MissingMidpoint, MissingRenormalize} {
		for _, w := range sets {
			r := NewRanker(Config{Weights: w, Missing: policy})
			for _, p := range []domain.StoredPackage{withRating, bare} {
				sum := 0.0
				for _, v := range r.effectiveWeights(r.subScores(q, p)) {
					sum += v
				}
				if math.Abs(sum-1) > 1e-9 {
					t.Fatalf("policy %s weights %v: sum %v", policy, w, sum)
				}
				c := r.score(q, p)
				if c.Score < 0 || c.Score > 1 {
					t.Fatalf("score out of range: %v", c.Score)
				}
			}
		}
	}
}

func TestRank_MissingRatingIsNeutral(t *testing.T) {
	q := domain.TripQuery{Destination: "Bali"}
	poor := 1.0
	rated := pkg("rated", "Bali", 100, 5, 0.5)
	rated.Rating, rated.ReviewCount = &poor, 3
	unrated := pkg("unrated", "Bali", 100, 5, 0.5)

	got := NewRanker(Config{}).Rank(q, []domain.StoredPackage{rated, unrated})
	if got[0].ID != "unrated" {
		t.Fatalf("missing rating should score at the midpoint, got %s first", got[0].ID)
	}
	if got[0].SubScores[domain.CriterionReviews] != 0.5 {
		t.Fatalf("reviews sub-score = %v", got[0].SubScores[domain.CriterionReviews])
	}
}

func TestSubScores(t *testing.T) {
	if v := budgetScore(1500, 1500); v != 0.5 {
		t.Fatalf("budget at ceiling = %v", v)
	}
	if v := budgetScore(600, 1500); v != 1 {
		t.Fatalf("budget well under = %v", v)
	}
	if v := reviewScore(5, 100); math.Abs(v-1) > 1e-9 {
		t.Fatalf("saturated reviews = %v", v)
	}
	if v := reviewScore(5, 0); v != 0 {
		t.Fatalf("no reviews = %v", v)
	}
	if v := inclusionScore([]string{"Meals", "flights"}, []string{"meals", "hotel"}); v != 0.5 {
		t.Fatalf("inclusions = %v", v)
	}
}

func TestTop_RespectsMaxResults(t *testing.T) {
	var in []domain.StoredPackage
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		in = append(in, pkg(id, "Goa", 100, 4, 0.5))
	}
	r := NewRanker(Config{})
	if got := r.Top(domain.TripQuery{Destination: "Goa"}, in); len(got) != DefaultTopN {
		t.Fatalf("default top = %d", len(got))
	}
	if got := r.Top(domain.TripQuery{Destination: "Goa", MaxResults: 2}, in); len(got) != 2 {
		t.Fatalf("max_results top = %d", len(got))
	}
}

func TestRankedBefore_NearEqualScoresOrderConsistently(t *testing.T) {
	cand := func(id string, score, trust float64) domain.PackageCandidate {
		c := domain.PackageCandidate{Score: score}
		c.ID, c.AgencyTrust, c.Price = id, trust, 1000
		return c
	}
	a := cand("a", 0.5, 0.9)
	b := cand("b", 0.5+0.6e-9, 0.5)
	c := cand("c", 0.5+1.2e-9, 0.1)

	perms := [][]domain.PackageCandidate{{a, b, c}, {a, c, b}, {b, a, c}, {b, c, a}, {c, a, b}, {c, b, a}}
	for _, in := range perms {
		sort.SliceStable(in, func(i, j int) bool { return rankedBefore(in[i], in[j]) })
		got := in[0].ID + in[1].ID + in[2].ID
		if got != "bca" {
			t.Fatalf("order = %s, want bca", got)
		}
	}
	if rankedBefore(a, b) && rankedBefore(b, c) && rankedBefore(c, a) {
		t.Fatal("ordering is not transitive")
	}
}
