package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"tripscout/internal/domain"
	"tripscout/internal/textnorm"
)

type Weights map[domain.Criterion]float64

func DefaultWeights() Weights {
	return Weights{
		domain.CriterionDestination: 0.30,
		domain.CriterionDuration:    0.20,
		domain.CriterionBudget:      0.25,
		domain.CriterionTrust:       0.10,
		domain.CriterionReviews:     0.10,
		domain.CriterionInclusions:  0.05,
	}
}

// Normalized scales the weights to sum to 1.0. Negative weights count as zero and an
// all-zero set falls back to the defaults.
func (w Weights) Normalized() Weights {
	sum := 0.0
	for _, c := range domain.Criteria {
		sum += math.Max(0, w[c])
	}
	if sum == 0 {
		return DefaultWeights()
	}
	out := make(Weights, len(domain.Criteria))
	for _, c := range domain.Criteria {
		out[c] = math.Max(0, w[c]) / sum
	}
	return out
}

// MissingPolicy decides how a criterion that cannot be scored for a package is treated.
type MissingPolicy string

const (
	// MissingMidpoint scores an inapplicable criterion at 0.5 and keeps its weight.
	MissingMidpoint MissingPolicy = "midpoint"
	// MissingRenormalize drops the criterion and spreads its weight over the others.
	MissingRenormalize MissingPolicy = "renormalize"
)

const (
	midpoint         = 0.5
	comfortableRatio = 0.8
	scorePrecision   = 1e9
	DefaultTopN      = 5
)

type Config struct {
	Weights Weights
	Missing MissingPolicy
	TopN    int
	Aliases Aliases
}

type Ranker struct {
	weights Weights
	missing MissingPolicy
	topN    int
	aliases Aliases
}

func NewRanker(cfg Config) *Ranker {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Missing != MissingRenormalize {
		cfg.Missing = MissingMidpoint
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	if cfg.Aliases == nil {
		cfg.Aliases = DefaultAliases()
	}
	return &Ranker{weights: cfg.Weights.Normalized(), missing: cfg.Missing, topN: cfg.TopN, aliases: cfg.Aliases}
}

// Top ranks pkgs and keeps the first q.MaxResults (or the configured top-N).
func (r *Ranker) Top(q domain.TripQuery, pkgs []domain.StoredPackage) []domain.PackageCandidate {
	out := r.Rank(q, pkgs)
	n := r.topN
	if q.MaxResults > 0 {
		n = q.MaxResults
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Rank scores every package and orders them by descending score. Ties prefer higher
// agency trust, then lower price, then package id. Malformed packages are skipped.
func (r *Ranker) Rank(q domain.TripQuery, pkgs []domain.StoredPackage) []domain.PackageCandidate {
	out := make([]domain.PackageCandidate, 0, len(pkgs))
	for _, p := range pkgs {
		if p.Validate() != nil {
			continue
		}
		out = append(out, r.score(q, p))
	}
	sort.SliceStable(out, func(i, j int) bool { return rankedBefore(out[i], out[j]) })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func (r *Ranker) score(q domain.TripQuery, p domain.StoredPackage) domain.PackageCandidate {
	subs := r.subScores(q, p)
	weights := r.effectiveWeights(subs)

	c := domain.PackageCandidate{
		StoredPackage: p,
		Breakdown:     make(map[domain.Criterion]float64, len(weights)),
		SubScores:     make(map[domain.Criterion]float64, len(subs)),
	}
	for _, crit := range domain.Criteria {
		v, ok := subs[crit]
		if !ok {
			v = midpoint
		}
		w, used := weights[crit]
		if !used {
			continue
		}
		c.SubScores[crit] = v
		c.Breakdown[crit] = w * v
		c.Score += w * v
	}
	c.Score = math.Min(1, math.Max(0, c.Score))
	c.Explanation = explain(q, p, subs)
	return c
}

// rankedBefore orders by score rounded to scorePrecision, then trust, price and id.
// Rounding keeps near-equal scores tied consistently.
func rankedBefore(a, b domain.PackageCandidate) bool {
	if sa, sb := scoreKey(a.Score), scoreKey(b.Score); sa != sb {
		return sa > sb
	}
	if a.AgencyTrust != b.AgencyTrust {
		return a.AgencyTrust > b.AgencyTrust
	}
	if a.Price != b.Price {
		return a.Price < b.Price
	}
	return a.ID < b.ID
}

func scoreKey(score float64) int64 { return int64(math.Round(score * scorePrecision)) }

// effectiveWeights returns the weights applied to one package; they always sum to 1.0.
func (r *Ranker) effectiveWeights(subs map[domain.Criterion]float64) Weights {
	if r.missing == MissingMidpoint {
		return r.weights
	}
	w := make(Weights, len(subs))
	for c := range subs {
		w[c] = r.weights[c]
	}
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		return r.weights
	}
	for c := range w {
		w[c] /= sum
	}
	return w
}

// subScores returns only the criteria that apply to this query and package.
func (r *Ranker) subScores(q domain.TripQuery, p domain.StoredPackage) map[domain.Criterion]float64 {
	s := map[domain.Criterion]float64{
		domain.CriterionDestination: destinationScore(q.Destination, p.Destination, r.aliases),
		domain.CriterionTrust:       clamp01(p.AgencyTrust),
	}
	if q.DurationDays != nil && *q.DurationDays > 0 {
		diff := math.Abs(float64(p.DurationDays - *q.DurationDays))
		s[domain.CriterionDuration] = math.Max(0, 1-diff/float64(*q.DurationDays))
	}
	if q.BudgetMax != nil && *q.BudgetMax > 0 {
		s[domain.CriterionBudget] = budgetScore(p.Price*float64(q.Party()), *q.BudgetMax)
	}
	if p.Rating != nil {
		s[domain.CriterionReviews] = reviewScore(*p.Rating, p.ReviewCount)
	}
	if len(q.Inclusions) > 0 {
		s[domain.CriterionInclusions] = inclusionScore(q.Inclusions, p.Inclusions)
	}
	return s
}

// budgetScore is 1.0 up to 80% of the ceiling, falling linearly to 0.5 at the ceiling.
func budgetScore(total, budget float64) float64 {
	ratio := total / budget
	switch {
	case ratio <= comfortableRatio:
		return 1
	case ratio <= 1:
		return 1 - 0.5*(ratio-comfortableRatio)/(1-comfortableRatio)
	default:
		return 0
	}
}

// reviewScore grows with rating and log review volume; 5 stars from 100 reviews saturates.
func reviewScore(rating float64, count int) float64 {
	if count < 0 {
		count = 0
	}
	v := rating * math.Log(float64(count)+1) / (5 * math.Log(101))
	return clamp01(v)
}

func inclusionScore(wanted, have []string) float64 {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[textnorm.Fold(h)] = true
	}
	n, hit := 0, 0
	seen := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		k := textnorm.Fold(w)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		n++
		if set[k] {
			hit++
		}
	}
	if n == 0 {
		return midpoint
	}
	return float64(hit) / float64(n)
}

func explain(q domain.TripQuery, p domain.StoredPackage, subs map[domain.Criterion]float64) string {
	var parts []string
	switch d := subs[domain.CriterionDestination]; {
	case d >= 0.999:
		parts = append(parts, "Perfect match for "+q.Destination)
	case d >= 0.85:
		parts = append(parts, fmt.Sprintf("%s is listed under %s", q.Destination, p.Destination))
	default:
		parts = append(parts, fmt.Sprintf("Close match for %s (%s)", q.Destination, p.Destination))
	}
	if v, ok := subs[domain.CriterionDuration]; ok {
		if v >= 0.999 {
			parts = append(parts, fmt.Sprintf("Perfect %d-day duration", p.DurationDays))
		} else {
			parts = append(parts, fmt.Sprintf("%d days vs %d requested", p.DurationDays, *q.DurationDays))
		}
	}
	if _, ok := subs[domain.CriterionBudget]; ok {
		total := p.Price * float64(q.Party())
		parts = append(parts, fmt.Sprintf("Within budget (%s %.0f of %.0f)", p.Currency, total, *q.BudgetMax))
	}
	if p.AgencyTrust >= 0.8 {
		parts = append(parts, "Highly trusted agency")
	}
	if p.Rating != nil {
		switch {
		case *p.Rating >= 4.5:
			parts = append(parts, fmt.Sprintf("Excellent rating (%.1f/5 from %d reviews)", *p.Rating, p.ReviewCount))
		case *p.Rating >= 4:
			parts = append(parts, fmt.Sprintf("Good rating (%.1f/5)", *p.Rating))
		}
	}
	if v, ok := subs[domain.CriterionInclusions]; ok && v > 0 {
		if v >= 0.999 {
			parts = append(parts, "Includes "+strings.Join(q.Inclusions, ", "))
		} else {
			parts = append(parts, fmt.Sprintf("Includes %.0f%% of requested extras", v*100))
		}
	}
	return strings.Join(parts, "; ")
}

func clamp01(f float64) float64 { return math.Min(1, math.Max(0, f)) }
