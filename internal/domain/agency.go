package domain

import "time"

type Strategy string

const (
	StrategyStatic   Strategy = "static"
	StrategyRendered Strategy = "rendered"
)

type Agency struct {
	ID                  string
	Name                string
	BaseURL             string
	Domain              string
	TrustScore          float64 // 0..1
	DiscoverySource     string
	LastScrapedAt       *time.Time
	IsActive            bool
	Strategy            Strategy // last strategy that produced a parse
	SuccessCount        int
	FailureCount        int
	ConsecutiveFailures int
	CreatedAt           time.Time
}

// SuccessRate is the fraction of finished jobs that succeeded, or 0 with no history.
func (a Agency) SuccessRate() float64 {
	total := a.SuccessCount + a.FailureCount
	if total == 0 {
		return 0
	}
	return float64(a.SuccessCount) / float64(total)
}

// ScrapeResult is one atomic trust/counter adjustment against an agency row.
type ScrapeResult struct {
	AgencyID   string
	Success    bool
	TrustDelta float64 // signed; the store clamps the result to [0,1]
	Strategy   Strategy
	At         time.Time
	// DeactivateAfter deactivates the agency once ConsecutiveFailures reaches it; 0 disables.
	DeactivateAfter int
}
