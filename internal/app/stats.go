package app

import (
	"context"
	"sort"

	"tripscout/internal/domain"
	"tripscout/internal/ratelimit"
)

// StatsService reports pipeline health: job counts, agency success rates and the current
// per-domain rate-limit delay.
type StatsService struct {
	agencies domain.AgencyStore
	jobs     domain.JobStore
	limiter  *ratelimit.Limiter
}

func NewStatsService(a domain.AgencyStore, j domain.JobStore, lim *ratelimit.Limiter) *StatsService {
	return &StatsService{agencies: a, jobs: j, limiter: lim}
}

func (s *StatsService) Snapshot(ctx context.Context) (domain.PipelineStats, error) {
	counts, err := s.jobs.JobCounts(ctx)
	if err != nil {
		return domain.PipelineStats{}, err
	}
	agencies, err := s.Agencies(ctx)
	if err != nil {
		return domain.PipelineStats{}, err
	}
	st := domain.PipelineStats{JobsByStatus: counts, Agencies: agencies}
	if s.limiter != nil {
		st.DomainDelays = s.limiter.Delays()
	}
	return st, nil
}

// Agencies lists every agency, active ones first, then by name.
func (s *StatsService) Agencies(ctx context.Context) ([]domain.AgencyStat, error) {
	all, err := s.agencies.ListAgencies(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AgencyStat, 0, len(all))
	for _, a := range all {
		strategy := a.Strategy
		if strategy == "" {
			strategy = domain.StrategyStatic
		}
		out = append(out, domain.AgencyStat{
			ID: a.ID, Name: a.Name, Domain: a.Domain, Active: a.IsActive,
			Trust: a.TrustScore, SuccessRate: a.SuccessRate(), Strategy: string(strategy),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
