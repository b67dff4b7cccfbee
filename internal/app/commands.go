package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tripscout/internal/discovery"
	"tripscout/internal/domain"
	"tripscout/internal/scrape"
)

// ErrCycleRunning is returned when a scrape cycle is requested while one is in progress.
var ErrCycleRunning = errors.New("scrape cycle already running")

var agencyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tripscout/agency"))

// AgencyID is stable for one normalized domain, so rediscovery never duplicates an agency.
func AgencyID(domainName string) string {
	return uuid.NewSHA1(agencyNamespace, []byte(domainName)).String()
}

type PipelineConfig struct {
	InitialTrust float64
	// SkipDiscovery runs the cycle over known agencies only.
	SkipDiscovery bool
}

type PipelineService struct {
	cfg       PipelineConfig
	discovery *discovery.Discovery
	agencies  domain.AgencyStore
	scheduler *scrape.Scheduler
	running   atomic.Bool
	now       func() time.Time
}

func NewPipelineService(cfg PipelineConfig, d *discovery.Discovery, agencies domain.AgencyStore, s *scrape.Scheduler) *PipelineService {
	if cfg.InitialTrust <= 0 || cfg.InitialTrust > 1 {
		cfg.InitialTrust = 0.5
	}
	return &PipelineService{cfg: cfg, discovery: d, agencies: agencies, scheduler: s, now: time.Now}
}

type CycleReport struct {
	NewAgencies int                      `json:"new_agencies"`
	Sources     []discovery.SourceStatus `json:"sources"`
	Seeded      int                      `json:"seeded"`
	Requeued    int                      `json:"requeued"`
	Dispatched  int                      `json:"dispatched"`
	ByStatus    map[domain.JobStatus]int `json:"by_status"`
	Duration    time.Duration            `json:"duration"`
}

// RunScrapeCycle discovers agencies, seeds and re-queues their jobs, then drains the
// queue. Source failures are reported, not returned.
func (s *PipelineService) RunScrapeCycle(ctx context.Context) (CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return CycleReport{}, ErrCycleRunning
	}
	defer s.running.Store(false)

	start := s.now()
	var rep CycleReport

	if !s.cfg.SkipDiscovery && s.discovery != nil {
		if err := s.discover(ctx, &rep); err != nil {
			return rep, err
		}
	}

	active, err := s.agencies.ListActiveAgencies(ctx)
	if err != nil {
		return rep, fmt.Errorf("list active agencies: %w", err)
	}
	for _, a := range active {
		n, err := s.scheduler.Seed(ctx, a)
		if err != nil {
			return rep, fmt.Errorf("seed %s: %w", a.Domain, err)
		}
		rep.Seeded += n
	}

	if rep.Requeued, err = s.scheduler.EnqueueRecrawls(ctx); err != nil {
		return rep, fmt.Errorf("requeue: %w", err)
	}

	dr, err := s.scheduler.Drain(ctx)
	rep.Dispatched, rep.ByStatus = dr.Dispatched, dr.ByStatus
	rep.Duration = s.now().Sub(start)

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Int("new_agencies", rep.NewAgencies).
		Int("seeded", rep.Seeded).Int("requeued", rep.Requeued).Int("dispatched", rep.Dispatched).
		Dur("took", rep.Duration).Msg("scrape cycle finished")
	return rep, err
}

func (s *PipelineService) discover(ctx context.Context, rep *CycleReport) error {
	all, err := s.agencies.ListAgencies(ctx)
	if err != nil {
		return fmt.Errorf("list agencies: %w", err)
	}
	known := make([]string, 0, len(all))
	for _, a := range all {
		known = append(known, a.BaseURL)
	}

	pass := s.discovery.Discover(ctx, known)
	for c := range pass.All() {
		now := s.now().UTC()
		a := domain.Agency{
			ID:              AgencyID(c.Domain),
			Name:            c.Name,
			BaseURL:         c.BaseURL,
			Domain:          c.Domain,
			TrustScore:      s.cfg.InitialTrust,
			DiscoverySource: c.Source,
			IsActive:        true,
			Strategy:        domain.StrategyStatic,
			CreatedAt:       now,
		}
		if err := s.agencies.UpsertAgency(ctx, a); err != nil {
			return fmt.Errorf("upsert agency %s: %w", c.Domain, err)
		}
		rep.NewAgencies++
	}
	rep.Sources = pass.Report()
	for _, st := range rep.Sources {
		if !st.OK() {
			log.Warn().Err(st.Err).Str("source", st.Source).Int("candidates", st.Candidates).
				Msg("discovery source degraded")
		}
	}
	return nil
}
