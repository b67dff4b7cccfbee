package scrape

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"tripscout/internal/domain"
	"tripscout/internal/extract"
	"tripscout/internal/ratelimit"
)

// Runner executes one claimed job.
type Runner interface {
	Execute(ctx context.Context, job domain.ScrapeJob, agency domain.Agency) Execution
}

type SchedulerConfig struct {
	Owner        string
	Workers      int
	PerDomain    int
	BatchSize    int
	JobTimeout   time.Duration
	LeaseTTL     time.Duration
	PollInterval time.Duration
	RecrawlAfter time.Duration
}

type Scheduler struct {
	cfg      SchedulerConfig
	jobs     domain.JobStore
	agencies domain.AgencyStore
	runner   Runner
	leaser   domain.Leaser
	rules    *extract.Book
	now      func() time.Time

	// pool bounds running jobs across every concurrent Run and Drain
	pool *semaphore.Weighted

	mu       sync.Mutex
	slots    map[string]*semaphore.Weighted
	inflight map[string]bool

	final   atomic.Bool
	running sync.WaitGroup
	done    chan struct{}
}

func NewScheduler(cfg SchedulerConfig, jobs domain.JobStore, agencies domain.AgencyStore, runner Runner,
	leaser domain.Leaser, rules *extract.Book) *Scheduler {
	if cfg.Owner == "" {
		cfg.Owner = "scheduler-" + uuid.NewString()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.PerDomain <= 0 {
		cfg.PerDomain = 2
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers * 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.LeaseTTL <= cfg.JobTimeout {
		cfg.LeaseTTL = cfg.JobTimeout + 30*time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RecrawlAfter <= 0 {
		cfg.RecrawlAfter = 24 * time.Hour
	}
	if leaser == nil {
		leaser = NewLocalLeaser()
	}
	if rules == nil {
		rules = extract.NewBook()
	}
	return &Scheduler{
		cfg: cfg, jobs: jobs, agencies: agencies, runner: runner, leaser: leaser, rules: rules,
		now:      time.Now,
		pool:     semaphore.NewWeighted(int64(cfg.Workers)),
		slots:    make(map[string]*semaphore.Weighted),
		inflight: make(map[string]bool),
		done:     make(chan struct{}, 1),
	}
}

func (s *Scheduler) Owner() string { return s.cfg.Owner }

// Shutdown marks the next cancellation as final: running jobs are then left in running
// state for the stale-lease detector instead of being recorded as failed attempts.
func (s *Scheduler) Shutdown(final bool) { s.final.Store(final) }

// Seed enqueues one job per listing URL of an agency. Existing keys are left untouched.
func (s *Scheduler) Seed(ctx context.Context, a domain.Agency) (int, error) {
	rules, _ := s.rules.For(a.Domain)
	targets := ListingURLs(a.BaseURL, rules.ListingPaths)
	now := s.now().UTC()
	n := 0
	for _, target := range targets {
		created, err := s.jobs.EnqueueJob(ctx, domain.ScrapeJob{
			ID:            uuid.NewString(),
			AgencyID:      a.ID,
			TargetURL:     target,
			Status:        domain.JobPending,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if err != nil {
			return n, err
		}
		if created {
			n++
		}
	}
	return n, nil
}

// EnqueueRecrawls re-queues succeeded jobs older than the freshness window.
func (s *Scheduler) EnqueueRecrawls(ctx context.Context) (int, error) {
	now := s.now().UTC()
	return s.jobs.RequeueSucceeded(ctx, now.Add(-s.cfg.RecrawlAfter), now)
}

// ReclaimStale returns jobs whose lease expired (e.g. after a final shutdown) to pending.
func (s *Scheduler) ReclaimStale(ctx context.Context) (int, error) {
	n, err := s.jobs.ReclaimStale(ctx, s.now().UTC())
	if n > 0 {
		log.Warn().Int("jobs", n).Msg("reclaimed stale running jobs")
	}
	return n, err
}

type DrainReport struct {
	Dispatched int
	ByStatus   map[domain.JobStatus]int
}

// Drain dispatches ready jobs until none is ready and none is in flight.
func (s *Scheduler) Drain(ctx context.Context) (DrainReport, error) {
	return s.loop(ctx, true)
}

// Run dispatches continuously until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	_, err := s.loop(ctx, false)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, untilIdle bool) (DrainReport, error) {
	rep := DrainReport{ByStatus: make(map[domain.JobStatus]int)}
	var repMu sync.Mutex

	work := make(chan claimed)
	var workers sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for c := range work {
				status := s.run(ctx, c)
				repMu.Lock()
				rep.ByStatus[status]++
				repMu.Unlock()
			}
		}()
	}
	defer func() {
		close(work)
		workers.Wait()
	}()

	if _, err := s.ReclaimStale(ctx); err != nil {
		log.Error().Err(err).Msg("reclaim stale failed")
	}

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		n, err := s.dispatch(ctx, work)
		repMu.Lock()
		rep.Dispatched += n
		repMu.Unlock()
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("dispatch failed")
		}
		if n > 0 {
			continue
		}
		if untilIdle && s.inflightCount() == 0 {
			return rep, nil
		}
		wait := s.cfg.PollInterval
		if untilIdle {
			wait = 50 * time.Millisecond
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return rep, ctx.Err()
		case <-s.done:
			t.Stop()
		case <-t.C:
			if !untilIdle {
				if _, err := s.ReclaimStale(ctx); err != nil {
					log.Error().Err(err).Msg("reclaim stale failed")
				}
			}
		}
	}
}

type claimed struct {
	job    domain.ScrapeJob
	agency domain.Agency
	slot   *semaphore.Weighted
}

// dispatch claims as many ready jobs as caps allow and hands them to workers.
func (s *Scheduler) dispatch(ctx context.Context, work chan<- claimed) (int, error) {
	ready, err := s.jobs.ReadyJobs(ctx, s.now().UTC(), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	agencies := make(map[string]domain.Agency)
	n := 0
	for _, job := range ready {
		a, ok := agencies[job.AgencyID]
		if !ok {
			a, err = s.agencies.GetAgency(ctx, job.AgencyID)
			if err != nil {
				log.Warn().Err(err).Str("job", job.ID).Msg("agency lookup failed; skipping job")
				continue
			}
			agencies[job.AgencyID] = a
		}
		c, ok := s.claim(ctx, job, a)
		if !ok {
			continue
		}
		select {
		case work <- c:
			n++
		case <-ctx.Done():
			s.abandon(context.WithoutCancel(ctx), c)
			return n, ctx.Err()
		}
	}
	return n, nil
}

func (s *Scheduler) claim(ctx context.Context, job domain.ScrapeJob, a domain.Agency) (claimed, bool) {
	key := job.Key()
	if !s.pool.TryAcquire(1) {
		return claimed{}, false // every worker busy; job stays pending
	}
	slot := s.slot(a.Domain)
	if !slot.TryAcquire(1) {
		s.pool.Release(1)
		return claimed{}, false // domain at capacity; job stays pending
	}

	s.mu.Lock()
	if s.inflight[key] {
		s.mu.Unlock()
		slot.Release(1)
		s.pool.Release(1)
		return claimed{}, false
	}
	s.inflight[key] = true
	s.running.Add(1)
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
		s.running.Done()
		slot.Release(1)
		s.pool.Release(1)
	}

	ok, err := s.leaser.Acquire(ctx, key, s.cfg.Owner, s.cfg.LeaseTTL)
	if err != nil || !ok {
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("lease acquire failed")
		}
		release()
		return claimed{}, false
	}
	got, err := s.jobs.ClaimJob(ctx, job.ID, s.cfg.Owner, s.now().UTC().Add(s.cfg.LeaseTTL))
	if err != nil {
		if !errors.Is(err, domain.ErrLeaseHeld) {
			log.Warn().Err(err).Str("job", job.ID).Msg("claim failed")
		}
		_ = s.leaser.Release(ctx, key, s.cfg.Owner)
		release()
		return claimed{}, false
	}
	return claimed{job: got, agency: a, slot: slot}, true
}

func (s *Scheduler) run(ctx context.Context, c claimed) domain.JobStatus {
	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	x := s.runner.Execute(jobCtx, c.job, c.agency)
	cancel()

	// cancellation of the scheduler itself, as opposed to the per-job timeout
	if ctx.Err() != nil && s.final.Load() {
		log.Warn().Str("job", c.job.ID).Msg("final shutdown; leaving job running for stale-lease reclaim")
		s.finish(c, false)
		return domain.JobRunning
	}

	wctx := context.WithoutCancel(ctx)
	if err := s.jobs.RecordJobOutcome(wctx, x.Outcome); err != nil {
		log.Error().Err(err).Str("job", c.job.ID).Msg("record job outcome failed")
	}
	_ = s.leaser.Release(wctx, c.job.Key(), s.cfg.Owner)
	s.finish(c, true)
	return x.Outcome.Status
}

// abandon returns a claimed but never started job to pending.
func (s *Scheduler) abandon(ctx context.Context, c claimed) {
	if err := s.jobs.ReleaseJob(ctx, c.job.ID, s.cfg.Owner); err != nil {
		log.Error().Err(err).Str("job", c.job.ID).Msg("release job failed")
	}
	_ = s.leaser.Release(ctx, c.job.Key(), s.cfg.Owner)
	s.finish(c, false)
}

func (s *Scheduler) finish(c claimed, notify bool) {
	s.mu.Lock()
	delete(s.inflight, c.job.Key())
	s.mu.Unlock()
	c.slot.Release(1)
	s.pool.Release(1)
	s.running.Done()
	if notify {
		select {
		case s.done <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Wait blocks until every dispatched job has finished.
func (s *Scheduler) Wait() { s.running.Wait() }

func (s *Scheduler) slot(domainName string) *semaphore.Weighted {
	key := ratelimit.Normalize(domainName)
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.slots[key]
	if !ok {
		sem = semaphore.NewWeighted(int64(s.cfg.PerDomain))
		s.slots[key] = sem
	}
	return sem
}

// ListingURLs resolves listing paths against an agency's base URL. With no paths the
// base URL itself is the only target.
func ListingURLs(baseURL string, paths []string) []string {
	base, err := url.Parse(baseURL)
	if err != nil || len(paths) == 0 {
		return []string{baseURL}
	}
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		u, err := base.Parse(p)
		if err != nil {
			continue
		}
		if s := u.String(); !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{baseURL}
	}
	return out
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Hostname()
}
