// Package memory is an in-process implementation of the agency, job and package stores,
// used by tests and by single-binary development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tripscout/internal/domain"
	"tripscout/internal/textnorm"
)

type Store struct {
	mu       sync.Mutex
	agencies map[string]domain.Agency
	jobs     map[string]domain.ScrapeJob
	jobKeys  map[string]string // job key -> job id
	packages map[string]domain.Package
	pkgKeys  map[string]string // agency|source_url -> package id
	writes   int
}

func New() *Store {
	return &Store{
		agencies: make(map[string]domain.Agency),
		jobs:     make(map[string]domain.ScrapeJob),
		jobKeys:  make(map[string]string),
		packages: make(map[string]domain.Package),
		pkgKeys:  make(map[string]string),
	}
}

/********** agencies **********/

func (s *Store) UpsertAgency(_ context.Context, a domain.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.agencies[a.ID]; ok {
		cur.Name, cur.BaseURL, cur.Domain = a.Name, a.BaseURL, a.Domain
		s.agencies[a.ID] = cur
		return nil
	}
	if a.Strategy == "" {
		a.Strategy = domain.StrategyStatic
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.agencies[a.ID] = a
	return nil
}

func (s *Store) GetAgency(_ context.Context, id string) (domain.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[id]
	if !ok {
		return domain.Agency{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAgencies(_ context.Context) ([]domain.Agency, error) {
	return s.listAgencies(false), nil
}

func (s *Store) ListActiveAgencies(_ context.Context) ([]domain.Agency, error) {
	return s.listAgencies(true), nil
}

func (s *Store) listAgencies(activeOnly bool) []domain.Agency {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Agency, 0, len(s.agencies))
	for _, a := range s.agencies {
		if activeOnly && !a.IsActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) RecordScrapeResult(_ context.Context, r domain.ScrapeResult) (domain.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agencies[r.AgencyID]
	if !ok {
		return domain.Agency{}, domain.ErrNotFound
	}
	a.TrustScore = clamp01(a.TrustScore + r.TrustDelta)
	at := r.At
	a.LastScrapedAt = &at
	if r.Success {
		a.SuccessCount++
		a.ConsecutiveFailures = 0
	} else {
		a.FailureCount++
		a.ConsecutiveFailures++
		if r.DeactivateAfter > 0 && a.ConsecutiveFailures >= r.DeactivateAfter {
			a.IsActive = false
		}
	}
	if r.Strategy != "" {
		a.Strategy = r.Strategy
	}
	s.agencies[a.ID] = a
	return a, nil
}

/********** jobs **********/

func (s *Store) EnqueueJob(_ context.Context, j domain.ScrapeJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobKeys[j.Key()]; ok {
		return false, nil
	}
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	s.jobs[j.ID] = j
	s.jobKeys[j.Key()] = j.ID
	return true, nil
}

func (s *Store) ReadyJobs(_ context.Context, now time.Time, limit int) ([]domain.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScrapeJob
	for _, j := range s.jobs {
		if j.Status != domain.JobPending || j.NextAttemptAt.After(now) {
			continue
		}
		if a, ok := s.agencies[j.AgencyID]; !ok || !a.IsActive {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].NextAttemptAt.Equal(out[k].NextAttemptAt) {
			return out[i].NextAttemptAt.Before(out[k].NextAttemptAt)
		}
		return out[i].ID < out[k].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimJob(_ context.Context, jobID, owner string, leaseUntil time.Time) (domain.ScrapeJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ScrapeJob{}, domain.ErrNotFound
	}
	if j.Status != domain.JobPending {
		return domain.ScrapeJob{}, domain.ErrLeaseHeld
	}
	j.Status = domain.JobRunning
	j.LeaseOwner = owner
	lu := leaseUntil
	j.LeaseExpiresAt = &lu
	j.UpdatedAt = time.Now().UTC()
	s.jobs[jobID] = j
	return j, nil
}

func (s *Store) ReleaseJob(_ context.Context, jobID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobRunning || j.LeaseOwner != owner {
		return domain.ErrLeaseHeld
	}
	j.Status = domain.JobPending
	j.LeaseOwner, j.LeaseExpiresAt = "", nil
	s.jobs[jobID] = j
	return nil
}

func (s *Store) RecordJobOutcome(_ context.Context, o domain.JobOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[o.JobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.JobRunning || j.LeaseOwner != o.Owner {
		return domain.ErrLeaseHeld
	}
	j.Status = o.Status
	j.AttemptCount = o.AttemptCount
	j.LastError = o.LastError
	if o.Status == domain.JobPending {
		j.NextAttemptAt = o.NextAttemptAt
	}
	j.LeaseOwner, j.LeaseExpiresAt = "", nil
	j.UpdatedAt = o.FinishedAt
	s.jobs[o.JobID] = j
	return nil
}

func (s *Store) RequeueSucceeded(_ context.Context, olderThan, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status != domain.JobSucceeded || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		if a, ok := s.agencies[j.AgencyID]; !ok || !a.IsActive {
			continue
		}
		j.Status = domain.JobPending
		j.AttemptCount = 0
		j.NextAttemptAt = now
		j.UpdatedAt = now
		s.jobs[id] = j
		n++
	}
	return n, nil
}

func (s *Store) ReclaimStale(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status != domain.JobRunning || j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		j.Status = domain.JobPending
		j.LeaseOwner, j.LeaseExpiresAt = "", nil
		j.NextAttemptAt = now
		s.jobs[id] = j
		n++
	}
	return n, nil
}

func (s *Store) JobCounts(_ context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.JobStatus]int, len(domain.AllJobStatuses))
	for _, st := range domain.AllJobStatuses {
		out[st] = 0
	}
	for _, j := range s.jobs {
		out[j.Status]++
	}
	return out, nil
}

// Job returns a copy of one job, for tests and diagnostics.
func (s *Store) Job(id string) (domain.ScrapeJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// Jobs returns every job ordered by creation then id.
func (s *Store) Jobs() []domain.ScrapeJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScrapeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID < out[k].ID
	})
	return out
}

/********** packages **********/

func (s *Store) UpsertPackage(_ context.Context, p domain.Package) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.AgencyID + "|" + p.SourceURL
	if id, ok := s.pkgKeys[key]; ok && id != p.ID {
		delete(s.packages, id)
	}
	s.pkgKeys[key] = p.ID
	s.packages[p.ID] = p
	s.writes++
	return nil
}

func (s *Store) PackageFingerprint(_ context.Context, agencyID, sourceURL string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pkgKeys[agencyID+"|"+sourceURL]
	if !ok {
		return "", false, nil
	}
	return s.packages[id].RawFingerprint, true, nil
}

func (s *Store) ReadPackagesByDestination(_ context.Context, destination string) ([]domain.StoredPackage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StoredPackage
	for _, p := range s.packages {
		if !textnorm.Related(destination, p.Destination) {
			continue
		}
		a := s.agencies[p.AgencyID]
		out = append(out, domain.StoredPackage{Package: p, AgencyName: a.Name, AgencyTrust: a.TrustScore})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PackageWrites counts successful package upserts.
func (s *Store) PackageWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// PutPackage stores a package without validation, to simulate rows written by older code.
func (s *Store) PutPackage(p domain.Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkgKeys[p.AgencyID+"|"+p.SourceURL] = p.ID
	s.packages[p.ID] = p
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
