package domain

import (
	"context"
	"time"
)

type AgencyStore interface {
	// UpsertAgency inserts a new agency or refreshes name/base_url of an existing one.
	// Trust, counters and strategy are never overwritten by an upsert.
	UpsertAgency(ctx context.Context, a Agency) error
	GetAgency(ctx context.Context, id string) (Agency, error)
	ListAgencies(ctx context.Context) ([]Agency, error)
	ListActiveAgencies(ctx context.Context) ([]Agency, error)
	// RecordScrapeResult applies one atomic read-modify-write to the agency row.
	RecordScrapeResult(ctx context.Context, r ScrapeResult) (Agency, error)
}

type JobStore interface {
	// EnqueueJob inserts a pending job unless one already exists for its key.
	EnqueueJob(ctx context.Context, j ScrapeJob) (bool, error)
	// ReadyJobs returns pending jobs of active agencies due at now, oldest next_attempt_at first.
	ReadyJobs(ctx context.Context, now time.Time, limit int) ([]ScrapeJob, error)
	// ClaimJob moves a pending job to running under owner's lease, or returns ErrLeaseHeld.
	ClaimJob(ctx context.Context, jobID, owner string, leaseUntil time.Time) (ScrapeJob, error)
	// ReleaseJob returns a running job to pending without counting an attempt.
	ReleaseJob(ctx context.Context, jobID, owner string) error
	RecordJobOutcome(ctx context.Context, o JobOutcome) error
	// RequeueSucceeded resets succeeded jobs of active agencies last finished before olderThan.
	RequeueSucceeded(ctx context.Context, olderThan, now time.Time) (int, error)
	// ReclaimStale returns running jobs whose lease expired before now to pending.
	ReclaimStale(ctx context.Context, now time.Time) (int, error)
	JobCounts(ctx context.Context) (map[JobStatus]int, error)
}

type PackageStore interface {
	UpsertPackage(ctx context.Context, p Package) error
	PackageFingerprint(ctx context.Context, agencyID, sourceURL string) (string, bool, error)
	// ReadPackagesByDestination returns a superset of the packages whose destination relates
	// to the given one; callers refine it with the filter.
	ReadPackagesByDestination(ctx context.Context, destination string) ([]StoredPackage, error)
}

type Store interface {
	AgencyStore
	JobStore
	PackageStore
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Leaser grants short-lived exclusive claims on job keys across scheduler instances.
type Leaser interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// Read models for the observability surface.
type AgencyStat struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Domain      string  `json:"domain"`
	Active      bool    `json:"active"`
	Trust       float64 `json:"trust"`
	SuccessRate float64 `json:"success_rate"`
	Strategy    string  `json:"strategy"`
}

type PipelineStats struct {
	JobsByStatus map[JobStatus]int        `json:"jobs_by_status"`
	Agencies     []AgencyStat             `json:"agencies"`
	DomainDelays map[string]time.Duration `json:"domain_delays"`
}
