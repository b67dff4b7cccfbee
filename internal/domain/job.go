package domain

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobDead      JobStatus = "dead"
)

// Terminal reports whether no further transition is expected without an explicit recrawl.
func (s JobStatus) Terminal() bool { return s == JobSucceeded || s == JobDead }

var AllJobStatuses = []JobStatus{JobPending, JobRunning, JobSucceeded, JobFailed, JobDead}

type ScrapeJob struct {
	ID             string
	AgencyID       string
	TargetURL      string
	Status         JobStatus
	AttemptCount   int
	NextAttemptAt  time.Time
	LastError      string
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key identifies the (agency, url) pair that must never be scraped twice concurrently.
func (j ScrapeJob) Key() string { return JobKey(j.AgencyID, j.TargetURL) }

func JobKey(agencyID, targetURL string) string { return agencyID + "|" + targetURL }

// JobOutcome is the result of one executor run, written back by the scheduler.
type JobOutcome struct {
	JobID         string
	Owner         string
	Status        JobStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	FinishedAt    time.Time
}
