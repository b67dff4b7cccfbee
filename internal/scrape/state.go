package scrape

import (
	"fmt"

	"tripscout/internal/domain"
)

var transitions = map[domain.JobStatus]map[domain.JobStatus]bool{
	domain.JobPending: {domain.JobRunning: true},
	domain.JobRunning: {
		domain.JobSucceeded: true,
		domain.JobFailed:    true,
		domain.JobPending:   true, // released or reclaimed after a stale lease
	},
	domain.JobFailed: {
		domain.JobPending: true,
		domain.JobDead:    true,
	},
	domain.JobSucceeded: {domain.JobPending: true}, // recrawl
	domain.JobDead:      {},
}

// ValidateTransition reports whether a job may move from one status to another.
func ValidateTransition(from, to domain.JobStatus) error {
	next, ok := transitions[from]
	if !ok {
		return fmt.Errorf("unknown job status %q", from)
	}
	if !next[to] {
		return fmt.Errorf("invalid job transition %s -> %s", from, to)
	}
	return nil
}

// ValidatePath checks every consecutive step of a status sequence.
func ValidatePath(path ...domain.JobStatus) error {
	for i := 1; i < len(path); i++ {
		if err := ValidateTransition(path[i-1], path[i]); err != nil {
			return err
		}
	}
	return nil
}

// afterFailure resolves the failed state: back to pending while attempts remain, else dead.
func afterFailure(attempts, maxAttempts int) domain.JobStatus {
	if attempts >= maxAttempts {
		return domain.JobDead
	}
	return domain.JobPending
}
