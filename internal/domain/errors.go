package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidQuery = errors.New("invalid query")
	ErrBadRuleSet   = errors.New("malformed agency rule set")
	ErrLeaseHeld    = errors.New("lease held by another owner")
)

// TransientFetchError is retried with backoff: network failures, timeouts, 408/429/5xx.
type TransientFetchError struct {
	URL        string
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transient fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// PermanentFetchError kills the job: blocked or removed content, malformed URLs.
type PermanentFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *PermanentFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("permanent fetch %s: %v", e.URL, e.Err)
}

func (e *PermanentFetchError) Unwrap() error { return e.Err }

// ParseError means the page was fetched but its structure did not match the rule set.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %s", e.URL, e.Reason) }

// ValidationError means a normalized record failed package invariants.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }

func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p *PermanentFetchError
	return errors.As(err, &p) || errors.Is(err, ErrBadRuleSet)
}

func IsParse(err error) bool {
	var p *ParseError
	return errors.As(err, &p)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
