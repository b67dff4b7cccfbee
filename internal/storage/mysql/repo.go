package mysql

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tripscout/internal/domain"
)

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valJSON(v []string) any {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// urlHash keys long URLs inside unique indexes.
func urlHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

type scanner interface {
	Scan(dest ...any) error
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

/********** agencies **********/

func (r *Repo) UpsertAgency(ctx context.Context, a domain.Agency) error {
	if a.Strategy == "" {
		a.Strategy = domain.StrategyStatic
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertAgencySQL,
		a.ID,
		a.Name,
		a.BaseURL,
		a.Domain,
		a.TrustScore,
		valStr(a.DiscoverySource),
		a.IsActive,
		string(a.Strategy),
		a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert agency %s: %w", a.Domain, err)
	}
	return nil
}

func (r *Repo) GetAgency(ctx context.Context, id string) (domain.Agency, error) {
	return getAgency(ctx, r.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAgency(ctx context.Context, q querier, id string) (domain.Agency, error) {
	a, err := scanAgency(q.QueryRowContext(ctx, getAgencySQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agency{}, domain.ErrNotFound
	}
	return a, err
}

func (r *Repo) ListAgencies(ctx context.Context) ([]domain.Agency, error) {
	return r.listAgencies(ctx, listAgenciesSQL)
}

func (r *Repo) ListActiveAgencies(ctx context.Context) ([]domain.Agency, error) {
	return r.listAgencies(ctx, listActiveAgenciesSQL)
}

func (r *Repo) listAgencies(ctx context.Context, query string) ([]domain.Agency, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Agency
	for rows.Next() {
		a, err := scanAgency(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAgency(s scanner) (domain.Agency, error) {
	var a domain.Agency
	var source sql.NullString
	var last sql.NullTime
	var strategy string
	if err := s.Scan(
		&a.ID, &a.Name, &a.BaseURL, &a.Domain, &a.TrustScore, &source, &last,
		&a.IsActive, &strategy, &a.SuccessCount, &a.FailureCount, &a.ConsecutiveFailures, &a.CreatedAt,
	); err != nil {
		return domain.Agency{}, err
	}
	a.DiscoverySource = source.String
	if last.Valid {
		t := last.Time
		a.LastScrapedAt = &t
	}
	a.Strategy = domain.Strategy(strategy)
	return a, nil
}

// RecordScrapeResult runs the counter update and the read-back in one transaction.
func (r *Repo) RecordScrapeResult(ctx context.Context, res domain.ScrapeResult) (domain.Agency, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agency{}, err
	}
	defer func() { _ = tx.Rollback() }()

	succ, fail := 0, 1
	if res.Success {
		succ, fail = 1, 0
	}
	if _, err := tx.ExecContext(ctx, recordScrapeResultSQL,
		res.TrustDelta,
		res.At.UTC(),
		succ,
		fail,
		boolInt(res.Success),
		res.DeactivateAfter,
		res.DeactivateAfter,
		string(res.Strategy),
		res.AgencyID,
	); err != nil {
		return domain.Agency{}, fmt.Errorf("record scrape result: %w", err)
	}
	a, err := getAgency(ctx, tx, res.AgencyID)
	if err != nil {
		return domain.Agency{}, err
	}
	return a, tx.Commit()
}

/********** jobs **********/

func (r *Repo) EnqueueJob(ctx context.Context, j domain.ScrapeJob) (bool, error) {
	now := time.Now().UTC()
	if j.Status == "" {
		j.Status = domain.JobPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}
	if j.NextAttemptAt.IsZero() {
		j.NextAttemptAt = now
	}
	res, err := r.db.ExecContext(ctx, enqueueJobSQL,
		j.ID,
		j.AgencyID,
		j.TargetURL,
		urlHash(j.Key()),
		string(j.Status),
		j.AttemptCount,
		j.NextAttemptAt.UTC(),
		j.CreatedAt.UTC(),
		j.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *Repo) ReadyJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScrapeJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, readyJobsSQL, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScrapeJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJob(s scanner) (domain.ScrapeJob, error) {
	var j domain.ScrapeJob
	var status string
	var lastErr, owner sql.NullString
	var lease sql.NullTime
	if err := s.Scan(
		&j.ID, &j.AgencyID, &j.TargetURL, &status, &j.AttemptCount, &j.NextAttemptAt,
		&lastErr, &owner, &lease, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return domain.ScrapeJob{}, err
	}
	j.Status = domain.JobStatus(status)
	j.LastError, j.LeaseOwner = lastErr.String, owner.String
	if lease.Valid {
		t := lease.Time
		j.LeaseExpiresAt = &t
	}
	return j, nil
}

// ClaimJob is a conditional pending -> running update; losing the race yields ErrLeaseHeld.
func (r *Repo) ClaimJob(ctx context.Context, jobID, owner string, leaseUntil time.Time) (domain.ScrapeJob, error) {
	res, err := r.db.ExecContext(ctx, claimJobSQL, owner, leaseUntil.UTC(), time.Now().UTC(), jobID)
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("claim job: %w", err)
	}
	if err := r.checkTransition(ctx, res, jobID); err != nil {
		return domain.ScrapeJob{}, err
	}
	j, err := scanJob(r.db.QueryRowContext(ctx, getJobSQL, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeJob{}, domain.ErrNotFound
	}
	return j, err
}

func (r *Repo) ReleaseJob(ctx context.Context, jobID, owner string) error {
	res, err := r.db.ExecContext(ctx, releaseJobSQL, jobID, owner)
	if err != nil {
		return fmt.Errorf("release job: %w", err)
	}
	return r.checkTransition(ctx, res, jobID)
}

func (r *Repo) RecordJobOutcome(ctx context.Context, o domain.JobOutcome) error {
	res, err := r.db.ExecContext(ctx, recordJobOutcomeSQL,
		string(o.Status),
		o.AttemptCount,
		valStr(o.LastError),
		string(o.Status),
		o.NextAttemptAt.UTC(),
		o.FinishedAt.UTC(),
		o.JobID,
		o.Owner,
	)
	if err != nil {
		return fmt.Errorf("record job outcome: %w", err)
	}
	return r.checkTransition(ctx, res, o.JobID)
}

// checkTransition maps a conditional update that touched no row to ErrNotFound or ErrLeaseHeld.
func (r *Repo) checkTransition(ctx context.Context, res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var count int
	if err := r.db.QueryRowContext(ctx, jobExistsSQL, jobID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrLeaseHeld
}

func (r *Repo) RequeueSucceeded(ctx context.Context, olderThan, now time.Time) (int, error) {
	return r.execCount(ctx, requeueSucceededSQL, now.UTC(), now.UTC(), olderThan.UTC())
}

func (r *Repo) ReclaimStale(ctx context.Context, now time.Time) (int, error) {
	return r.execCount(ctx, reclaimStaleSQL, now.UTC(), now.UTC())
}

func (r *Repo) execCount(ctx context.Context, query string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *Repo) JobCounts(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, jobCountsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.JobStatus]int, len(domain.AllJobStatuses))
	for _, st := range domain.AllJobStatuses {
		out[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[domain.JobStatus(status)] = n
	}
	return out, rows.Err()
}

/********** packages **********/

func (r *Repo) UpsertPackage(ctx context.Context, p domain.Package) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, upsertPackageSQL,
		p.ID,
		p.AgencyID,
		p.SourceURL,
		urlHash(p.SourceURL),
		valStr(p.Title),
		p.Destination,
		p.DurationDays,
		p.Price,
		p.Currency,
		valJSON(p.Inclusions),
		valF64(p.Rating),
		p.ReviewCount,
		valTime(p.AvailableFrom),
		valTime(p.AvailableTo),
		p.RawFingerprint,
		p.ScrapedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert package %s: %w", p.ID, err)
	}
	return nil
}

func (r *Repo) PackageFingerprint(ctx context.Context, agencyID, sourceURL string) (string, bool, error) {
	var fp string
	err := r.db.QueryRowContext(ctx, packageFingerprintSQL, agencyID, urlHash(sourceURL)).Scan(&fp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return fp, true, nil
}

func (r *Repo) ReadPackagesByDestination(ctx context.Context, destination string) ([]domain.StoredPackage, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, packagesByDestinationSQL,
		"%"+escapeLike(destination)+"%",
		destination,
		destination,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StoredPackage
	for rows.Next() {
		var sp domain.StoredPackage
		var title sql.NullString
		var inclusions []byte
		var rating sql.NullFloat64
		var from, to sql.NullTime
		if err := rows.Scan(
			&sp.ID, &sp.AgencyID, &sp.SourceURL, &title, &sp.Destination, &sp.DurationDays, &sp.Price,
			&sp.Currency, &inclusions, &rating, &sp.ReviewCount, &from, &to,
			&sp.RawFingerprint, &sp.ScrapedAt,
			&sp.AgencyName, &sp.AgencyTrust,
		); err != nil {
			return nil, err
		}
		sp.Title = title.String
		if len(inclusions) > 0 {
			_ = json.Unmarshal(inclusions, &sp.Inclusions)
		}
		if rating.Valid {
			v := rating.Float64
			sp.Rating = &v
		}
		if from.Valid {
			t := from.Time
			sp.AvailableFrom = &t
		}
		if to.Valid {
			t := to.Time
			sp.AvailableTo = &t
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
