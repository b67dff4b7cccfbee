package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tripscout/internal/adapters/observability"
	"tripscout/internal/domain"
	"tripscout/internal/extract"
	"tripscout/internal/ratelimit"
)

// Fetcher is one way of getting raw HTML for a URL.
type Fetcher interface {
	Name() domain.Strategy
	Fetch(ctx context.Context, url string, hints domain.RenderHints) (domain.Page, error)
}

// RecordSink receives extracted records of a successful parse, normalizes and stores them.
// Per-record validation failures are counted in the report, not returned as errors.
type RecordSink interface {
	Ingest(ctx context.Context, agency domain.Agency, pageURL string, recs []domain.RawRecord, units domain.Units) (IngestReport, error)
}

type IngestReport struct {
	Written   int
	Unchanged int
	Dropped   int
}

type ExecutorConfig struct {
	MaxAttempts      int
	Backoff          Backoff
	TrustSuccessStep float64
	TrustFailureStep float64
	DeactivateAfter  int
}

type Executor struct {
	cfg      ExecutorConfig
	limiter  *ratelimit.Limiter
	fetchers map[domain.Strategy]Fetcher
	rules    *extract.Book
	sink     RecordSink
	agencies domain.AgencyStore
	now      func() time.Time
}

func NewExecutor(cfg ExecutorConfig, lim *ratelimit.Limiter, rules *extract.Book, sink RecordSink,
	agencies domain.AgencyStore, fetchers ...Fetcher) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.TrustSuccessStep == 0 {
		cfg.TrustSuccessStep = 0.05
	}
	if cfg.TrustFailureStep == 0 {
		cfg.TrustFailureStep = 0.1
	}
	fm := make(map[domain.Strategy]Fetcher, len(fetchers))
	for _, f := range fetchers {
		if f != nil {
			fm[f.Name()] = f
		}
	}
	return &Executor{cfg: cfg, limiter: lim, fetchers: fm, rules: rules, sink: sink, agencies: agencies, now: time.Now}
}

// Execution is the result of running one claimed job.
type Execution struct {
	Outcome  domain.JobOutcome
	Path     []domain.JobStatus // states visited from running
	Strategy domain.Strategy
	Report   IngestReport
	Err      error
}

// Cancelled reports whether the run ended because its context was cancelled.
func (x Execution) Cancelled() bool {
	return errors.Is(x.Err, context.Canceled) || errors.Is(x.Err, context.DeadlineExceeded)
}

// Execute runs a job that is already in running state and returns the outcome to persist.
// Agency trust is adjusted here when the job reaches succeeded or dead.
func (e *Executor) Execute(ctx context.Context, job domain.ScrapeJob, agency domain.Agency) Execution {
	rules, _ := e.rules.For(agency.Domain)
	strategy := agency.Strategy
	if _, ok := e.fetchers[strategy]; !ok {
		strategy = domain.StrategyStatic
	}

	res, used, err := e.attempt(ctx, job, strategy, rules)
	if err != nil && domain.IsParse(err) && used == domain.StrategyStatic {
		if _, ok := e.fetchers[domain.StrategyRendered]; ok {
			log.Info().Str("agency", agency.ID).Str("url", job.TargetURL).Msg("escalating to rendered fetch")
			res, used, err = e.attempt(ctx, job, domain.StrategyRendered, rules)
		}
	}

	x := Execution{Strategy: used, Path: make([]domain.JobStatus, 0, 2)}
	if err == nil {
		x.Report, err = e.sink.Ingest(ctx, agency, job.TargetURL, res.Records, rules.Units)
	}
	x.Err = err

	now := e.now().UTC()
	out := domain.JobOutcome{JobID: job.ID, Owner: job.LeaseOwner, AttemptCount: job.AttemptCount, FinishedAt: now}

	switch {
	case err == nil:
		out.Status = domain.JobSucceeded
		e.recordAgency(ctx, agency, true, used)
		observability.ObserveScrape(string(used), "succeeded")

	case domain.IsPermanent(err):
		x.Path = append(x.Path, domain.JobFailed)
		out.Status = domain.JobDead
		out.AttemptCount = job.AttemptCount + 1
		out.LastError = err.Error()
		e.recordAgency(ctx, agency, false, "")
		observability.ObserveScrape(string(used), "permanent")

	default:
		// transient fetch, parse mismatch after escalation, sink failure or cancellation
		x.Path = append(x.Path, domain.JobFailed)
		out.AttemptCount = job.AttemptCount + 1
		out.LastError = err.Error()
		out.Status = afterFailure(out.AttemptCount, e.cfg.MaxAttempts)
		if out.Status == domain.JobPending {
			delay := e.cfg.Backoff.Delay(out.AttemptCount)
			var te *domain.TransientFetchError
			if errors.As(err, &te) && te.RetryAfter > delay {
				delay = te.RetryAfter
			}
			out.NextAttemptAt = now.Add(delay)
		} else if !x.Cancelled() {
			e.recordAgency(ctx, agency, false, "")
		}
		observability.ObserveScrape(string(used), failureLabel(err))
	}
	x.Path = append(x.Path, out.Status)
	if perr := ValidatePath(append([]domain.JobStatus{domain.JobRunning}, x.Path...)...); perr != nil {
		log.Error().Err(perr).Str("job", job.ID).Msg("job state machine violated")
	}
	x.Outcome = out

	log.Info().
		Str("job", job.ID).
		Str("agency", agency.ID).
		Str("url", job.TargetURL).
		Str("strategy", string(used)).
		Str("status", string(out.Status)).
		Int("attempt", out.AttemptCount).
		Int("written", x.Report.Written).
		Int("dropped", x.Report.Dropped).
		AnErr("err", err).
		Msg("scrape_job")
	return x
}

func (e *Executor) attempt(ctx context.Context, job domain.ScrapeJob, s domain.Strategy, rules *extract.RuleSet) (extract.Result, domain.Strategy, error) {
	f := e.fetchers[s]
	if f == nil {
		return extract.Result{}, s, &domain.PermanentFetchError{URL: job.TargetURL, Err: fmt.Errorf("no %s fetcher", s)}
	}
	permit, err := e.limiter.Acquire(ctx, hostOf(job.TargetURL))
	if err != nil {
		return extract.Result{}, s, err
	}
	page, err := f.Fetch(ctx, job.TargetURL, rules.Render)
	permit.Release()
	if err != nil {
		return extract.Result{}, s, err
	}
	res, err := extract.Extract(rules, page.URL, page.Body)
	return res, s, err
}

func (e *Executor) recordAgency(ctx context.Context, a domain.Agency, success bool, s domain.Strategy) {
	delta := -e.cfg.TrustFailureStep
	if success {
		delta = e.cfg.TrustSuccessStep
	}
	// recorded even when the job context is already cancelled
	_, err := e.agencies.RecordScrapeResult(context.WithoutCancel(ctx), domain.ScrapeResult{
		AgencyID:        a.ID,
		Success:         success,
		TrustDelta:      delta,
		Strategy:        s,
		At:              e.now().UTC(),
		DeactivateAfter: e.cfg.DeactivateAfter,
	})
	if err != nil {
		log.Error().Err(err).Str("agency", a.ID).Msg("record scrape result failed")
	}
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case domain.IsParse(err):
		return "parse"
	case domain.IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
