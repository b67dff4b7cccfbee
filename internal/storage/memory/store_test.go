package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"tripscout/internal/domain"
)

func seedAgency(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.UpsertAgency(context.Background(), domain.Agency{
		ID: id, Name: id, BaseURL: "https://" + id + ".example", Domain: id + ".example",
		TrustScore: 0.5, IsActive: true,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAgency(t, s, "a1")
	now := time.Now().UTC()

	job := domain.ScrapeJob{ID: "j1", AgencyID: "a1", TargetURL: "https://a1.example/p", NextAttemptAt: now}
	if created, err := s.EnqueueJob(ctx, job); err != nil || !created {
		t.Fatalf("enqueue: created=%v err=%v", created, err)
	}
	dup := job
	dup.ID = "j2"
	if created, _ := s.EnqueueJob(ctx, dup); created {
		t.Fatal("duplicate key must not create a second job")
	}

	ready, _ := s.ReadyJobs(ctx, now, 10)
	if len(ready) != 1 {
		t.Fatalf("ready = %d", len(ready))
	}
	if _, err := s.ClaimJob(ctx, "j1", "w1", now.Add(time.Minute)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.ClaimJob(ctx, "j1", "w2", now.Add(time.Minute)); !errors.Is(err, domain.ErrLeaseHeld) {
		t.Fatalf("second claim: %v", err)
	}
	if err := s.RecordJobOutcome(ctx, domain.JobOutcome{JobID: "j1", Owner: "w2", Status: domain.JobSucceeded}); !errors.Is(err, domain.ErrLeaseHeld) {
		t.Fatalf("outcome from non-owner: %v", err)
	}
	if n, _ := s.ReclaimStale(ctx, now.Add(2*time.Minute)); n != 1 {
		t.Fatalf("reclaimed = %d", n)
	}
	j, _ := s.Job("j1")
	if j.Status != domain.JobPending || j.LeaseOwner != "" {
		t.Fatalf("after reclaim: %+v", j)
	}

	if _, err := s.ClaimJob(ctx, "j1", "w1", now.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordJobOutcome(ctx, domain.JobOutcome{JobID: "j1", Owner: "w1", Status: domain.JobSucceeded, AttemptCount: 1, FinishedAt: now}); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.RequeueSucceeded(ctx, now.Add(time.Hour), now.Add(time.Hour)); n != 1 {
		t.Fatalf("requeued = %d", n)
	}
	j, _ = s.Job("j1")
	if j.Status != domain.JobPending || j.AttemptCount != 0 {
		t.Fatalf("after recrawl: %+v", j)
	}
	counts, _ := s.JobCounts(ctx)
	if counts[domain.JobPending] != 1 || counts[domain.JobDead] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRecordScrapeResult_ClampsAndDeactivates(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAgency(t, s, "a1")

	a, _ := s.RecordScrapeResult(ctx, domain.ScrapeResult{AgencyID: "a1", Success: true, TrustDelta: 0.9, Strategy: domain.StrategyRendered})
	if a.TrustScore != 1 || a.Strategy != domain.StrategyRendered || a.SuccessCount != 1 {
		t.Fatalf("after success: %+v", a)
	}
	for i := 0; i < 3; i++ {
		a, _ = s.RecordScrapeResult(ctx, domain.ScrapeResult{AgencyID: "a1", TrustDelta: -0.5, DeactivateAfter: 3})
	}
	if a.TrustScore != 0 || a.IsActive || a.ConsecutiveFailures != 3 {
		t.Fatalf("after failures: %+v", a)
	}
	if a.Strategy != domain.StrategyRendered {
		t.Fatalf("failure must not reset strategy: %s", a.Strategy)
	}
	if ready, _ := s.ReadyJobs(ctx, time.Now(), 0); len(ready) != 0 {
		t.Fatalf("inactive agency jobs must not be ready")
	}
}

func TestPackagesFingerprintAndRead(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedAgency(t, s, "a1")
	p := domain.Package{ID: "p1", AgencyID: "a1", SourceURL: "https://a1.example/bali", Destination: "Ubud, Bali",
		DurationDays: 7, Price: 1200, Currency: "USD", RawFingerprint: "fp1"}
	if err := s.UpsertPackage(ctx, p); err != nil {
		t.Fatal(err)
	}
	if fp, ok, _ := s.PackageFingerprint(ctx, "a1", "https://a1.example/bali"); !ok || fp != "fp1" {
		t.Fatalf("fingerprint = %q %v", fp, ok)
	}
	bad := p
	bad.ID, bad.SourceURL, bad.Price = "p2", "https://a1.example/x", -1
	if err := s.UpsertPackage(ctx, bad); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, _ := s.ReadPackagesByDestination(ctx, "bali")
	if len(got) != 1 || got[0].AgencyTrust != 0.5 || got[0].AgencyName != "a1" {
		t.Fatalf("read = %+v", got)
	}
	if got, _ := s.ReadPackagesByDestination(ctx, "paris"); len(got) != 0 {
		t.Fatalf("unexpected read for paris: %+v", got)
	}
	if s.PackageWrites() != 1 {
		t.Fatalf("writes = %d", s.PackageWrites())
	}
}
