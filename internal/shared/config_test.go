package shared

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RATE_DEFAULT_INTERVAL", "")
	t.Setenv("SEARCH_QUERIES", "")
	c := Load()
	if c.HTTPAddr != ":8080" || c.RateDefaultInterval != 2*time.Second || c.JobMaxAttempts != 3 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.InitialTrust != 0.5 || c.RankMissingPolicy != "midpoint" || c.ScraperOnce {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if len(c.SearchQueries) != 0 || len(c.RateDomainIntervals) != 0 {
		t.Fatalf("expected empty lists, got %v %v", c.SearchQueries, c.RateDomainIntervals)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RATE_DEFAULT_INTERVAL", "1500ms")
	t.Setenv("RATE_DOMAIN_INTERVALS", "Slow.example=10, fast.example=250ms, broken, bad.example=soon")
	t.Setenv("BACKOFF_BASE", "5")
	t.Setenv("TRUST_FAILURE_STEP", "0.2")
	t.Setenv("RENDER_ENABLED", "true")
	t.Setenv("SCRAPER_ONCE", "nope")
	t.Setenv("SCRAPE_WORKERS", "x")
	t.Setenv("SEARCH_QUERIES", "bali tour packages | kerala honeymoon ||")
	t.Setenv("DEFAULT_CURRENCY", "inr")

	c := Load()
	if c.RateDefaultInterval != 1500*time.Millisecond {
		t.Fatalf("interval: %v", c.RateDefaultInterval)
	}
	want := map[string]time.Duration{"slow.example": 10 * time.Second, "fast.example": 250 * time.Millisecond}
	if !reflect.DeepEqual(c.RateDomainIntervals, want) {
		t.Fatalf("domain intervals: %v", c.RateDomainIntervals)
	}
	if c.BackoffBase != 5*time.Second || c.TrustFailureStep != 0.2 || !c.RenderEnabled {
		t.Fatalf("overrides not applied: %+v", c)
	}
	if c.ScraperOnce || c.Workers != 8 {
		t.Fatalf("malformed values must fall back to defaults: once=%v workers=%d", c.ScraperOnce, c.Workers)
	}
	if !reflect.DeepEqual(c.SearchQueries, []string{"bali tour packages", "kerala honeymoon"}) {
		t.Fatalf("queries: %q", c.SearchQueries)
	}
	if c.DefaultCurrency != "INR" {
		t.Fatalf("currency: %s", c.DefaultCurrency)
	}
}
