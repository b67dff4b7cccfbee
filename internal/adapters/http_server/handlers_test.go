package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tripscout/internal/domain"
)

type fakeRecommender struct {
	last domain.TripQuery
	err  error
}

func (f *fakeRecommender) GetRecommendations(_ context.Context, q domain.TripQuery) (domain.Recommendations, error) {
	f.last = q
	if f.err != nil {
		return domain.Recommendations{}, f.err
	}
	if err := q.Validate(); err != nil {
		return domain.Recommendations{}, err
	}
	return domain.Recommendations{Query: q, Candidates: []domain.PackageCandidate{
		{StoredPackage: domain.StoredPackage{Package: domain.Package{ID: "p1", Destination: q.Destination}}, Rank: 1, Score: 0.9},
	}}, nil
}

type fakeStats struct{}

func (fakeStats) Snapshot(context.Context) (domain.PipelineStats, error) {
	return domain.PipelineStats{
		JobsByStatus: map[domain.JobStatus]int{domain.JobPending: 2},
		DomainDelays: map[string]time.Duration{"a.example": 1500 * time.Millisecond},
	}, nil
}

func (fakeStats) Agencies(context.Context) ([]domain.AgencyStat, error) {
	return []domain.AgencyStat{{ID: "1", Active: true}, {ID: "2", Active: false}}, nil
}

func newTestServer(rec *fakeRecommender) http.Handler {
	s := New(time.Second)
	s.MountHandlers(&Handlers{Q: rec, Stats: fakeStats{}, Ready: func(context.Context) error { return errors.New("db down") }})
	return s.Mux()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRecommendations_GetParsesQuery(t *testing.T) {
	rec := &fakeRecommender{}
	h := newTestServer(rec)

	rr := do(t, h, httptest.NewRequest("GET",
		"/v1/recommendations?destination=Bali&budget_max=1500&duration_days=7&inclusions=meals,+flights&start_date=2026-06-01&end_date=2026-06-30&limit=3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	q := rec.last
	if q.Destination != "Bali" || *q.BudgetMax != 1500 || *q.DurationDays != 7 || q.MaxResults != 3 {
		t.Fatalf("query = %+v", q)
	}
	if len(q.Inclusions) != 2 || q.Inclusions[1] != "flights" || q.DateRange == nil {
		t.Fatalf("query = %+v", q)
	}
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest("GET", "/v1/recommendations?destination=Bali&budget_max=1500&duration_days=7&inclusions=meals,+flights&start_date=2026-06-01&end_date=2026-06-30&limit=3", nil)
	req.Header.Set("If-None-Match", etag)
	if rr := do(t, h, req); rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr.Code)
	}
}

func TestRecommendations_PostAndErrors(t *testing.T) {
	rec := &fakeRecommender{}
	h := newTestServer(rec)

	rr := do(t, h, httptest.NewRequest("POST", "/v1/recommendations",
		strings.NewReader(`{"destination":"Goa","party_size":2,"currency":"inr"}`)))
	if rr.Code != http.StatusOK || rec.last.Currency != "INR" || *rec.last.PartySize != 2 {
		t.Fatalf("status = %d query = %+v", rr.Code, rec.last)
	}
	var out domain.Recommendations
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil || len(out.Candidates) != 1 {
		t.Fatalf("body = %s", rr.Body.String())
	}

	cases := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"missing destination", httptest.NewRequest("GET", "/v1/recommendations", nil), http.StatusBadRequest},
		{"bad number", httptest.NewRequest("GET", "/v1/recommendations?destination=Goa&duration_days=x", nil), http.StatusBadRequest},
		{"half date range", httptest.NewRequest("GET", "/v1/recommendations?destination=Goa&start_date=2026-01-01", nil), http.StatusBadRequest},
		{"unknown field", httptest.NewRequest("POST", "/v1/recommendations", strings.NewReader(`{"where":"Goa"}`)), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, tc.req)
			if rr.Code != tc.want {
				t.Fatalf("status = %d", rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("content-type = %s", ct)
			}
		})
	}

	rec.err = errors.New("db gone")
	if rr := do(t, h, httptest.NewRequest("GET", "/v1/recommendations?destination=Goa", nil)); rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStatsAgenciesAndProbes(t *testing.T) {
	h := newTestServer(&fakeRecommender{})

	rr := do(t, h, httptest.NewRequest("GET", "/v1/stats", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"a.example":1500`) {
		t.Fatalf("stats = %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, httptest.NewRequest("GET", "/v1/agencies?active=true", nil))
	var body struct {
		Agencies []domain.AgencyStat `json:"agencies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || len(body.Agencies) != 1 || body.Agencies[0].ID != "1" {
		t.Fatalf("agencies = %s", rr.Body.String())
	}

	if rr := do(t, h, httptest.NewRequest("GET", "/healthz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rr.Code)
	}
	if rr := do(t, h, httptest.NewRequest("GET", "/readyz", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz = %d", rr.Code)
	}
}
