package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tripscout/internal/domain"
)

type Recommender interface {
	GetRecommendations(ctx context.Context, q domain.TripQuery) (domain.Recommendations, error)
}

type StatsReader interface {
	Snapshot(ctx context.Context) (domain.PipelineStats, error)
	Agencies(ctx context.Context) ([]domain.AgencyStat, error)
}

type Handlers struct {
	Q     Recommender
	Stats StatsReader
	// Ready reports backing-store health for /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const maxBodyBytes = 64 << 10

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/readyz", h.ready)
	s.mux.Get("/v1/recommendations", h.getRecommendations)
	s.mux.Post("/v1/recommendations", h.postRecommendations)
	s.mux.Get("/v1/stats", h.stats)
	s.mux.Get("/v1/agencies", h.agencies)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeJSON serves v with a weak ETag and honours If-None-Match.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if body == nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "response encoding failed")
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to write body")
	}
}

// recommendationRequest is the wire form of a TripQuery; dates are YYYY-MM-DD.
type recommendationRequest struct {
	Destination     string   `json:"destination"`
	StartDate       string   `json:"start_date,omitempty"`
	EndDate         string   `json:"end_date,omitempty"`
	DurationDays    *int     `json:"duration_days,omitempty"`
	BudgetMax       *float64 `json:"budget_max,omitempty"`
	PartySize       *int     `json:"party_size,omitempty"`
	Currency        string   `json:"currency,omitempty"`
	Inclusions      []string `json:"inclusions,omitempty"`
	FlexibilityDays *int     `json:"flexibility_days,omitempty"`
	MaxResults      int      `json:"max_results,omitempty"`
}

func (req recommendationRequest) toQuery() (domain.TripQuery, error) {
	q := domain.TripQuery{
		Destination:     strings.TrimSpace(req.Destination),
		DurationDays:    req.DurationDays,
		BudgetMax:       req.BudgetMax,
		PartySize:       req.PartySize,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Inclusions:      req.Inclusions,
		FlexibilityDays: req.FlexibilityDays,
		MaxResults:      req.MaxResults,
	}
	if req.StartDate != "" || req.EndDate != "" {
		if req.StartDate == "" || req.EndDate == "" {
			return q, fmt.Errorf("%w: start_date and end_date go together", domain.ErrInvalidQuery)
		}
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			return q, fmt.Errorf("%w: start_date: %v", domain.ErrInvalidQuery, err)
		}
		end, err := time.Parse("2006-01-02", req.EndDate)
		if err != nil {
			return q, fmt.Errorf("%w: end_date: %v", domain.ErrInvalidQuery, err)
		}
		q.DateRange = &domain.DateRange{Start: start, End: end}
	}
	return q, nil
}

func (h *Handlers) postRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	h.recommend(w, r, req)
}

func (h *Handlers) getRecommendations(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	req := recommendationRequest{
		Destination: v.Get("destination"),
		StartDate:   v.Get("start_date"),
		EndDate:     v.Get("end_date"),
		Currency:    v.Get("currency"),
	}
	if inc := v.Get("inclusions"); inc != "" {
		for _, s := range strings.Split(inc, ",") {
			if s = strings.TrimSpace(s); s != "" {
				req.Inclusions = append(req.Inclusions, s)
			}
		}
	}
	var err error
	intParam := func(name string) *int {
		s := v.Get(name)
		if s == "" || err != nil {
			return nil
		}
		n, perr := strconv.Atoi(s)
		if perr != nil {
			err = fmt.Errorf("%s must be an integer", name)
			return nil
		}
		return &n
	}
	req.DurationDays = intParam("duration_days")
	req.PartySize = intParam("party_size")
	req.FlexibilityDays = intParam("flexibility_days")
	if n := intParam("limit"); n != nil {
		req.MaxResults = *n
	}
	if s := v.Get("budget_max"); s != "" && err == nil {
		f, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			err = errors.New("budget_max must be a number")
		}
		req.BudgetMax = &f
	}
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error())
		return
	}
	h.recommend(w, r, req)
}

func (h *Handlers) recommend(w http.ResponseWriter, r *http.Request, req recommendationRequest) {
	q, err := req.toQuery()
	if err == nil {
		var out domain.Recommendations
		out, err = h.Q.GetRecommendations(r.Context(), q)
		if err == nil {
			writeJSON(w, r, out)
			return
		}
	}
	if errors.Is(err, domain.ErrInvalidQuery) {
		writeProblem(w, http.StatusBadRequest, "Invalid query", err.Error())
		return
	}
	log.Error().Err(err).Str("destination", req.Destination).Msg("recommendations failed")
	writeProblem(w, http.StatusInternalServerError, "Internal Error", "recommendations unavailable")
}

type statsView struct {
	JobsByStatus   map[domain.JobStatus]int `json:"jobs_by_status"`
	Agencies       []domain.AgencyStat      `json:"agencies"`
	DomainDelaysMS map[string]int64         `json:"domain_delays_ms"`
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Stats.Snapshot(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("stats snapshot failed")
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "stats unavailable")
		return
	}
	view := statsView{JobsByStatus: st.JobsByStatus, Agencies: st.Agencies, DomainDelaysMS: map[string]int64{}}
	for d, wait := range st.DomainDelays {
		view.DomainDelaysMS[d] = wait.Milliseconds()
	}
	writeJSON(w, r, view)
}

func (h *Handlers) agencies(w http.ResponseWriter, r *http.Request) {
	as, err := h.Stats.Agencies(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list agencies failed")
		writeProblem(w, http.StatusServiceUnavailable, "Unavailable", "agencies unavailable")
		return
	}
	if active := r.URL.Query().Get("active"); active != "" {
		want := active == "true" || active == "1"
		filtered := as[:0:0]
		for _, a := range as {
			if a.Active == want {
				filtered = append(filtered, a)
			}
		}
		as = filtered
	}
	writeJSON(w, r, map[string]any{"agencies": as})
}

func (h *Handlers) ready(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
