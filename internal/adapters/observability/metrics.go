package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripscout/internal/domain"
)

const namespace = "tripscout"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	FetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fetch_requests_total", Help: "Agency page fetches."},
		[]string{"strategy", "domain", "status"},
	)
	FetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "fetch_duration_seconds",
			Help:    "Agency page fetch duration seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"strategy", "domain"},
	)
	ScrapeJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "scrape_jobs_total", Help: "Finished scrape job executions."},
		[]string{"strategy", "outcome"}, // outcome: succeeded|transient|parse|permanent|cancelled|error
	)
	NormalizeRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "normalize_records_total", Help: "Normalized records by result."},
		[]string{"result"}, // result: written|unchanged|dropped
	)
	DiscoveryCandidates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "discovery_candidates_total", Help: "Candidates yielded per source."},
		[]string{"source"},
	)
	DiscoveryRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "discovery_source_duration_seconds",
			Help:    "Discovery source listing duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "outcome"},
	)
	Recommendations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "recommendations_total", Help: "Recommendation queries by result."},
		[]string{"result"}, // result: ok|no_data|no_matches|error
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del|error
	)
)

// Serve exposes reg on addr for processes without an HTTP API.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return // disabled
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency,
		FetchRequests, FetchLatency,
		ScrapeJobs, NormalizeRecords,
		DiscoveryCandidates, DiscoveryRuns,
		Recommendations, CacheEvents,
	)
	reg.MustRegister(extra...)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

// ObserveExternal records one outbound page fetch. status 0 means no response.
func ObserveExternal(strategy, domain string, status int, dur time.Duration) {
	FetchRequests.WithLabelValues(strategy, domain, strconv.Itoa(status)).Inc()
	FetchLatency.WithLabelValues(strategy, domain).Observe(dur.Seconds())
}

func ObserveScrape(strategy, outcome string) {
	if strategy == "" {
		strategy = "none"
	}
	ScrapeJobs.WithLabelValues(strategy, outcome).Inc()
}

func ObserveNormalize(result string, n int) {
	if n > 0 {
		NormalizeRecords.WithLabelValues(result).Add(float64(n))
	}
}

func ObserveDiscovery(source, outcome string, candidates int, dur time.Duration) {
	DiscoveryCandidates.WithLabelValues(source).Add(float64(candidates))
	DiscoveryRuns.WithLabelValues(source, outcome).Observe(dur.Seconds())
}

func ObserveRecommendation(result string) {
	Recommendations.WithLabelValues(result).Inc()
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del|error
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}

// StatsFunc snapshots pipeline state for scraping.
type StatsFunc func(ctx context.Context) (domain.PipelineStats, error)

// PipelineCollector turns a pipeline snapshot into gauges at scrape time.
type PipelineCollector struct {
	stats   StatsFunc
	timeout time.Duration

	jobs        *prometheus.Desc
	successRate *prometheus.Desc
	trust       *prometheus.Desc
	active      *prometheus.Desc
	delay       *prometheus.Desc
}

func NewPipelineCollector(stats StatsFunc) *PipelineCollector {
	return &PipelineCollector{
		stats:   stats,
		timeout: 5 * time.Second,
		jobs: prometheus.NewDesc(prometheus.BuildFQName(namespace, "scrape", "queue_jobs"),
			"Scrape jobs by status.", []string{"status"}, nil),
		successRate: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agency", "success_rate"),
			"Fraction of finished jobs that succeeded per agency.", []string{"agency", "domain"}, nil),
		trust: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agency", "trust_score"),
			"Current agency trust score.", []string{"agency", "domain"}, nil),
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "agency", "active"),
			"1 if the agency is scheduled for scraping.", []string{"agency", "domain"}, nil),
		delay: prometheus.NewDesc(prometheus.BuildFQName(namespace, "ratelimit", "delay_seconds"),
			"Current wait before the next request to a domain.", []string{"domain"}, nil),
	}
}

func (c *PipelineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
	ch <- c.successRate
	ch <- c.trust
	ch <- c.active
	ch <- c.delay
}

func (c *PipelineCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	st, err := c.stats(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline stats unavailable")
		return
	}
	for status, n := range st.JobsByStatus {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), string(status))
	}
	for _, a := range st.Agencies {
		ch <- prometheus.MustNewConstMetric(c.successRate, prometheus.GaugeValue, a.SuccessRate, a.ID, a.Domain)
		ch <- prometheus.MustNewConstMetric(c.trust, prometheus.GaugeValue, a.Trust, a.ID, a.Domain)
		active := 0.0
		if a.Active {
			active = 1
		}
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, active, a.ID, a.Domain)
	}
	for d, wait := range st.DomainDelays {
		ch <- prometheus.MustNewConstMetric(c.delay, prometheus.GaugeValue, wait.Seconds(), d)
	}
}
