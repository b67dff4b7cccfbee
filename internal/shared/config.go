package shared

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration

	// politeness
	RateDefaultInterval time.Duration
	RateDomainIntervals map[string]time.Duration
	RateMaxInFlight     int
	UserAgent           string
	FetchTimeout        time.Duration
	RenderEnabled       bool
	RenderHeadless      bool
	RenderExecPath      string

	// jobs
	JobMaxAttempts   int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	TrustSuccessStep float64
	TrustFailureStep float64
	DeactivateAfter  int
	InitialTrust     float64

	// scheduler
	Workers      int
	PerDomain    int
	JobTimeout   time.Duration
	LeaseTTL     time.Duration
	PollInterval time.Duration
	RecrawlAfter time.Duration
	ScrapeCron   string
	ScraperOnce  bool

	// discovery
	RulesDir       string
	SeedsFile      string
	SearchEndpoint string
	SearchKey      string
	SearchQueries  []string

	DefaultCurrency   string
	RankMissingPolicy string
}

// Load reads the process environment, after merging a .env file when one exists.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg(".env not loaded")
	}
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("not an integer, using default")
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/tripscout?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),
		CacheTTL:    time.Duration(atoi("CACHE_TTL_SECONDS", 60)) * time.Second,

		RateDefaultInterval: duration("RATE_DEFAULT_INTERVAL", 2*time.Second),
		RateDomainIntervals: durations("RATE_DOMAIN_INTERVALS"),
		RateMaxInFlight:     atoi("RATE_MAX_INFLIGHT", 16),
		UserAgent:           env("USER_AGENT", "tripscout/1.0 (+https://tripscout.example/bot)"),
		FetchTimeout:        duration("FETCH_TIMEOUT", 20*time.Second),
		RenderEnabled:       boolean("RENDER_ENABLED", false),
		RenderHeadless:      boolean("RENDER_HEADLESS", true),
		RenderExecPath:      env("RENDER_CHROME_PATH", ""),

		JobMaxAttempts:   atoi("JOB_MAX_ATTEMPTS", 3),
		BackoffBase:      duration("BACKOFF_BASE", 30*time.Second),
		BackoffMax:       duration("BACKOFF_MAX", 30*time.Minute),
		TrustSuccessStep: float("TRUST_SUCCESS_STEP", 0.05),
		TrustFailureStep: float("TRUST_FAILURE_STEP", 0.1),
		DeactivateAfter:  atoi("DEACTIVATE_AFTER", 5),
		InitialTrust:     float("INITIAL_TRUST", 0.5),

		Workers:      atoi("SCRAPE_WORKERS", 8),
		PerDomain:    atoi("SCRAPE_PER_DOMAIN", 2),
		JobTimeout:   duration("JOB_TIMEOUT", 2*time.Minute),
		LeaseTTL:     duration("LEASE_TTL", 3*time.Minute),
		PollInterval: duration("SCRAPE_POLL_INTERVAL", 5*time.Second),
		RecrawlAfter: duration("RECRAWL_AFTER", 24*time.Hour),
		ScrapeCron:   env("SCRAPE_CRON", "0 */6 * * *"),
		ScraperOnce:  boolean("SCRAPER_ONCE", false),

		RulesDir:       env("RULES_DIR", "rules"),
		SeedsFile:      env("SEEDS_FILE", "seeds.yaml"),
		SearchEndpoint: env("SEARCH_ENDPOINT", ""),
		SearchKey:      env("SEARCH_KEY", ""),
		SearchQueries:  list("SEARCH_QUERIES", "|"),

		DefaultCurrency:   strings.ToUpper(env("DEFAULT_CURRENCY", "USD")),
		RankMissingPolicy: env("RANK_MISSING_POLICY", "midpoint"),
	}
	if c.SearchEndpoint != "" && c.SearchKey == "" {
		log.Warn().Msg("SEARCH_KEY is empty, search discovery will likely be rejected")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// duration accepts Go durations ("1500ms") or whole seconds ("2").
func duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, ok := parseDuration(v); ok {
		return d
	}
	log.Warn().Str("key", k).Str("value", v).Msg("not a duration, using default")
	return def
}

func parseDuration(v string) (time.Duration, bool) {
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func float(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not a number, using default")
	}
	return def
}

func boolean(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Warn().Str("key", k).Str("value", v).Msg("not a bool, using default")
	}
	return def
}

func list(k, sep string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(k), sep) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// durations parses "example.com=5s,other.org=1500ms". Malformed pairs are skipped.
func durations(k string) map[string]time.Duration {
	out := map[string]time.Duration{}
	for _, pair := range list(k, ",") {
		name, val, ok := strings.Cut(pair, "=")
		if !ok {
			log.Warn().Str("key", k).Str("pair", pair).Msg("expected domain=interval")
			continue
		}
		d, ok := parseDuration(strings.TrimSpace(val))
		if !ok {
			log.Warn().Str("key", k).Str("pair", pair).Msg("bad interval")
			continue
		}
		out[strings.ToLower(strings.TrimSpace(name))] = d
	}
	return out
}
