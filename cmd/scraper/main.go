package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tripscout/internal/adapters/fetch"
	"tripscout/internal/adapters/observability"
	redisad "tripscout/internal/adapters/redis"
	"tripscout/internal/app"
	"tripscout/internal/discovery"
	"tripscout/internal/extract"
	"tripscout/internal/ratelimit"
	"tripscout/internal/scrape"
	"tripscout/internal/shared"
	mysqlrepo "tripscout/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")
	repo := mysqlrepo.New(db)

	rdb := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()

	rules, err := extract.LoadDir(cfg.RulesDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal().Err(err).Str("dir", cfg.RulesDir).Msg("load rules failed")
	}
	if rules == nil {
		log.Warn().Str("dir", cfg.RulesDir).Msg("rules dir missing, using generic JSON-LD rules only")
		rules = extract.NewBook()
	}

	lim := ratelimit.New(ratelimit.Config{
		DefaultInterval: cfg.RateDefaultInterval,
		Intervals:       cfg.RateDomainIntervals,
		MaxInFlight:     cfg.RateMaxInFlight,
	})
	static := fetch.NewStatic(cfg.FetchTimeout, cfg.UserAgent)
	fetchers := []scrape.Fetcher{static}
	if cfg.RenderEnabled {
		rendered := fetch.NewRendered(fetch.RenderedOptions{
			Headless:  cfg.RenderHeadless,
			ExecPath:  cfg.RenderExecPath,
			UserAgent: cfg.UserAgent,
			Timeout:   cfg.FetchTimeout * 2,
		})
		defer rendered.Close()
		fetchers = append(fetchers, rendered)
	}

	writer := app.NewPackageWriter(app.NewNormalizer(repo, cfg.DefaultCurrency), repo)
	exec := scrape.NewExecutor(scrape.ExecutorConfig{
		MaxAttempts:      cfg.JobMaxAttempts,
		Backoff:          scrape.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax, Jitter: 0.2},
		TrustSuccessStep: cfg.TrustSuccessStep,
		TrustFailureStep: cfg.TrustFailureStep,
		DeactivateAfter:  cfg.DeactivateAfter,
	}, lim, rules, writer, repo, fetchers...)

	sched := scrape.NewScheduler(scrape.SchedulerConfig{
		Workers:      cfg.Workers,
		PerDomain:    cfg.PerDomain,
		JobTimeout:   cfg.JobTimeout,
		LeaseTTL:     cfg.LeaseTTL,
		PollInterval: cfg.PollInterval,
		RecrawlAfter: cfg.RecrawlAfter,
	}, repo, repo, exec, redisad.NewLeaser(rdb, ""), rules)

	pipeline := app.NewPipelineService(app.PipelineConfig{InitialTrust: cfg.InitialTrust},
		buildDiscovery(cfg, static), repo, sched)

	stats := app.NewStatsService(repo, repo, lim)
	observability.Serve(cfg.MetricsAddr, observability.InitRegistry(observability.NewPipelineCollector(stats.Snapshot)))

	log.Info().
		Str("owner", sched.Owner()).
		Int("workers", cfg.Workers).
		Int("rule_sets", len(rules.Agencies())).
		Bool("rendered", cfg.RenderEnabled).
		Msg("scraper starting")

	// one signal stops dispatching; jobs still running keep their leases for the stale detector
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		log.Info().Str("signal", s.String()).Msg("shutting down")
		sched.Shutdown(true)
		cancel()
		<-sigs
		log.Warn().Msg("second signal, exiting now")
		os.Exit(1)
	}()

	if cfg.ScraperOnce {
		if _, err := pipeline.RunScrapeCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("scrape cycle failed")
		}
		sched.Wait()
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return runCron(gctx, cfg.ScrapeCron, pipeline) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("scraper stopped")
	}
	sched.Wait()
	log.Info().Msg("scraper stopped")
}

// runCron runs one cycle immediately, then on every schedule tick until ctx is done.
func runCron(ctx context.Context, schedule string, p *app.PipelineService) error {
	cycle := func() {
		_, err := p.RunScrapeCycle(ctx)
		switch {
		case errors.Is(err, app.ErrCycleRunning):
			log.Info().Msg("previous scrape cycle still running, skipping")
		case err != nil && ctx.Err() == nil:
			log.Error().Err(err).Msg("scrape cycle failed")
		}
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	if _, err := c.AddFunc(schedule, cycle); err != nil {
		return err
	}
	c.Start()
	log.Info().Str("schedule", schedule).Msg("scrape cycle scheduled")

	go cycle()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func buildDiscovery(cfg shared.Config, static *fetch.Static) *discovery.Discovery {
	var sources []discovery.Source
	seeds, err := discovery.LoadSeeds(cfg.SeedsFile)
	if err != nil {
		log.Warn().Err(err).Str("file", cfg.SeedsFile).Msg("seeds not loaded")
	}
	if len(seeds.Agencies) > 0 {
		sources = append(sources, discovery.NewStaticSource(seeds.Agencies))
	}
	if cfg.SearchEndpoint != "" && len(cfg.SearchQueries) > 0 {
		sources = append(sources, discovery.NewSearchSource(cfg.SearchEndpoint, cfg.SearchKey,
			cfg.SearchQueries, 10, 15*time.Second))
	}
	if len(seeds.Directories) > 0 {
		sources = append(sources, discovery.NewDirectorySource(static, seeds.Directories))
	}
	return discovery.New(discovery.DefaultBlocked, sources...)
}
