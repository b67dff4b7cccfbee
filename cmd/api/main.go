package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "tripscout/internal/adapters/http_server"
	"tripscout/internal/adapters/observability"
	redisad "tripscout/internal/adapters/redis"
	"tripscout/internal/app"
	"tripscout/internal/ranking"
	"tripscout/internal/ratelimit"
	"tripscout/internal/shared"
	mysqlrepo "tripscout/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	// deps
	repo := mysqlrepo.New(db)
	rdb := redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	defer rdb.Close()
	cache := redisad.NewCache(rdb, "tripscout:")
	q := app.NewQueryService(repo, cache, cfg.CacheTTL, ranking.Config{
		Missing: ranking.MissingPolicy(cfg.RankMissingPolicy),
	})
	// the API process never fetches; the limiter only reports configured intervals
	lim := ratelimit.New(ratelimit.Config{DefaultInterval: cfg.RateDefaultInterval, Intervals: cfg.RateDomainIntervals})
	stats := app.NewStatsService(repo, repo, lim)

	// http
	srv := server.New(15 * time.Second)
	reg := observability.InitRegistry(observability.NewPipelineCollector(stats.Snapshot))
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Q:     q,
		Stats: stats,
		Ready: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			return cache.Ping(ctx)
		},
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
