package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"calsieve/internal/platform/config"
	"calsieve/internal/platform/logger"
	"calsieve/internal/platform/metrics"
	"calsieve/internal/platform/retry"
	"calsieve/internal/platform/store"
	groupsrepo "calsieve/internal/services/groups/repo"
	groupssvc "calsieve/internal/services/groups/service"
	projrepo "calsieve/internal/services/projection/repo"
	projsvc "calsieve/internal/services/projection/service"
	syncrepo "calsieve/internal/services/sync/repo"
	syncsvc "calsieve/internal/services/sync/service"
	transport "calsieve/internal/transport/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	root := config.New()
	apiCfg := root.Prefix("API_")
	pgCfg := root.Prefix("PG_")
	syncCfg := root.Prefix("SYNC_")
	cacheCfg := root.Prefix("CACHE_")
	fetchCfg := root.Prefix("FETCH_")

	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "calsieve-api",
		PG: store.PGConfig{
			URL:         pgCfg.MustString("DBURL"),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", false),
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	met := metrics.New(reg)

	groupsSvc := groupssvc.New(st.PG, groupsrepo.NewPG())
	projSvc := projsvc.New(st.PG, projrepo.NewPG(), groupsSvc, met, projsvc.Config{
		TTL:        cacheCfg.MayDuration("TTL", time.Hour),
		HotEntries: cacheCfg.MayInt("HOT_ENTRIES", 256),
		SweepBatch: cacheCfg.MayInt("SWEEP_BATCH", 100),
	})
	fetcher := syncsvc.NewHTTPFetcher(
		fetchCfg.MayDuration("TIMEOUT", 30*time.Second),
		int64(fetchCfg.MayInt("MAX_BYTES", 10<<20)),
	)
	syncSvc := syncsvc.New(st.PG, syncrepo.NewPG(), fetcher, met, syncsvc.Config{
		FeedTTL:               syncCfg.MayDuration("FEED_TTL", 15*time.Minute),
		SignificanceThreshold: syncCfg.MayFloat64("SIGNIFICANCE", 0.95),
		BreakerThreshold:      syncCfg.MayInt("BREAKER_THRESHOLD", 5),
		BreakerTimeout:        syncCfg.MayDuration("BREAKER_TIMEOUT", time.Minute),
		Retry: retry.Options{
			MaxAttempts: syncCfg.MayInt("FETCH_ATTEMPTS", 3),
			BaseDelay:   syncCfg.MayDuration("FETCH_BASE_DELAY", time.Second),
			MaxDelay:    syncCfg.MayDuration("FETCH_MAX_DELAY", time.Minute),
		},
	})

	router := transport.NewRouter(transport.Deps{
		Groups:      groupsSvc,
		Projections: projSvc,
		Sync:        syncSvc,
		Store:       st,
		Registry:    reg,
	})
	srv := transport.NewServer(apiCfg.MayString("ADDR", ":4000"), router)

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			l.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	if err := srv.Run(); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
