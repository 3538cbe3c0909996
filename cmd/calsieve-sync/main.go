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
	projdomain "calsieve/internal/services/projection/domain"
	projrepo "calsieve/internal/services/projection/repo"
	projsvc "calsieve/internal/services/projection/service"
	syncdomain "calsieve/internal/services/sync/domain"
	syncrepo "calsieve/internal/services/sync/repo"
	syncsvc "calsieve/internal/services/sync/service"
	transport "calsieve/internal/transport/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
)

func main() {
	root := config.New()
	pgCfg := root.Prefix("PG_")
	syncCfg := root.Prefix("SYNC_")
	cacheCfg := root.Prefix("CACHE_")
	fetchCfg := root.Prefix("FETCH_")

	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "calsieve-sync",
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

	retention := cacheCfg.MayDuration("RETENTION", 30*24*time.Hour)

	sched := cron.New()
	mustAdd(sched, syncCfg.MayString("REFRESH_CRON", "*/15 * * * *"), func() {
		refreshAll(ctx, syncSvc)
	})
	mustAdd(sched, syncCfg.MayString("SWEEP_CRON", "*/5 * * * *"), func() {
		sweepPending(ctx, projSvc)
	})
	mustAdd(sched, syncCfg.MayString("CLEANUP_CRON", "30 3 * * *"), func() {
		cleanup(ctx, projSvc, retention)
	})

	// one pass right away so a fresh deployment does not wait a full interval
	refreshAll(ctx, syncSvc)

	// metrics endpoint for the worker process
	msrv := transport.NewServer(syncCfg.MayString("METRICS_ADDR", ":4001"),
		transport.NewRouter(transport.Deps{Store: st, Registry: reg}))
	go func() {
		if err := msrv.Run(); err != nil {
			l.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sched.Start()
	l.Info().Msg("sync scheduler running")

	<-ctx.Done()
	cronCtx := sched.Stop()
	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = msrv.Shutdown(shCtx)
	select {
	case <-cronCtx.Done():
	case <-shCtx.Done():
	}
}

func mustAdd(c *cron.Cron, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		logger.Get().Panic().Err(err).Str("spec", spec).Msg("invalid cron spec")
	}
}

func refreshAll(ctx context.Context, svc syncdomain.CoordinatorPort) {
	log := logger.Named("refresh")
	reports, err := svc.SyncAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("sweep failed")
		return
	}
	updated, failed := 0, 0
	for _, rep := range reports {
		if rep.Err != nil {
			failed++
			log.Warn().Err(rep.Err).Int64("calendar_id", rep.CalendarID).Msg("calendar sync failed")
			continue
		}
		if rep.Updated {
			updated++
		}
	}
	log.Info().
		Int("calendars", len(reports)).
		Int("updated", updated).
		Int("failed", failed).
		Msg("refresh pass done")
}

func sweepPending(ctx context.Context, svc projdomain.CachePort) {
	log := logger.Named("sweep")
	n, err := svc.RegeneratePending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("regeneration sweep failed")
		return
	}
	if n > 0 {
		log.Info().Int("rebuilt", n).Msg("regeneration sweep done")
	}
}

func cleanup(ctx context.Context, svc projdomain.CachePort, retention time.Duration) {
	log := logger.Named("cleanup")
	n, err := svc.Cleanup(ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("cache cleanup failed")
		return
	}
	log.Info().Int64("deleted", n).Msg("cache cleanup done")
}
