// Package service implements the sync coordinator workflow
package service

import (
	"context"
	"sync"
	"time"

	"calsieve/internal/core/changedetect"
	"calsieve/internal/core/ics"
	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/logger"
	"calsieve/internal/platform/metrics"
	"calsieve/internal/platform/retry"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/sync/domain"
	"calsieve/internal/services/sync/repo"
)

// Config tunes the sync coordinator
type Config struct {
	// FeedTTL bounds how long a stored snapshot counts as fresh
	FeedTTL time.Duration

	// SignificanceThreshold below which a refetched body triggers a full update
	SignificanceThreshold float64

	// Breaker settings applied per calendar
	BreakerThreshold int
	BreakerTimeout   time.Duration

	Retry retry.Options

	// TxRetry bounds the contention retries around the event replacement
	// transaction; concurrent syncs can deadlock on the same calendar's rows
	TxRetry retry.Options
}

func (c Config) withDefaults() Config {
	if c.FeedTTL <= 0 {
		c.FeedTTL = 15 * time.Minute
	}
	if c.SignificanceThreshold <= 0 {
		c.SignificanceThreshold = changedetect.DefaultFeedThreshold
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 60 * time.Second
	}
	if c.TxRetry.MaxAttempts <= 0 {
		c.TxRetry = retry.Options{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	}
	return c
}

// Service implements domain.CoordinatorPort
type Service struct {
	DB      store.TxRunner
	Binder  store.Binder[repo.Storage]
	Fetcher domain.Fetcher
	Met     *metrics.Set
	Cfg     Config

	now func() time.Time

	mu       sync.Mutex
	breakers map[int64]*retry.Breaker
}

// Option mutates the service during construction
type Option func(*Service)

// WithClock injects a time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a sync coordinator
func New(db store.TxRunner, b store.Binder[repo.Storage], f domain.Fetcher, met *metrics.Set, cfg Config, opts ...Option) *Service {
	s := &Service{
		DB:       db,
		Binder:   b,
		Fetcher:  f,
		Met:      met,
		Cfg:      cfg.withDefaults(),
		now:      time.Now,
		breakers: make(map[int64]*retry.Breaker),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// breakerFor returns the per-calendar breaker, creating it lazily. One feed
// flapping never suspends fetches for the others
func (s *Service) breakerFor(calendarID int64) *retry.Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	br, ok := s.breakers[calendarID]
	if !ok {
		br = retry.NewBreaker(s.Cfg.BreakerThreshold, s.Cfg.BreakerTimeout,
			retry.WithClock(s.now),
			retry.WithOnOpen(func() { s.Met.BreakerOpens.Inc() }),
		)
		s.breakers[calendarID] = br
	}
	return br
}

// Sync implements domain.CoordinatorPort
func (s *Service) Sync(ctx context.Context, calendarID int64) (domain.Report, error) {
	ctx = logger.WithRequest(ctx, "", calendarID)
	log := logger.C(ctx)
	rep := domain.Report{CalendarID: calendarID}

	st := s.Binder.Bind(s.DB)
	cal, err := st.GetCalendar(ctx, calendarID)
	if err != nil {
		return rep, err
	}
	if !cal.Active {
		return rep, perr.InvalidArgf("calendar %d is inactive", calendarID)
	}

	br := s.breakerFor(calendarID)
	if !br.Allow() {
		return rep, perr.Unavailablef("calendar %d: fetches suspended, circuit open", calendarID)
	}

	var body string
	err = retry.Do(ctx, func() error {
		s.Met.FetchAttempts.Inc()
		b, ferr := s.Fetcher.Fetch(ctx, cal.FeedURL)
		if ferr != nil {
			return ferr
		}
		body = b
		return nil
	}, s.Cfg.Retry)
	if err != nil {
		br.OnFailure()
		s.Met.FetchFailures.Inc()
		log.Warn().Err(err).Str("feed_url", cal.FeedURL).Msg("feed fetch failed")
		return rep, perr.WrapIf(err, perr.ErrorCodeUnavailable, "feed fetch failed")
	}
	br.OnSuccess()

	now := s.now()

	cached, err := st.CachedSource(ctx, calendarID)
	if err != nil && !perr.IsCode(err, perr.ErrorCodeNotFound) {
		return rep, err
	}
	if !now.Before(cached.ExpiresAt) {
		// An expired snapshot no longer vouches for the stored events, so it
		// must not suppress this refresh as an insignificant change
		cached = domain.CachedSource{}
	}

	if !changedetect.IsSignificant(cached.Content, body, s.Cfg.SignificanceThreshold) {
		s.Met.InsignificantSkips.Inc()
		log.Debug().Msg("feed change below significance threshold, skipping")
		return rep, nil
	}

	events, err := ics.Parse(body)
	if err != nil {
		// A wholly malformed document fails this calendar only; the feed
		// was reachable, so the breaker stays fed with the success above
		return rep, perr.Wrapf(err, perr.ErrorCodeValidation, "calendar %d: unparseable feed", calendarID)
	}

	snapshot := domain.CachedSource{
		CalendarID:  calendarID,
		Content:     body,
		ContentHash: changedetect.Hash(body),
		UpdatedAt:   now,
		ExpiresAt:   now.Add(s.Cfg.FeedTTL),
	}

	// Serialization failures and deadlocks from overlapping syncs are worth a
	// couple of immediate replays; anything else surfaces on the first attempt
	err = retry.DoContended(ctx, func() error {
		return s.DB.Tx(ctx, func(q store.RowQuerier) error {
			txs := s.Binder.Bind(q)
			if err := txs.ReplaceEvents(ctx, calendarID, events); err != nil {
				return err
			}
			return txs.UpsertCachedSource(ctx, snapshot)
		})
	}, s.Cfg.TxRetry)
	if err != nil {
		return rep, err
	}

	rep.Updated = true
	rep.EventCount = len(events)
	s.Met.SignificantChanges.Inc()

	// Invalidation marking happens strictly after the replacement commit so
	// a regeneration racing this sync can never observe flagged-but-old rows
	flagged, err := st.MarkProjectionsStale(ctx, calendarID)
	if err != nil {
		log.Error().Err(err).Msg("projection invalidation failed after commit")
		return rep, perr.Wrapf(err, perr.ErrorCodeDB, "calendar %d: projection invalidation failed", calendarID)
	}
	rep.InvalidatedProjections = flagged
	s.Met.ProjectionsFlagged.Add(float64(flagged))

	log.Info().
		Int("events", rep.EventCount).
		Int64("projections_flagged", flagged).
		Msg("calendar synced")
	return rep, nil
}

// SyncAll implements domain.CoordinatorPort
func (s *Service) SyncAll(ctx context.Context) ([]domain.Report, error) {
	st := s.Binder.Bind(s.DB)
	cals, err := st.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Report, 0, len(cals))
	for _, cal := range cals {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		rep, err := s.Sync(ctx, cal.ID)
		rep.Err = err
		out = append(out, rep)
	}
	return out, nil
}
