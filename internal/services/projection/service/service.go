// Package service implements the projection cache workflows
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"calsieve/internal/core/ics"
	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/logger"
	"calsieve/internal/platform/metrics"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/projection/domain"
	"calsieve/internal/services/projection/repo"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Config tunes the projection cache
type Config struct {
	// TTL bounds how long a built projection stays servable without a rebuild
	TTL time.Duration

	// HotEntries sizes the in-process LRU layer in front of the table
	HotEntries int

	// SweepBatch caps how many flagged rows one RegeneratePending pass rebuilds
	SweepBatch int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.HotEntries <= 0 {
		c.HotEntries = 256
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 100
	}
	return c
}

// hotEntry is what the LRU layer keeps per key. Hits validate hashes and
// expiry against the current source, so a sync-side invalidation (which
// always changes the source hash) evicts implicitly
type hotEntry struct {
	content    string
	filterHash string
	sourceHash string
	expiresAt  time.Time
}

// Service implements domain.CachePort
type Service struct {
	DB       store.TxRunner
	Binder   store.Binder[repo.Storage]
	Assigner domain.Assigner
	Met      *metrics.Set
	Cfg      Config

	now func() time.Time
	hot *lru.Cache[string, hotEntry]

	// locks serializes builds per cache key; concurrent callers for the same
	// key collapse into one rebuild. Entries are dropped once the last holder
	// releases, so the map stays proportional to in-flight keys
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock carries a holder count so release can reap the map entry once
// nobody is waiting on the key
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Option mutates the service during construction
type Option func(*Service)

// WithClock injects a time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a projection cache service
func New(db store.TxRunner, b store.Binder[repo.Storage], a domain.Assigner, met *metrics.Set, cfg Config, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	hot, _ := lru.New[string, hotEntry](cfg.HotEntries)
	s := &Service{
		DB:       db,
		Binder:   b,
		Assigner: a,
		Met:      met,
		Cfg:      cfg,
		now:      time.Now,
		hot:      hot,
		locks:    make(map[string]*keyLock),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) acquire(key string) *keyLock {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) release(key string, l *keyLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
	s.mu.Unlock()
}

// GetOrBuild implements domain.CachePort
func (s *Service) GetOrBuild(ctx context.Context, cfg domain.FilterConfig) (string, error) {
	key := cfg.Key()
	filterHash := cfg.Hash()

	lock := s.acquire(key)
	defer s.release(key, lock)

	st := s.Binder.Bind(s.DB)
	srcHash, err := st.SourceHash(ctx, cfg.CalendarID)
	if err != nil {
		return "", err
	}
	now := s.now()

	if e, ok := s.hot.Get(key); ok &&
		e.filterHash == filterHash && e.sourceHash == srcHash && now.Before(e.expiresAt) {
		s.Met.ProjectionCacheHits.Inc()
		return e.content, nil
	}

	var stale *domain.CacheRow
	row, err := st.GetRow(ctx, key)
	switch {
	case err == nil:
		if !row.NeedsRegeneration && now.Before(row.ExpiresAt) &&
			row.FilterHash == filterHash && row.SourceHash == srcHash {
			s.Met.ProjectionCacheHits.Inc()
			s.hot.Add(key, hotEntry{row.Content, row.FilterHash, row.SourceHash, row.ExpiresAt})
			return row.Content, nil
		}
		stale = &row
	case perr.IsCode(err, perr.ErrorCodeNotFound):
		// first build for this key
	default:
		return "", err
	}

	s.Met.ProjectionCacheMiss.Inc()
	content, err := s.build(ctx, st, cfg)
	if err != nil {
		s.Met.RegenerationErrors.Inc()
		if stale != nil && stale.FilterHash == filterHash {
			// The previous artifact stays servable; the wrapped code tells
			// transports they are handing out outdated content
			logger.C(ctx).Warn().Err(err).Str("key", key).Msg("projection rebuild failed, previous content kept")
			return stale.Content, perr.Wrapf(err, perr.ErrorCodeStaleCache, "projection %s rebuild failed, serving stale content", key)
		}
		return "", err
	}
	s.Met.Regenerations.Inc()

	fresh := domain.CacheRow{
		Key:        key,
		CalendarID: cfg.CalendarID,
		Config:     cfg,
		FilterHash: filterHash,
		SourceHash: srcHash,
		Content:    content,
		BuiltAt:    now,
		ExpiresAt:  now.Add(s.Cfg.TTL),
	}
	if err := st.UpsertRow(ctx, fresh); err != nil {
		// The prior row stays intact and the caller still gets fresh content;
		// the wrapped code lets transports decide to serve it anyway
		logger.C(ctx).Warn().Err(err).Str("key", key).Msg("projection cache write failed")
		return content, perr.Wrapf(err, perr.ErrorCodeCacheWrite, "projection %s not persisted", key)
	}
	s.hot.Add(key, hotEntry{content, filterHash, srcHash, fresh.ExpiresAt})
	return content, nil
}

// build loads the calendar's events, narrows them to the window and includes,
// and serializes the result
func (s *Service) build(ctx context.Context, st repo.Storage, cfg domain.FilterConfig) (string, error) {
	events, err := st.Events(ctx, cfg.CalendarID)
	if err != nil {
		return "", err
	}

	var groupTitles map[string]struct{}
	if len(cfg.GroupIDs) > 0 {
		groupTitles, err = s.Assigner.TitlesFor(ctx, cfg.CalendarID, cfg.GroupIDs)
		if err != nil {
			return "", err
		}
	}

	var kept []ics.Event
	for _, ev := range events {
		if !ics.OccursWithin(ev, cfg.WindowFrom, cfg.WindowTo) {
			continue
		}
		if s.included(ev, cfg, groupTitles) {
			kept = append(kept, ev)
		}
	}

	name := cfg.Name
	if name == "" {
		name = "Filtered calendar"
	}
	return ics.Build(name, kept), nil
}

// included applies the OR-combined include filters; an empty config keeps
// every event in the window
func (s *Service) included(ev ics.Event, cfg domain.FilterConfig, groupTitles map[string]struct{}) bool {
	if cfg.Empty() {
		return true
	}
	if _, ok := groupTitles[ev.NormalizedTitle]; ok {
		return true
	}
	for _, kw := range cfg.Keywords {
		needle := strings.ToLower(kw)
		if strings.Contains(strings.ToLower(ev.Title), needle) ||
			strings.Contains(strings.ToLower(ev.Description), needle) {
			return true
		}
	}
	for _, cat := range cfg.Categories {
		if ev.HasCategory(cat) {
			return true
		}
	}
	return false
}

// RegeneratePending implements domain.CachePort
func (s *Service) RegeneratePending(ctx context.Context) (int, error) {
	st := s.Binder.Bind(s.DB)
	pending, err := st.ListPending(ctx, s.Cfg.SweepBatch)
	if err != nil {
		return 0, err
	}

	rebuilt := 0
	for _, row := range pending {
		if ctx.Err() != nil {
			return rebuilt, ctx.Err()
		}
		if _, err := s.GetOrBuild(ctx, row.Config); err != nil {
			logger.C(ctx).Warn().Err(err).Str("key", row.Key).Msg("pending projection rebuild failed")
			continue
		}
		rebuilt++
	}
	return rebuilt, nil
}

// Cleanup implements domain.CachePort
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	n, err := s.Binder.Bind(s.DB).DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.hot.Purge()
		logger.C(ctx).Info().Int64("deleted", n).Msg("projection cache cleaned")
	}
	return n, nil
}
