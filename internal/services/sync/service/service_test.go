package service

import (
	"context"
	"testing"
	"time"

	"calsieve/internal/core/ics"
	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/metrics"
	"calsieve/internal/platform/retry"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/sync/domain"
	"calsieve/internal/services/sync/repo"

	"github.com/jackc/pgx/v5/pgconn"
)

const feedBody = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:ev-1\r\n" +
	"DTSTART:20260901T090000Z\r\n" +
	"DTEND:20260901T100000Z\r\n" +
	"SUMMARY:Math Lecture\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

// fakeDB satisfies store.TxRunner; Tx simply runs the callback against itself
// since the fake storage below ignores the bound querier anyway
type fakeDB struct{}

func (fakeDB) Exec(context.Context, string, ...any) (store.CommandTag, error) { return nil, nil }
func (fakeDB) Query(context.Context, string, ...any) (store.Rows, error)      { return nil, nil }
func (fakeDB) QueryRow(context.Context, string, ...any) store.Row             { return nil }
func (f fakeDB) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	return fn(f)
}

// flakyDB fails the first len(txErrs) transactions, then behaves like fakeDB
type flakyDB struct {
	fakeDB
	txErrs  []error
	txCalls int
}

func (f *flakyDB) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error {
	f.txCalls++
	if len(f.txErrs) > 0 {
		err := f.txErrs[0]
		f.txErrs = f.txErrs[1:]
		return err
	}
	return fn(f)
}

type fakeStorage struct {
	calendars []domain.SourceCalendar
	cached    map[int64]domain.CachedSource

	replaced  map[int64][]ics.Event
	upserts   []domain.CachedSource
	markCalls int
	markCount int64
	markErr   error
}

func newFakeStorage(cals ...domain.SourceCalendar) *fakeStorage {
	return &fakeStorage{
		calendars: cals,
		cached:    map[int64]domain.CachedSource{},
		replaced:  map[int64][]ics.Event{},
	}
}

func (f *fakeStorage) GetCalendar(_ context.Context, id int64) (domain.SourceCalendar, error) {
	for _, c := range f.calendars {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.SourceCalendar{}, perr.NotFoundf("calendar %d not found", id)
}

func (f *fakeStorage) ListActive(context.Context) ([]domain.SourceCalendar, error) {
	return f.calendars, nil
}

func (f *fakeStorage) CachedSource(_ context.Context, id int64) (domain.CachedSource, error) {
	cs, ok := f.cached[id]
	if !ok {
		return domain.CachedSource{}, perr.NotFoundf("no cached source for calendar %d", id)
	}
	return cs, nil
}

func (f *fakeStorage) ReplaceEvents(_ context.Context, id int64, events []ics.Event) error {
	f.replaced[id] = events
	return nil
}

func (f *fakeStorage) UpsertCachedSource(_ context.Context, cs domain.CachedSource) error {
	f.upserts = append(f.upserts, cs)
	return nil
}

func (f *fakeStorage) MarkProjectionsStale(context.Context, int64) (int64, error) {
	f.markCalls++
	return f.markCount, f.markErr
}

type fakeBinder struct{ st *fakeStorage }

func (b fakeBinder) Bind(store.RowQuerier) repo.Storage { return b.st }

type fakeFetcher struct {
	body  string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.body, nil
}

func fastRetry() retry.Options {
	return retry.Options{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func calendar(id int64) domain.SourceCalendar {
	return domain.SourceCalendar{ID: id, Name: "test", FeedURL: "https://feeds.example/cal.ics", Active: true}
}

func TestSyncStoresSignificantChange(t *testing.T) {
	st := newFakeStorage(calendar(1))
	st.markCount = 3
	fetcher := &fakeFetcher{body: feedBody}
	fixed := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	svc := New(fakeDB{}, fakeBinder{st}, fetcher, metrics.NewNop(),
		Config{FeedTTL: 15 * time.Minute, Retry: fastRetry()},
		WithClock(func() time.Time { return fixed }))

	rep, err := svc.Sync(context.Background(), 1)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !rep.Updated || rep.EventCount != 1 {
		t.Fatalf("want updated report with 1 event, got %+v", rep)
	}
	if rep.InvalidatedProjections != 3 {
		t.Fatalf("want 3 invalidated projections, got %d", rep.InvalidatedProjections)
	}
	if len(st.replaced[1]) != 1 {
		t.Fatalf("want 1 stored event, got %d", len(st.replaced[1]))
	}
	if len(st.upserts) != 1 {
		t.Fatalf("want 1 cache upsert, got %d", len(st.upserts))
	}
	cs := st.upserts[0]
	if cs.Content != feedBody || cs.ContentHash == "" {
		t.Fatal("cache upsert missing content or hash")
	}
	if !cs.ExpiresAt.Equal(fixed.Add(15 * time.Minute)) {
		t.Fatalf("want expiry updated_at+TTL, got %v", cs.ExpiresAt)
	}
	if st.markCalls != 1 {
		t.Fatalf("want exactly one invalidation pass, got %d", st.markCalls)
	}
}

func TestSyncSkipsUnchangedFeed(t *testing.T) {
	st := newFakeStorage(calendar(1))
	fixed := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	st.cached[1] = domain.CachedSource{CalendarID: 1, Content: feedBody, ExpiresAt: fixed.Add(10 * time.Minute)}
	fetcher := &fakeFetcher{body: feedBody}

	svc := New(fakeDB{}, fakeBinder{st}, fetcher, metrics.NewNop(), Config{Retry: fastRetry()},
		WithClock(func() time.Time { return fixed }))

	rep, err := svc.Sync(context.Background(), 1)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if rep.Updated {
		t.Fatal("unchanged feed must not report an update")
	}
	if len(st.replaced) != 0 || len(st.upserts) != 0 || st.markCalls != 0 {
		t.Fatal("unchanged feed must not touch storage")
	}
}

func TestSyncExpiredSnapshotForcesRestore(t *testing.T) {
	st := newFakeStorage(calendar(1))
	fixed := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)
	st.cached[1] = domain.CachedSource{CalendarID: 1, Content: feedBody, ExpiresAt: fixed.Add(-time.Minute)}
	fetcher := &fakeFetcher{body: feedBody}

	svc := New(fakeDB{}, fakeBinder{st}, fetcher, metrics.NewNop(), Config{Retry: fastRetry()},
		WithClock(func() time.Time { return fixed }))

	rep, err := svc.Sync(context.Background(), 1)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !rep.Updated {
		t.Fatal("expired snapshot must not suppress a re-store, even for identical content")
	}
	if len(st.replaced[1]) != 1 || len(st.upserts) != 1 {
		t.Fatal("expired snapshot must be replaced in full")
	}
	if !st.upserts[0].ExpiresAt.After(fixed) {
		t.Fatal("re-store must push the snapshot expiry forward")
	}
}

func TestSyncRetriesContendedTransaction(t *testing.T) {
	st := newFakeStorage(calendar(1))
	db := &flakyDB{txErrs: []error{
		perr.FromPostgres(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"}, "replace events"),
	}}
	fetcher := &fakeFetcher{body: feedBody}

	svc := New(db, fakeBinder{st}, fetcher, metrics.NewNop(),
		Config{Retry: fastRetry(), TxRetry: retry.Options{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})

	rep, err := svc.Sync(context.Background(), 1)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !rep.Updated || db.txCalls != 2 {
		t.Fatalf("want a replayed transaction and an updated report, got updated=%v txCalls=%d", rep.Updated, db.txCalls)
	}
	if len(st.replaced[1]) != 1 {
		t.Fatalf("want 1 stored event after replay, got %d", len(st.replaced[1]))
	}
}

func TestSyncDoesNotRetryNonContentionTxFailure(t *testing.T) {
	st := newFakeStorage(calendar(1))
	db := &flakyDB{txErrs: []error{
		perr.FromPostgres(&pgconn.PgError{Code: "23505", Message: "duplicate key"}, "replace events"),
		perr.FromPostgres(&pgconn.PgError{Code: "23505", Message: "duplicate key"}, "replace events"),
	}}
	fetcher := &fakeFetcher{body: feedBody}

	svc := New(db, fakeBinder{st}, fetcher, metrics.NewNop(),
		Config{Retry: fastRetry(), TxRetry: retry.Options{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})

	_, err := svc.Sync(context.Background(), 1)
	if err == nil {
		t.Fatal("want the transaction error surfaced")
	}
	if db.txCalls != 1 {
		t.Fatalf("non-contention failures must not replay the transaction, got %d calls", db.txCalls)
	}
}

func TestSyncBreakerSuspendsFetches(t *testing.T) {
	st := newFakeStorage(calendar(1))
	fetcher := &fakeFetcher{err: perr.Unavailablef("connection refused")}
	fixed := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

	svc := New(fakeDB{}, fakeBinder{st}, fetcher, metrics.NewNop(),
		Config{BreakerThreshold: 2, BreakerTimeout: time.Minute, Retry: fastRetry()},
		WithClock(func() time.Time { return fixed }))

	for i := 0; i < 2; i++ {
		if _, err := svc.Sync(context.Background(), 1); err == nil {
			t.Fatal("want fetch failure")
		}
	}
	fetches := fetcher.calls

	_, err := svc.Sync(context.Background(), 1)
	if err == nil || !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("want unavailable while circuit open, got %v", err)
	}
	if fetcher.calls != fetches {
		t.Fatal("open circuit must not reach the fetcher")
	}
}

func TestSyncUnparseableFeedFailsCalendarOnly(t *testing.T) {
	st := newFakeStorage(calendar(1))
	fetcher := &fakeFetcher{body: "this is not a calendar"}

	svc := New(fakeDB{}, fakeBinder{st}, fetcher, metrics.NewNop(), Config{Retry: fastRetry()})

	_, err := svc.Sync(context.Background(), 1)
	if err == nil || !perr.IsCode(err, perr.ErrorCodeValidation) {
		t.Fatalf("want validation error, got %v", err)
	}
	if len(st.replaced) != 0 {
		t.Fatal("unparseable feed must not replace stored events")
	}
	// subsequent syncs still reach the fetcher: parsing is not a breaker signal
	_, _ = svc.Sync(context.Background(), 1)
	if fetcher.calls != 2 {
		t.Fatalf("want 2 fetches, got %d", fetcher.calls)
	}
}

func TestSyncAllCollectsPerCalendarFailures(t *testing.T) {
	bad := calendar(2)
	bad.FeedURL = "https://feeds.example/broken.ics"
	st := newFakeStorage(calendar(1), bad)

	fetcher := &selectiveFetcher{failURL: bad.FeedURL, body: feedBody}
	svc := New(fakeDB{}, fakeBinder{st}, fetcher, metrics.NewNop(), Config{Retry: fastRetry()})

	reports, err := svc.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("want 2 reports, got %d", len(reports))
	}
	if reports[0].Err != nil || !reports[0].Updated {
		t.Fatalf("healthy calendar should sync, got %+v", reports[0])
	}
	if reports[1].Err == nil {
		t.Fatal("failing calendar must carry its error in the report")
	}
}

type selectiveFetcher struct {
	failURL string
	body    string
}

func (f *selectiveFetcher) Fetch(_ context.Context, url string) (string, error) {
	if url == f.failURL {
		return "", perr.Unavailablef("connection refused")
	}
	return f.body, nil
}
