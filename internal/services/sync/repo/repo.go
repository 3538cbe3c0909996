// Package repo provides the Postgres repository for feed synchronization
package repo

import (
	"context"

	"calsieve/internal/core/ics"
	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/sync/domain"

	"github.com/jackc/pgx/v5"
)

type binder struct{}

// NewPG constructs a repo binder for Postgres
func NewPG() store.Binder[Storage] { return binder{} }

// Bind implements store.Binder
func (binder) Bind(q store.RowQuerier) Storage { return &pg{q: q} }

// Storage defines the sync repository surface
type Storage interface {
	GetCalendar(ctx context.Context, id int64) (domain.SourceCalendar, error)
	ListActive(ctx context.Context) ([]domain.SourceCalendar, error)

	// CachedSource returns the stored snapshot; absence is a NotFound error
	CachedSource(ctx context.Context, calendarID int64) (domain.CachedSource, error)

	// ReplaceEvents swaps the stored event set for a calendar wholesale
	ReplaceEvents(ctx context.Context, calendarID int64, events []ics.Event) error

	UpsertCachedSource(ctx context.Context, cs domain.CachedSource) error

	// MarkProjectionsStale flags dependent projections and returns the count
	// of rows newly flagged (already-flagged rows do not count)
	MarkProjectionsStale(ctx context.Context, calendarID int64) (int64, error)
}

type pg struct{ q store.RowQuerier }

func (s *pg) GetCalendar(ctx context.Context, id int64) (domain.SourceCalendar, error) {
	const sql = `
		SELECT id, name, feed_url, active, created_at
		FROM source_calendars
		WHERE id = $1
	`
	var c domain.SourceCalendar
	err := s.q.QueryRow(ctx, sql, id).Scan(&c.ID, &c.Name, &c.FeedURL, &c.Active, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.SourceCalendar{}, perr.NotFoundf("calendar %d not found", id)
	}
	if err != nil {
		return domain.SourceCalendar{}, perr.FromPostgresf(err, "get calendar %d", id)
	}
	return c, nil
}

func (s *pg) ListActive(ctx context.Context) ([]domain.SourceCalendar, error) {
	const sql = `
		SELECT id, name, feed_url, active, created_at
		FROM source_calendars
		WHERE active
		ORDER BY id
	`
	rows, err := s.q.Query(ctx, sql)
	if err != nil {
		return nil, perr.FromPostgres(err, "list active calendars")
	}
	defer rows.Close()

	var out []domain.SourceCalendar
	for rows.Next() {
		var c domain.SourceCalendar
		if err := rows.Scan(&c.ID, &c.Name, &c.FeedURL, &c.Active, &c.CreatedAt); err != nil {
			return nil, perr.FromPostgres(err, "scan calendar")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pg) CachedSource(ctx context.Context, calendarID int64) (domain.CachedSource, error) {
	const sql = `
		SELECT calendar_id, content, content_hash, updated_at, expires_at
		FROM source_calendar_cache
		WHERE calendar_id = $1
	`
	var cs domain.CachedSource
	err := s.q.QueryRow(ctx, sql, calendarID).
		Scan(&cs.CalendarID, &cs.Content, &cs.ContentHash, &cs.UpdatedAt, &cs.ExpiresAt)
	if err == pgx.ErrNoRows {
		return domain.CachedSource{}, perr.NotFoundf("no cached source for calendar %d", calendarID)
	}
	if err != nil {
		return domain.CachedSource{}, perr.FromPostgresf(err, "get cached source %d", calendarID)
	}
	return cs, nil
}

func (s *pg) ReplaceEvents(ctx context.Context, calendarID int64, events []ics.Event) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM events WHERE calendar_id = $1`, calendarID); err != nil {
		return perr.FromPostgresf(err, "clear events for calendar %d", calendarID)
	}

	const ins = `
		INSERT INTO events (
			calendar_id, uid, title, normalized_title,
			starts_at, ends_at, all_day,
			description, location, rrule, raw_fragment
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for i := range events {
		ev := &events[i]
		_, err := s.q.Exec(ctx, ins,
			calendarID, ev.UID, ev.Title, ev.NormalizedTitle,
			ev.Start, ev.End, ev.AllDay,
			ev.Description, ev.Location, ev.RawRRule, ev.RawFragment,
		)
		if err != nil {
			return perr.FromPostgresf(err, "insert event %q for calendar %d", ev.UID, calendarID)
		}
	}
	return nil
}

func (s *pg) UpsertCachedSource(ctx context.Context, cs domain.CachedSource) error {
	const sql = `
		INSERT INTO source_calendar_cache (calendar_id, content, content_hash, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (calendar_id) DO UPDATE SET
			content      = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			updated_at   = EXCLUDED.updated_at,
			expires_at   = EXCLUDED.expires_at
	`
	_, err := s.q.Exec(ctx, sql, cs.CalendarID, cs.Content, cs.ContentHash, cs.UpdatedAt, cs.ExpiresAt)
	if err != nil {
		return perr.FromPostgresf(err, "upsert cached source %d", cs.CalendarID)
	}
	return nil
}

func (s *pg) MarkProjectionsStale(ctx context.Context, calendarID int64) (int64, error) {
	// Guarded update keeps the call idempotent: rows already awaiting
	// regeneration are not re-flagged and not counted
	const sql = `
		UPDATE projection_cache
		SET needs_regeneration = TRUE
		WHERE calendar_id = $1 AND NOT needs_regeneration
	`
	tag, err := s.q.Exec(ctx, sql, calendarID)
	if err != nil {
		return 0, perr.FromPostgresf(err, "mark projections stale for calendar %d", calendarID)
	}
	return tag.RowsAffected(), nil
}
