// Package repo provides the Postgres repository for projection caching
package repo

import (
	"context"
	"encoding/json"
	"time"

	"calsieve/internal/core/ics"
	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/projection/domain"

	"github.com/jackc/pgx/v5"
)

type binder struct{}

// NewPG constructs a repo binder for Postgres
func NewPG() store.Binder[Storage] { return binder{} }

// Bind implements store.Binder
func (binder) Bind(q store.RowQuerier) Storage { return &pg{q: q} }

// Storage defines the projection repository surface
type Storage interface {
	// GetRow returns a cached projection; absence is a NotFound error
	GetRow(ctx context.Context, key string) (domain.CacheRow, error)

	// UpsertRow overwrites the projection and clears the regeneration flag
	UpsertRow(ctx context.Context, row domain.CacheRow) error

	// ListPending returns up to limit rows flagged for regeneration
	ListPending(ctx context.Context, limit int) ([]domain.CacheRow, error)

	// DeleteOlderThan drops rows built before cutoff and returns the count
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Events loads the stored event set for a calendar
	Events(ctx context.Context, calendarID int64) ([]ics.Event, error)

	// SourceHash returns the current source snapshot hash, "" when the
	// calendar has never been synced
	SourceHash(ctx context.Context, calendarID int64) (string, error)
}

type pg struct{ q store.RowQuerier }

const rowColumns = `key, calendar_id, filter_config, filter_hash, source_hash,
	content, needs_regeneration, built_at, expires_at`

func scanRow(r store.Row) (domain.CacheRow, error) {
	var row domain.CacheRow
	var cfg []byte
	err := r.Scan(&row.Key, &row.CalendarID, &cfg, &row.FilterHash, &row.SourceHash,
		&row.Content, &row.NeedsRegeneration, &row.BuiltAt, &row.ExpiresAt)
	if err != nil {
		return domain.CacheRow{}, err
	}
	if err := json.Unmarshal(cfg, &row.Config); err != nil {
		return domain.CacheRow{}, perr.JSONErrf("corrupt filter config for key %s: %v", row.Key, err)
	}
	return row, nil
}

func (s *pg) GetRow(ctx context.Context, key string) (domain.CacheRow, error) {
	row, err := scanRow(s.q.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM projection_cache WHERE key = $1`, key))
	if err == pgx.ErrNoRows {
		return domain.CacheRow{}, perr.NotFoundf("no projection cached under %s", key)
	}
	if err != nil {
		if perr.IsCode(err, perr.ErrorCodeJSON) {
			return domain.CacheRow{}, err
		}
		return domain.CacheRow{}, perr.FromPostgresf(err, "get projection %s", key)
	}
	return row, nil
}

func (s *pg) UpsertRow(ctx context.Context, row domain.CacheRow) error {
	cfg, err := json.Marshal(row.Config)
	if err != nil {
		return perr.JSONErrf("marshal filter config for key %s: %v", row.Key, err)
	}
	const sql = `
		INSERT INTO projection_cache (
			key, calendar_id, filter_config, filter_hash, source_hash,
			content, needs_regeneration, built_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			filter_config      = EXCLUDED.filter_config,
			filter_hash        = EXCLUDED.filter_hash,
			source_hash        = EXCLUDED.source_hash,
			content            = EXCLUDED.content,
			needs_regeneration = FALSE,
			built_at           = EXCLUDED.built_at,
			expires_at         = EXCLUDED.expires_at
	`
	_, err = s.q.Exec(ctx, sql, row.Key, row.CalendarID, cfg, row.FilterHash,
		row.SourceHash, row.Content, row.BuiltAt, row.ExpiresAt)
	if err != nil {
		return perr.FromPostgresf(err, "upsert projection %s", row.Key)
	}
	return nil
}

func (s *pg) ListPending(ctx context.Context, limit int) ([]domain.CacheRow, error) {
	const sql = `
		SELECT ` + rowColumns + `
		FROM projection_cache
		WHERE needs_regeneration
		ORDER BY built_at
		LIMIT $1
	`
	rows, err := s.q.Query(ctx, sql, limit)
	if err != nil {
		return nil, perr.FromPostgres(err, "list pending projections")
	}
	defer rows.Close()

	var out []domain.CacheRow
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *pg) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM projection_cache WHERE built_at < $1`, cutoff)
	if err != nil {
		return 0, perr.FromPostgres(err, "projection cleanup")
	}
	return tag.RowsAffected(), nil
}

func (s *pg) Events(ctx context.Context, calendarID int64) ([]ics.Event, error) {
	const sql = `
		SELECT uid, title, normalized_title, starts_at, ends_at, all_day,
		       description, location, rrule, raw_fragment
		FROM events
		WHERE calendar_id = $1
		ORDER BY starts_at, uid
	`
	rows, err := s.q.Query(ctx, sql, calendarID)
	if err != nil {
		return nil, perr.FromPostgresf(err, "load events for calendar %d", calendarID)
	}
	defer rows.Close()

	var out []ics.Event
	for rows.Next() {
		var ev ics.Event
		if err := rows.Scan(&ev.UID, &ev.Title, &ev.NormalizedTitle, &ev.Start, &ev.End,
			&ev.AllDay, &ev.Description, &ev.Location, &ev.RawRRule, &ev.RawFragment); err != nil {
			return nil, perr.FromPostgres(err, "scan event")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *pg) SourceHash(ctx context.Context, calendarID int64) (string, error) {
	var h string
	err := s.q.QueryRow(ctx,
		`SELECT content_hash FROM source_calendar_cache WHERE calendar_id = $1`, calendarID).Scan(&h)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", perr.FromPostgresf(err, "get source hash for calendar %d", calendarID)
	}
	return h, nil
}
