// Package repo provides the Postgres repository for event grouping
package repo

import (
	"context"
	"encoding/json"

	"calsieve/internal/core/ics"
	"calsieve/internal/core/rules"
	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/store"
	"calsieve/internal/services/groups/domain"
)

type binder struct{}

// NewPG constructs a repo binder for Postgres
func NewPG() store.Binder[Storage] { return binder{} }

// Bind implements store.Binder
func (binder) Bind(q store.RowQuerier) Storage { return &pg{q: q} }

// Storage defines the grouping repository surface
type Storage interface {
	// ListGroups returns the calendar's groups in display order
	ListGroups(ctx context.Context, calendarID int64) ([]domain.Group, error)

	// ListRules returns rule definitions in priority order
	ListRules(ctx context.Context, calendarID int64) ([]rules.Definition, error)

	// ListAssignments returns the explicit title pins
	ListAssignments(ctx context.Context, calendarID int64) ([]domain.Assignment, error)

	// Events loads the stored event set for a calendar
	Events(ctx context.Context, calendarID int64) ([]ics.Event, error)
}

type pg struct{ q store.RowQuerier }

func (s *pg) ListGroups(ctx context.Context, calendarID int64) ([]domain.Group, error) {
	const sql = `
		SELECT id, calendar_id, name, position
		FROM groups
		WHERE calendar_id = $1
		ORDER BY position, id
	`
	rows, err := s.q.Query(ctx, sql, calendarID)
	if err != nil {
		return nil, perr.FromPostgresf(err, "list groups for calendar %d", calendarID)
	}
	defer rows.Close()

	var out []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.CalendarID, &g.Name, &g.Position); err != nil {
			return nil, perr.FromPostgres(err, "scan group")
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *pg) ListRules(ctx context.Context, calendarID int64) ([]rules.Definition, error) {
	const sql = `
		SELECT COALESCE(rule_type, ''), COALESCE(rule_value, ''),
		       COALESCE(operator, ''), COALESCE(conditions, '[]'), target_group_id
		FROM assignment_rules
		WHERE calendar_id = $1
		ORDER BY priority, id
	`
	rows, err := s.q.Query(ctx, sql, calendarID)
	if err != nil {
		return nil, perr.FromPostgresf(err, "list rules for calendar %d", calendarID)
	}
	defer rows.Close()

	var out []rules.Definition
	for rows.Next() {
		var d rules.Definition
		var conds []byte
		if err := rows.Scan(&d.RuleType, &d.RuleValue, &d.Operator, &conds, &d.TargetGroupID); err != nil {
			return nil, perr.FromPostgres(err, "scan rule")
		}
		if err := json.Unmarshal(conds, &d.Conditions); err != nil {
			return nil, perr.JSONErrf("corrupt rule conditions for calendar %d: %v", calendarID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *pg) ListAssignments(ctx context.Context, calendarID int64) ([]domain.Assignment, error) {
	const sql = `
		SELECT calendar_id, normalized_title, group_id
		FROM group_assignments
		WHERE calendar_id = $1
		ORDER BY normalized_title, group_id
	`
	rows, err := s.q.Query(ctx, sql, calendarID)
	if err != nil {
		return nil, perr.FromPostgresf(err, "list assignments for calendar %d", calendarID)
	}
	defer rows.Close()

	var out []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.CalendarID, &a.NormalizedTitle, &a.GroupID); err != nil {
			return nil, perr.FromPostgres(err, "scan assignment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
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
