// Package domain defines core types and interfaces for event grouping
package domain

import "time"

// Group is an admin-defined bucket target for recurring events
type Group struct {
	ID         int64
	CalendarID int64
	Name       string
	Position   int
}

// Assignment pins a normalized title to a group explicitly, overriding rules.
// One title may be assigned to several groups (fan-out)
type Assignment struct {
	CalendarID      int64
	NormalizedTitle string
	GroupID         int64
}

// GroupedEvent is the per-occurrence view inside a grouped response
type GroupedEvent struct {
	UID      string    `json:"uid"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	AllDay   bool      `json:"all_day"`
	Location string    `json:"location,omitempty"`
}

// RecurringEvent is one title bucket inside a group
type RecurringEvent struct {
	Title      string         `json:"title"`
	EventCount int            `json:"event_count"`
	Events     []GroupedEvent `json:"events"`
}

// GroupView is one group with its claimed buckets
type GroupView struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	RecurringEvents []RecurringEvent `json:"recurring_events"`
}

// GroupedResponse is the full grouped-events payload for a calendar
type GroupedResponse struct {
	Groups []GroupView `json:"groups"`
}
