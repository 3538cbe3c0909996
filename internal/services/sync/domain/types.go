// Package domain defines core types and interfaces for feed synchronization
package domain

import "time"

// SourceCalendar is an admin-registered external feed
type SourceCalendar struct {
	ID        int64
	Name      string
	FeedURL   string
	Active    bool
	CreatedAt time.Time
}

// CachedSource is the last stored snapshot of a feed body
type CachedSource struct {
	CalendarID  int64
	Content     string
	ContentHash string
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Report summarizes one sync run for a single calendar
type Report struct {
	CalendarID             int64
	Updated                bool
	EventCount             int
	InvalidatedProjections int64

	// Err carries a per-calendar failure when the run is part of a sweep;
	// a failed calendar never aborts the others
	Err error
}
