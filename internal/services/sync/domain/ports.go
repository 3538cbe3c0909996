package domain

import "context"

// Fetcher retrieves the raw feed body for a source calendar
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

// CoordinatorPort drives feed refresh for one calendar or every active one
type CoordinatorPort interface {
	// Sync fetches, change-detects, stores and invalidates one calendar
	Sync(ctx context.Context, calendarID int64) (Report, error)

	// SyncAll runs Sync over every active calendar; per-calendar failures
	// land in the report slice, never abort the sweep
	SyncAll(ctx context.Context) ([]Report, error)
}
