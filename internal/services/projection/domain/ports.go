package domain

import (
	"context"
	"time"
)

// CachePort is the read-through projection cache
type CachePort interface {
	// GetOrBuild returns the serialized iCalendar for the config, rebuilding
	// on miss. A persistence failure after a successful rebuild still returns
	// the fresh content alongside a cache-write error
	GetOrBuild(ctx context.Context, cfg FilterConfig) (string, error)

	// RegeneratePending rebuilds rows flagged by sync invalidation and
	// returns how many were rebuilt
	RegeneratePending(ctx context.Context) (int, error)

	// Cleanup deletes rows untouched for longer than retention
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// Assigner resolves which normalized titles currently belong to the given
// groups of a calendar. Implemented by the groups service
type Assigner interface {
	TitlesFor(ctx context.Context, calendarID int64, groupIDs []int64) (map[string]struct{}, error)
}
