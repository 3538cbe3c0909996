package domain

import "context"

// ReaderPort assembles grouped-events responses
type ReaderPort interface {
	// Grouped partitions the calendar's current events into admin groups via
	// explicit assignments, then rules, then the automatic fallback groups.
	// Every title bucket lands in at least one group
	Grouped(ctx context.Context, calendarID int64) (GroupedResponse, error)

	// TitlesFor resolves the normalized titles currently claimed by the given
	// groups (the projection cache uses this for group-based includes)
	TitlesFor(ctx context.Context, calendarID int64, groupIDs []int64) (map[string]struct{}, error)
}
