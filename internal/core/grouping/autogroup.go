package grouping

import "math"

// Reserved identifiers for the two synthetic catch-all groups. They take the
// highest values in the id space so they always sort last in any UI ordering
const (
	RecurringFallbackID int64 = math.MaxInt64 - 1
	UniqueFallbackID    int64 = math.MaxInt64
)

// Display names for the synthetic groups
const (
	RecurringFallbackName = "Other recurring events"
	UniqueFallbackName    = "Special events"
)

// FallbackGroup is a synthetic catch-all group produced by Fallback
type FallbackGroup struct {
	ID      int64
	Name    string
	Buckets []*Bucket
}

// Fallback splits buckets not claimed by any explicit or rule-driven
// assignment: buckets with more than one instance go to the recurring
// catch-all, the rest to the unique catch-all. A synthetic group that would
// be empty is omitted entirely. Together with the upstream assignment pass
// this guarantees every bucket belongs to at least one group
func Fallback(unassigned []*Bucket) []FallbackGroup {
	var recurring, unique []*Bucket
	for _, b := range unassigned {
		if b.Count() > 1 {
			recurring = append(recurring, b)
		} else {
			unique = append(unique, b)
		}
	}

	out := make([]FallbackGroup, 0, 2)
	if len(recurring) > 0 {
		out = append(out, FallbackGroup{
			ID:      RecurringFallbackID,
			Name:    RecurringFallbackName,
			Buckets: recurring,
		})
	}
	if len(unique) > 0 {
		out = append(out, FallbackGroup{
			ID:      UniqueFallbackID,
			Name:    UniqueFallbackName,
			Buckets: unique,
		})
	}
	return out
}
