// Package grouping buckets events by normalized title and guarantees total
// group coverage through two reserved fallback groups
package grouping

import (
	"calsieve/internal/core/ics"
	"calsieve/internal/core/normalize"
)

// Bucket is the set of all event instances sharing one normalized title
// within a source calendar's current snapshot. Rebuilt on every sync, never
// persisted
type Bucket struct {
	NormalizedTitle string
	Events          []ics.Event
}

// Count returns the number of instances in the bucket
func (b *Bucket) Count() int { return len(b.Events) }

// Representative returns the event used for rule matching: the first event
// in insertion order. If fetch ordering changes between runs and the first
// instance differs materially from the rest (say a one-off location change),
// rule matching can flip; see the grouping notes in DESIGN.md
func (b *Bucket) Representative() ics.Event { return b.Events[0] }

// BucketSet is an insertion-ordered collection of buckets keyed by
// normalized title
type BucketSet struct {
	order   []string
	byTitle map[string]*Bucket
}

// GroupEvents partitions events into buckets keyed by normalized title.
// Deterministic: bucket order follows first appearance, event order within a
// bucket follows input order. No event is dropped; events with a missing or
// unparseable title land in the "Untitled" bucket
func GroupEvents(events []ics.Event) *BucketSet {
	s := &BucketSet{byTitle: make(map[string]*Bucket, len(events))}
	for _, ev := range events {
		key := ev.NormalizedTitle
		if key == "" {
			key = normalize.Title(ev.Title)
		}
		b, ok := s.byTitle[key]
		if !ok {
			b = &Bucket{NormalizedTitle: key}
			s.byTitle[key] = b
			s.order = append(s.order, key)
		}
		b.Events = append(b.Events, ev)
	}
	return s
}

// Get returns the bucket for a normalized title, if present
func (s *BucketSet) Get(title string) (*Bucket, bool) {
	b, ok := s.byTitle[title]
	return b, ok
}

// Len returns the number of distinct buckets
func (s *BucketSet) Len() int { return len(s.order) }

// Titles returns bucket keys in insertion order
func (s *BucketSet) Titles() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Each walks buckets in insertion order
func (s *BucketSet) Each(fn func(b *Bucket)) {
	for _, key := range s.order {
		fn(s.byTitle[key])
	}
}
