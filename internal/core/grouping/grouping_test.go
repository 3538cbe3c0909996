package grouping

import (
	"testing"
	"time"

	"calsieve/internal/core/ics"
)

func mkEvent(title string, day int) ics.Event {
	ev := ics.Event{
		Title: title,
		Start: time.Date(2026, 3, day, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, day, 10, 0, 0, 0, time.UTC),
	}
	ev.NormalizeTitle()
	return ev
}

func TestGroupEventsPartitionCompleteness(t *testing.T) {
	events := []ics.Event{
		mkEvent("Math Class", 2),
		mkEvent("Math Class", 9), // NBSP variant of the same series
		mkEvent("Yoga", 3),
		mkEvent("", 4),
		mkEvent("Math Class", 16),
	}

	s := GroupEvents(events)
	if s.Len() != 3 {
		t.Fatalf("want 3 buckets, got %d (%v)", s.Len(), s.Titles())
	}

	total := 0
	s.Each(func(b *Bucket) { total += b.Count() })
	if total != len(events) {
		t.Fatalf("partition lost or duplicated events: %d != %d", total, len(events))
	}

	math, ok := s.Get("Math Class")
	if !ok || math.Count() != 3 {
		t.Fatalf("byte-distinct titles of one series must share a bucket, got %+v", math)
	}
	if _, ok := s.Get("Untitled"); !ok {
		t.Fatalf("missing title must land in the Untitled bucket")
	}
}

func TestGroupEventsPreservesOrder(t *testing.T) {
	events := []ics.Event{
		mkEvent("B", 2), mkEvent("A", 3), mkEvent("B", 4), mkEvent("C", 5),
	}
	s := GroupEvents(events)

	titles := s.Titles()
	want := []string{"B", "A", "C"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("bucket order = %v, want %v", titles, want)
		}
	}

	b, _ := s.Get("B")
	if !b.Events[0].Start.Before(b.Events[1].Start) {
		t.Fatalf("in-bucket order must follow input order")
	}
	if b.Representative().Start.Day() != 2 {
		t.Fatalf("representative must be the first inserted event")
	}
}

func TestFallbackSplitsByCount(t *testing.T) {
	recurring := &Bucket{NormalizedTitle: "Weekly", Events: []ics.Event{mkEvent("Weekly", 2), mkEvent("Weekly", 9)}}
	oneOff := &Bucket{NormalizedTitle: "Concert", Events: []ics.Event{mkEvent("Concert", 5)}}

	groups := Fallback([]*Bucket{recurring, oneOff})
	if len(groups) != 2 {
		t.Fatalf("want both synthetic groups, got %d", len(groups))
	}
	if groups[0].ID != RecurringFallbackID || len(groups[0].Buckets) != 1 || groups[0].Buckets[0] != recurring {
		t.Fatalf("recurring split wrong: %+v", groups[0])
	}
	if groups[1].ID != UniqueFallbackID || groups[1].Buckets[0] != oneOff {
		t.Fatalf("unique split wrong: %+v", groups[1])
	}

	// No bucket may appear in both synthetic groups
	seen := map[string]int{}
	for _, g := range groups {
		for _, b := range g.Buckets {
			seen[b.NormalizedTitle]++
		}
	}
	for title, n := range seen {
		if n != 1 {
			t.Fatalf("bucket %q duplicated across fallbacks", title)
		}
	}
}

func TestFallbackOmitsEmptyGroups(t *testing.T) {
	oneOff := &Bucket{NormalizedTitle: "Concert", Events: []ics.Event{mkEvent("Concert", 5)}}
	groups := Fallback([]*Bucket{oneOff})
	if len(groups) != 1 || groups[0].ID != UniqueFallbackID {
		t.Fatalf("empty recurring fallback must be omitted: %+v", groups)
	}

	if got := Fallback(nil); len(got) != 0 {
		t.Fatalf("no unassigned buckets should produce no synthetic groups")
	}
}

func TestFallbackIDsSortLast(t *testing.T) {
	if RecurringFallbackID >= UniqueFallbackID {
		t.Fatalf("reserved ids must be distinct and ordered")
	}
	if RecurringFallbackID <= 1<<40 {
		t.Fatalf("reserved ids must dominate realistic group ids")
	}
}
