package changedetect

import (
	"math"
	"strings"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	b := Hash("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	if a != b {
		t.Fatalf("same content hashed differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("want 64 hex chars, got %d", len(a))
	}
	if a == Hash("BEGIN:VCALENDAR\r\nEND:VCALENDAR") {
		t.Fatal("different content produced the same hash")
	}
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "AAAA", "AAAA", 1.0},
		{"both empty", "", "", 1.0},
		{"old empty", "", "AAAA", 0.0},
		{"new empty", "AAAA", "", 0.0},
		{"one byte changed", "AAAA", "AAAB", 0.75},
		{"appended half", "AA", "AAAA", 0.5},
		{"truncated half", "AAAA", "AA", 0.5},
		{"disjoint", "AAAA", "BBBB", 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Similarity(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("Similarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestSimilaritySmallEditOnLargeFeed(t *testing.T) {
	old := strings.Repeat("X", 10000)
	new := old[:9999] + "Y"
	if got := Similarity(old, new); got < 0.99 {
		t.Fatalf("one byte in 10k should score near 1.0, got %v", got)
	}
}

func TestIsSignificant(t *testing.T) {
	cases := []struct {
		name      string
		old, new  string
		threshold float64
		want      bool
	}{
		{"no previous snapshot", "", "AAAA", DefaultFeedThreshold, true},
		{"identical snapshots", "AAAA", "AAAA", DefaultFeedThreshold, false},
		{"one byte at 0.95", "AAAA", "AAAB", DefaultFeedThreshold, true},
		{"one byte at 0.5", "AAAA", "AAAB", 0.5, false},
		{"doubled length", "AA", "AAAA", DefaultFeedThreshold, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsSignificant(tc.old, tc.new, tc.threshold)
			if got != tc.want {
				t.Fatalf("IsSignificant(%q, %q, %v) = %v, want %v",
					tc.old, tc.new, tc.threshold, got, tc.want)
			}
		})
	}
}
