package rules

import (
	"calsieve/internal/core/grouping"
	"calsieve/internal/core/ics"
)

// Engine evaluates a priority-ordered rule list against event buckets.
// Construct once per grouping pass from compiled rules; the engine itself
// holds no mutable state and is safe for concurrent use
type Engine struct {
	rules []Rule
}

// NewEngine wraps compiled rules. The slice order is the priority order
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Match tries rules in order against a bucket's representative event and
// returns the target group of the first satisfied rule. Remaining rules are
// not evaluated once one matches
func (e *Engine) Match(rep ics.Event) (int64, bool) {
	for _, r := range e.rules {
		if r.Matches(rep) {
			return r.TargetGroup(), true
		}
	}
	return 0, false
}

// Apply runs Match once per bucket, using the first event of each bucket as
// its representative, and accumulates assigned titles per group. Buckets
// matching no rule are omitted and left to the fallback pass
func (e *Engine) Apply(buckets *grouping.BucketSet) map[int64][]string {
	out := make(map[int64][]string)
	buckets.Each(func(b *grouping.Bucket) {
		if groupID, ok := e.Match(b.Representative()); ok {
			out[groupID] = append(out[groupID], b.NormalizedTitle)
		}
	})
	return out
}
