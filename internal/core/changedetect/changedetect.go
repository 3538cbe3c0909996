// Package changedetect decides whether a refetched feed differs enough from
// the cached snapshot to warrant a full re-parse and invalidation cycle
package changedetect

import (
	"crypto/sha256"
	"encoding/hex"
)

// Default thresholds; feeds tolerate a little more provider churn than
// projection configs do
const (
	DefaultFeedThreshold       = 0.95
	DefaultProjectionThreshold = 0.98
)

// Hash returns the hex sha256 digest of content. Pure and deterministic
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Similarity scores how alike two snapshots are on [0.0, 1.0]: 1.0 for
// identical strings, 0.0 if either is empty, otherwise the count of
// positions holding the same byte divided by the longer length. For
// append-only or truncating provider churn this degrades to the length
// ratio min/max. Deliberately a single O(n) pass, no diffing, so every
// poll stays cheap
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	short := len(a)
	if len(b) < short {
		short = len(b)
	}
	long := len(a) + len(b) - short

	same := 0
	for i := 0; i < short; i++ {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(long)
}

// IsSignificant reports whether new content should trigger the downstream
// re-parse/re-store/invalidate cycle. Absent old content is always
// significant; identical content never is; otherwise the similarity must
// fall below threshold
func IsSignificant(old, new string, threshold float64) bool {
	if old == "" {
		return true
	}
	if old == new {
		return false
	}
	return Similarity(old, new) < threshold
}
