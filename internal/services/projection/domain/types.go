// Package domain defines core types and interfaces for projection caching
package domain

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"calsieve/internal/core/changedetect"

	"github.com/google/uuid"
)

// FilterConfig describes one filtered projection of a source calendar
type FilterConfig struct {
	CalendarID int64     `json:"calendar_id"`
	Name       string    `json:"name,omitempty"`
	WindowFrom time.Time `json:"window_from"`
	WindowTo   time.Time `json:"window_to"`

	// Includes are ORed together; an empty config includes every event in
	// the window
	GroupIDs   []int64  `json:"group_ids,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// canonical renders the config into a stable string so hash and key do not
// depend on include ordering
func (c FilterConfig) canonical() string {
	ids := append([]int64(nil), c.GroupIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	kws := append([]string(nil), c.Keywords...)
	sort.Strings(kws)
	cats := append([]string(nil), c.Categories...)
	sort.Strings(cats)

	var sb strings.Builder
	sb.WriteString("cal=")
	sb.WriteString(strconv.FormatInt(c.CalendarID, 10))
	sb.WriteString(";from=")
	sb.WriteString(c.WindowFrom.UTC().Format(time.RFC3339))
	sb.WriteString(";to=")
	sb.WriteString(c.WindowTo.UTC().Format(time.RFC3339))
	sb.WriteString(";groups=")
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(id, 10))
	}
	sb.WriteString(";keywords=")
	sb.WriteString(strings.Join(kws, ","))
	sb.WriteString(";categories=")
	sb.WriteString(strings.Join(cats, ","))
	return sb.String()
}

// Hash returns the stable content hash of the filter configuration
func (c FilterConfig) Hash() string {
	return changedetect.Hash(c.canonical())
}

// Key returns the deterministic cache key: a v5 UUID over the canonical form
func (c FilterConfig) Key() string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("calsieve:projection:"+c.canonical())).String()
}

// Empty reports whether the config carries no includes at all
func (c FilterConfig) Empty() bool {
	return len(c.GroupIDs) == 0 && len(c.Keywords) == 0 && len(c.Categories) == 0
}

// CacheRow is one persisted projection
type CacheRow struct {
	Key               string
	CalendarID        int64
	Config            FilterConfig
	FilterHash        string
	SourceHash        string
	Content           string
	NeedsRegeneration bool
	BuiltAt           time.Time
	ExpiresAt         time.Time
}
