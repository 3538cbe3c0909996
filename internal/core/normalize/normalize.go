// Package normalize provides the deterministic title normalizer used for
// recurring-event bucketing
// Pipeline order
// 1 UTF-8 repair drop invalid bytes
// 2 Unicode NFC canonical normalization
// 3 Collapse all Unicode whitespace runs (NBSP, figure space, ideographic space, tabs, newlines) to one ASCII space
// 4 Trim
// 5 Empty result becomes the literal "Untitled"
//
// Calendar providers emit byte-distinct but visually identical titles for the
// same recurring series; without this, grouping fragments
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Untitled is the bucket key for events without a usable title
const Untitled = "Untitled"

// Title returns the normalized grouping key for a raw event title.
// Total and pure: the same input always yields the same output, and the
// function is idempotent (Title(Title(x)) == Title(x))
func Title(raw string) string {
	if raw == "" {
		return Untitled
	}

	// 1 repair UTF-8, drop invalid bytes
	s := strings.ToValidUTF8(raw, "")

	// 2 canonical composition; NFC (not NFKC) so visually distinct
	// compatibility characters keep distinct keys
	s = norm.NFC.String(s)

	// 3-4 collapse whitespace and trim
	s = collapseSpaces(s)

	if s == "" {
		return Untitled
	}
	return s
}

// collapseSpaces converts every run of Unicode whitespace (the White_Space
// property, which covers NBSP and the Zs space separators) to a single ASCII
// space and trims the edges
func collapseSpaces(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inWS := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inWS = true
			continue
		}
		if inWS && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inWS = false
		b.WriteRune(r)
	}
	return b.String()
}
