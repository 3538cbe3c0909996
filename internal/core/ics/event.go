// Package ics parses iCalendar feeds into value events, decides recurrence
// window membership, and serializes filtered calendar documents
package ics

import (
	"strings"
	"time"

	"calsieve/internal/core/normalize"
)

// Event is the immutable value form of one VEVENT from a fetched feed.
// RawFragment holds the original BEGIN:VEVENT..END:VEVENT block verbatim so
// provider-specific properties survive re-serialization
type Event struct {
	UID             string
	Title           string
	NormalizedTitle string
	Start           time.Time
	End             time.Time
	AllDay          bool
	Description     string
	Location        string
	RawRRule        string
	RawFragment     string
}

// Categories derives the event's categories from the raw fragment on demand.
// Lines beginning CATEGORY:/CATEGORIES: (case-insensitive, parameters after
// ';' tolerated) are comma-split and trimmed. Only called when a category
// rule needs them, so there is no point caching across events
func (e Event) Categories() []string {
	if e.RawFragment == "" {
		return nil
	}
	var out []string
	for _, line := range unfoldLines(e.RawFragment) {
		name, value, ok := splitProperty(line)
		if !ok {
			continue
		}
		up := strings.ToUpper(name)
		if up != "CATEGORIES" && up != "CATEGORY" {
			continue
		}
		for _, c := range strings.Split(value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out = append(out, unescapeText(c))
			}
		}
	}
	return out
}

// HasCategory reports whether any category contains needle, case-insensitively
func (e Event) HasCategory(needle string) bool {
	needle = strings.ToLower(needle)
	for _, c := range e.Categories() {
		if strings.Contains(strings.ToLower(c), needle) {
			return true
		}
	}
	return false
}

// NormalizeTitle fills NormalizedTitle from Title; parse calls this once
func (e *Event) NormalizeTitle() {
	e.NormalizedTitle = normalize.Title(e.Title)
}

// unfoldLines splits raw iCalendar text into logical lines, joining folded
// continuations (lines starting with space or tab) per RFC 5545 section 3.1
func unfoldLines(raw string) []string {
	physical := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var logical []string
	for _, ln := range physical {
		if ln == "" {
			continue
		}
		if (ln[0] == ' ' || ln[0] == '\t') && len(logical) > 0 {
			logical[len(logical)-1] += ln[1:]
			continue
		}
		logical = append(logical, ln)
	}
	return logical
}

// splitProperty splits "NAME;PARAM=V:value" into (NAME, value)
func splitProperty(line string) (name, value string, ok bool) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return "", "", false
	}
	name = line[:colon]
	value = line[colon+1:]
	if semi := strings.Index(name, ";"); semi >= 0 {
		name = name[:semi]
	}
	return strings.TrimSpace(name), value, true
}

// unescapeText reverses RFC 5545 TEXT escaping
func unescapeText(s string) string {
	r := strings.NewReplacer(`\\`, `\`, `\,`, ",", `\;`, ";", `\n`, "\n", `\N`, "\n")
	return r.Replace(s)
}

// escapeText applies RFC 5545 TEXT escaping
func escapeText(s string) string {
	r := strings.NewReplacer(`\`, `\\`, ",", `\,`, ";", `\;`, "\n", `\n`, "\r", "")
	return r.Replace(s)
}
