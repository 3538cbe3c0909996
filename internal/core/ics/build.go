package ics

import (
	"sort"
	"strings"
)

const (
	prodID   = "-//calsieve//filtered calendar//EN"
	icsStamp = "20060102T150405Z"
	icsDate  = "20060102"
)

// Build serializes events into a filtered calendar document.
//
// Events that carry their original raw fragment are emitted verbatim so
// provider-specific properties survive; events without one get a minimal
// synthesized VEVENT. Events are emitted sorted by start time, then UID,
// so identical inputs produce byte-identical output
func Build(name string, events []Event) string {
	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Start.Equal(ordered[j].Start) {
			return ordered[i].Start.Before(ordered[j].Start)
		}
		return ordered[i].UID < ordered[j].UID
	})

	var b strings.Builder
	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:"+prodID)
	writeLine(&b, "CALSCALE:GREGORIAN")
	if name != "" {
		writeLine(&b, "X-WR-CALNAME:"+escapeText(name))
	}

	for _, ev := range ordered {
		if ev.RawFragment != "" {
			for _, ln := range strings.Split(strings.ReplaceAll(ev.RawFragment, "\r\n", "\n"), "\n") {
				if ln != "" {
					writeLine(&b, ln)
				}
			}
			continue
		}
		writeSynthesized(&b, ev)
	}

	writeLine(&b, "END:VCALENDAR")
	return b.String()
}

// writeSynthesized emits a minimal VEVENT when no raw fragment survived
func writeSynthesized(b *strings.Builder, ev Event) {
	writeLine(b, "BEGIN:VEVENT")
	writeLine(b, "UID:"+ev.UID)
	if ev.AllDay {
		writeLine(b, "DTSTART;VALUE=DATE:"+ev.Start.Format(icsDate))
		writeLine(b, "DTEND;VALUE=DATE:"+ev.End.Format(icsDate))
	} else {
		writeLine(b, "DTSTART:"+ev.Start.UTC().Format(icsStamp))
		writeLine(b, "DTEND:"+ev.End.UTC().Format(icsStamp))
	}
	writeLine(b, "SUMMARY:"+escapeText(ev.Title))
	if ev.Description != "" {
		writeLine(b, "DESCRIPTION:"+escapeText(ev.Description))
	}
	if ev.Location != "" {
		writeLine(b, "LOCATION:"+escapeText(ev.Location))
	}
	if ev.RawRRule != "" {
		writeLine(b, "RRULE:"+ev.RawRRule)
	}
	// DTSTAMP derives from the event itself so rebuilds stay byte-identical
	writeLine(b, "DTSTAMP:"+ev.Start.UTC().Format(icsStamp))
	writeLine(b, "END:VEVENT")
}

func writeLine(b *strings.Builder, s string) {
	b.WriteString(s)
	b.WriteString("\r\n")
}
