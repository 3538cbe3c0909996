package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	perr "calsieve/internal/platform/errors"
	"calsieve/internal/platform/logger"
)

// Parse converts a fetched iCalendar document into value events.
//
// Each VEVENT block is captured verbatim as the event's RawFragment and
// parsed in isolation, so one malformed event is skipped without failing the
// document. A document with no VCALENDAR envelope at all fails the parse
func Parse(body string) ([]Event, error) {
	if strings.TrimSpace(body) == "" {
		return nil, perr.InvalidArgf("empty calendar document")
	}
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		return nil, perr.InvalidArgf("not an iCalendar document")
	}

	fragments := splitFragments(body)
	events := make([]Event, 0, len(fragments))
	skipped := 0

	for _, frag := range fragments {
		ev, err := parseFragment(frag)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}

	if skipped > 0 {
		logger.Named("ics").Warn().
			Int("skipped", skipped).
			Int("parsed", len(events)).
			Msg("skipped malformed events")
	}
	return events, nil
}

// splitFragments extracts every BEGIN:VEVENT..END:VEVENT block verbatim,
// preserving the provider's original bytes (including folded lines)
func splitFragments(body string) []string {
	norm := strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	rest := norm
	for {
		i := strings.Index(rest, "BEGIN:VEVENT")
		if i < 0 {
			break
		}
		j := strings.Index(rest[i:], "END:VEVENT")
		if j < 0 {
			break
		}
		end := i + j + len("END:VEVENT")
		out = append(out, strings.TrimRight(rest[i:end], "\n"))
		rest = rest[end:]
	}
	return out
}

// parseFragment parses one VEVENT block by wrapping it in a minimal calendar
// envelope. The structured fields come from the ical library (which handles
// DTSTART/DTEND timezone logic); the fragment itself is kept as-is
func parseFragment(frag string) (Event, error) {
	wrapped := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
		strings.ReplaceAll(frag, "\n", "\r\n") +
		"\r\nEND:VCALENDAR\r\n"

	cal, err := ical.ParseCalendar(strings.NewReader(wrapped))
	if err != nil {
		return Event{}, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "parse vevent")
	}
	comps := cal.Events()
	if len(comps) != 1 {
		return Event{}, perr.InvalidArgf("expected one vevent, got %d", len(comps))
	}
	ve := comps[0]

	var out Event
	out.RawFragment = frag

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	start, startErr := ve.GetStartAt()
	if startErr != nil {
		return Event{}, perr.Wrap(startErr, perr.ErrorCodeInvalidArgument, "vevent dtstart")
	}
	out.Start = start
	if end, endErr := ve.GetEndAt(); endErr == nil {
		out.End = end
	} else {
		out.End = start
	}

	out.AllDay = detectAllDay(ve)
	if out.AllDay && out.End.Equal(out.Start) {
		out.End = out.Start.Add(24 * time.Hour)
	}

	out.NormalizeTitle()
	return out, nil
}

// detectAllDay inspects the DTSTART value form: VALUE=DATE or no time part
func detectAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}
