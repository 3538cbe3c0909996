package ics

import (
	"time"

	"github.com/teambition/rrule-go"

	"calsieve/internal/platform/logger"
)

// occurrenceProbeCap bounds rrule expansion for pathological rules
const occurrenceProbeCap = 5000

// OccursWithin reports whether the event has at least one occurrence inside
// [from, to]. Non-recurring events use a plain interval overlap; recurring
// events expand their RRULE with the event's DTSTART and probe the window.
// An unparseable RRULE falls back to the base interval check so a provider
// typo never silently drops the whole series
func OccursWithin(ev Event, from, to time.Time) bool {
	if to.Before(from) {
		return false
	}
	if ev.RawRRule == "" {
		return overlaps(ev.Start, ev.End, from, to)
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		logger.Named("ics").Warn().
			Str("uid", ev.UID).
			Str("rrule", ev.RawRRule).
			Err(err).
			Msg("unparseable rrule; falling back to base interval")
		return overlaps(ev.Start, ev.End, from, to)
	}
	r.DTStart(ev.Start)

	// Pull the window into the event's own location before probing
	lo := from.In(ev.Start.Location())
	hi := to.In(ev.Start.Location())

	// Widen the lower bound by the event duration so an occurrence that
	// started before the window but still overlaps it is found
	dur := ev.End.Sub(ev.Start)
	if dur > 0 {
		lo = lo.Add(-dur)
	}

	occ := r.Between(lo, hi, true)
	if len(occ) > occurrenceProbeCap {
		occ = occ[:occurrenceProbeCap]
	}
	return len(occ) > 0
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
