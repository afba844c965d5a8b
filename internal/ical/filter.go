package ical

import "time"

// RelevanceWindowYears bounds how far ahead events are kept.
const RelevanceWindowYears = 2

// Relevant keeps the events starting within [today, today+2y), where today is
// the calendar day of now in UTC.
func Relevant(events []Event, now time.Time) []Event {
	var (
		from  = DateOf(now.UTC())
		until = from.AddYears(RelevanceWindowYears)
		kept  = make([]Event, 0, len(events))
	)
	for _, ev := range events {
		if ev.Start.Before(from) || !ev.Start.Before(until) {
			continue
		}
		kept = append(kept, ev)
	}

	return kept
}
