package ical

import "fmt"

type (
	// RawEvent is a VEVENT as it appeared in the feed, before any date handling.
	RawEvent struct {
		UID         string `json:"uid"`
		Summary     string `json:"summary"`
		Start       string `json:"dtstart"`
		End         string `json:"dtend"`
		Description string `json:"description,omitempty"`
	}

	// Event is a RawEvent whose dates have been interpreted.
	//
	// End is inclusive: for all-day events it is the last occupied night.
	Event struct {
		Raw    RawEvent
		Start  Date
		End    Date
		AllDay bool
	}
)

// Interpret converts the raw start/end tokens into calendar dates.
//
// All-day events carry an exclusive DTEND, so one day is taken off to get the
// last occupied night. If that lands before the start, the stay is treated as
// a single night.
func Interpret(raw RawEvent) (Event, error) {
	start, err := ToDate(raw.Start)
	if err != nil {
		return Event{}, fmt.Errorf("error reading DTSTART of %q: %w", raw.UID, err)
	}
	end, err := ToDate(raw.End)
	if err != nil {
		return Event{}, fmt.Errorf("error reading DTEND of %q: %w", raw.UID, err)
	}

	allDay := IsAllDay(raw.Start)
	if allDay {
		end = end.AddDays(-1)
		if end.Before(start) {
			end = start
		}
	}

	return Event{
		Raw:    raw,
		Start:  start,
		End:    end,
		AllDay: allDay,
	}, nil
}

// InterpretAll interprets every event, skipping the ones whose dates can't be
// read. It returns how many were skipped.
func InterpretAll(raws []RawEvent) ([]Event, int) {
	events := make([]Event, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		ev, err := Interpret(raw)
		if err != nil {
			dropped++
			continue
		}
		events = append(events, ev)
	}

	return events, dropped
}
