// Package ical reads the slice of RFC 5545 needed to mirror occupancy from
// other booking platforms: VEVENT blocks and their UID, SUMMARY, DTSTART, DTEND
// and DESCRIPTION properties.
//
// Exporters in the wild are sloppy, so nothing here fails on bad input.
// Blocks that can't be used are dropped and counted.
package ical

import "strings"

// property is the closed set of VEVENT properties the parser keeps.
type property int

const (
	propIgnored property = iota
	propUID
	propSummary
	propDTStart
	propDTEnd
	propDescription
)

func lookupProperty(name string) property {
	switch strings.ToUpper(name) {
	case "UID":
		return propUID
	case "SUMMARY":
		return propSummary
	case "DTSTART":
		return propDTStart
	case "DTEND":
		return propDTEnd
	case "DESCRIPTION":
		return propDescription
	default:
		// Anything else (DTSTAMP, LOCATION, X-*, ...) is allowed and ignored.
		return propIgnored
	}
}

// required is the set of properties an event must have to be emitted.
const required = 1<<propUID | 1<<propSummary | 1<<propDTStart | 1<<propDTEnd

// Stats describes what the parser saw in one document.
type Stats struct {
	Blocks  int `json:"blocks"`  // VEVENT blocks opened
	Dropped int `json:"dropped"` // blocks discarded as incomplete
}

// Parse extracts the events from an iCalendar document.
//
// It never fails: malformed lines are skipped and VEVENT blocks missing UID,
// SUMMARY, DTSTART or DTEND are discarded. An empty UID counts as missing.
func Parse(raw string) ([]RawEvent, Stats) {
	var (
		events  []RawEvent
		stats   Stats
		inEvent bool
		depth   int // components nested inside the current VEVENT, e.g. VALARM
		cur     RawEvent
		seen    int
	)

	for _, line := range Unfold(raw) {
		name, value, ok := splitProperty(line)
		if !ok {
			continue
		}

		switch strings.ToUpper(name) {
		case "BEGIN":
			if !strings.EqualFold(strings.TrimSpace(value), "VEVENT") {
				if inEvent {
					depth++
				}
				continue
			}
			// A new VEVENT while one is open means the open one never closed.
			if inEvent {
				stats.Dropped++
			}
			inEvent, depth, cur, seen = true, 0, RawEvent{}, 0
			stats.Blocks++
			continue
		case "END":
			if !inEvent {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			inEvent = false
			// END of something other than VEVENT means the block never closed.
			if strings.EqualFold(strings.TrimSpace(value), "VEVENT") && seen&required == required {
				events = append(events, cur)
				continue
			}
			stats.Dropped++
			continue
		}
		if !inEvent || depth > 0 {
			continue
		}

		prop := lookupProperty(name)
		switch prop {
		case propUID:
			cur.UID = strings.TrimSpace(value)
			if cur.UID == "" {
				seen &^= 1 << propUID
				continue
			}
		case propSummary:
			cur.Summary = unescapeText(value)
		case propDTStart:
			cur.Start = strings.TrimSpace(value)
		case propDTEnd:
			cur.End = strings.TrimSpace(value)
		case propDescription:
			cur.Description = unescapeText(value)
		default:
			continue
		}
		seen |= 1 << prop
	}

	if inEvent {
		stats.Dropped++
	}

	return events, stats
}

// Unfold splits a document into logical lines. Physical lines may end in CRLF
// or LF; a line starting with a space or tab continues the previous one.
func Unfold(raw string) []string {
	physical := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	lines := make([]string, 0, len(physical))
	for _, l := range physical {
		l = strings.TrimSuffix(l, "\r")
		if len(l) > 0 && (l[0] == ' ' || l[0] == '\t') {
			if len(lines) > 0 {
				lines[len(lines)-1] += l[1:]
			}
			continue
		}
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}

	return lines
}

// splitProperty separates "NAME;PARAM=x:value" into NAME and value. The value
// starts after the first colon that isn't inside a quoted parameter, so
// colons in the value itself survive.
func splitProperty(line string) (name, value string, ok bool) {
	quoted := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ':':
			if quoted {
				continue
			}
			name = line[:i]
			if semi := strings.IndexByte(name, ';'); semi != -1 {
				name = name[:semi]
			}
			name = strings.TrimSpace(name)
			return name, line[i+1:], name != ""
		}
	}

	return "", "", false
}

var textUnescaper = strings.NewReplacer(
	`\n`, "\n",
	`\N`, "\n",
	`\,`, ",",
	`\;`, ";",
	`\\`, `\`,
)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
