package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/lodgebook/internal/ical"
	"github.com/jdholdren/lodgebook/internal/lodgebook"
)

// Bookings maps relevant events onto rows for cfg. When a feed repeats a UID
// the first event wins; the number of repeats is returned.
func Bookings(cfg lodgebook.SyncConfiguration, events []ical.Event) ([]lodgebook.ExternalBooking, int) {
	var (
		bookings = make([]lodgebook.ExternalBooking, 0, len(events))
		seen     = make(map[string]struct{}, len(events))
		dupes    int
	)
	for _, ev := range events {
		if _, ok := seen[ev.Raw.UID]; ok {
			dupes++
			continue
		}
		seen[ev.Raw.UID] = struct{}{}

		summary := sanitize(ev.Raw.Summary)
		if summary == "" {
			summary = "Booking via " + cfg.PlatformName
		}

		bookings = append(bookings, lodgebook.ExternalBooking{
			SyncConfigurationID: cfg.ID,
			ExternalUID:         ev.Raw.UID,
			Summary:             summary,
			StartDate:           ev.Start,
			EndDate:             ev.End,
			PlatformName:        cfg.PlatformName,
			RawSource:           rawSource(ev.Raw),
		})
	}

	return bookings, dupes
}

// reconcile replaces everything stored for the configuration with bookings.
//
// A storage failure leaves the configuration with no bookings at all. A
// cancelled context leaves whatever was committed before.
func (s *Syncer) reconcile(ctx context.Context, cfgID string, bookings []lodgebook.ExternalBooking) (int, error) {
	n, err := s.repo.ReplaceExternalBookings(ctx, cfgID, bookings)
	if err == nil {
		return n, nil
	}
	if ctx.Err() != nil {
		return 0, fmt.Errorf("sync cancelled before commit: %w", ctx.Err())
	}

	if perr := s.repo.DeleteExternalBookings(ctx, cfgID); perr != nil {
		slog.ErrorContext(ctx, "error purging external bookings after failed reconcile", "error", perr)
	}
	return 0, fmt.Errorf("%w: %w", ErrReconcile, err)
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes markup from a summary. Summaries are shown in a calendar cell, so
// they're also kept short.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = html.UnescapeString(stripPolicy.Sanitize(s))
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = strings.ToValidUTF8(s[:512], "")
	}

	return s
}

func rawSource(raw ical.RawEvent) string {
	byts, err := json.Marshal(raw)
	if err != nil {
		// Only strings in there, this can't happen.
		return ""
	}
	return string(byts)
}
