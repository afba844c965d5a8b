package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/lodgebook/internal/ical"
	"github.com/jdholdren/lodgebook/internal/lodgebook"
	"github.com/jdholdren/lodgebook/internal/migrations"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()

	dbx, err := Open(filepath.Join(t.TempDir(), "lodgebook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))
	return New(dbx)
}

func insertTestConfiguration(t *testing.T, r Repo, propertyID, url string) lodgebook.SyncConfiguration {
	t.Helper()

	cfg, err := r.InsertSyncConfiguration(context.Background(), lodgebook.SyncConfiguration{
		PropertyID:         propertyID,
		PlatformName:       "Airbnb",
		ICalURL:            url,
		IsActive:           true,
		SyncFrequencyHours: 6,
	})
	require.NoError(t, err)
	return cfg
}

func booking(uid string, start, end ical.Date) lodgebook.ExternalBooking {
	return lodgebook.ExternalBooking{
		ExternalUID:  uid,
		Summary:      "Reserved",
		StartDate:    start,
		EndDate:      end,
		PlatformName: "Airbnb",
		RawSource:    `{"uid":"` + uid + `"}`,
	}
}

func TestSyncConfigurations_CRUD(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
	)

	cfg := insertTestConfiguration(t, r, "prop-1", "https://example.com/a.ics")
	assert.NotEmpty(t, cfg.ID)
	assert.True(t, cfg.IsActive)
	assert.Nil(t, cfg.LastSyncAt)
	assert.Nil(t, cfg.LastSyncError)

	_, err := r.InsertSyncConfiguration(ctx, lodgebook.SyncConfiguration{
		PropertyID:   "prop-1",
		PlatformName: "Airbnb",
		ICalURL:      "https://example.com/a.ics",
	})
	assert.ErrorIs(t, err, lodgebook.ErrConflict)

	insertTestConfiguration(t, r, "prop-2", "https://example.com/b.ics")

	all, err := r.SyncConfigurations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := r.SyncConfigurations(ctx, "prop-1")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, cfg.ID, filtered[0].ID)

	var (
		inactive = false
		hours    = 12
	)
	updated, err := r.UpdateSyncConfiguration(ctx, cfg.ID, lodgebook.UpdateSyncConfigurationArgs{
		IsActive:           &inactive,
		SyncFrequencyHours: &hours,
	})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, 12, updated.SyncFrequencyHours)
	assert.Equal(t, "https://example.com/a.ics", updated.ICalURL)

	active, err := r.ActiveSyncConfigurations(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "prop-2", active[0].PropertyID)

	_, err = r.UpdateSyncConfiguration(ctx, "nope", lodgebook.UpdateSyncConfigurationArgs{IsActive: &inactive})
	assert.ErrorIs(t, err, lodgebook.ErrNotFound)

	_, err = r.SyncConfiguration(ctx, "nope")
	assert.ErrorIs(t, err, lodgebook.ErrNotFound)
}

func TestSyncConfigurations_MarkSynced(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
		cfg = insertTestConfiguration(t, r, "prop-1", "https://example.com/a.ics")
		at  = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	)

	require.NoError(t, r.MarkSyncFailed(ctx, cfg.ID, "feed unreachable"))
	got, err := r.SyncConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncError)
	assert.Equal(t, "feed unreachable", *got.LastSyncError)
	assert.Nil(t, got.LastSyncAt)

	require.NoError(t, r.MarkSynced(ctx, cfg.ID, at))
	got, err = r.SyncConfiguration(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastSyncError)
	require.NotNil(t, got.LastSyncAt)
	assert.True(t, at.Equal(*got.LastSyncAt))
}

func TestReplaceExternalBookings(t *testing.T) {
	var (
		ctx   = context.Background()
		r     = newTestRepo(t)
		cfg   = insertTestConfiguration(t, r, "prop-1", "https://example.com/a.ics")
		other = insertTestConfiguration(t, r, "prop-2", "https://example.com/b.ics")
		jun1  = ical.Date{Year: 2025, Month: time.June, Day: 1}
		jun3  = ical.Date{Year: 2025, Month: time.June, Day: 3}
		jul15 = ical.Date{Year: 2025, Month: time.July, Day: 15}
		jul19 = ical.Date{Year: 2025, Month: time.July, Day: 19}
	)

	_, err := r.ReplaceExternalBookings(ctx, other.ID, []lodgebook.ExternalBooking{booking("other", jun1, jun3)})
	require.NoError(t, err)

	n, err := r.ReplaceExternalBookings(ctx, cfg.ID, []lodgebook.ExternalBooking{
		booking("b", jul15, jul19),
		booking("a", jun1, jun3),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := r.ExternalBookings(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ExternalUID)
	assert.Equal(t, jun1, got[0].StartDate)
	assert.Equal(t, jun3, got[0].EndDate)
	assert.Equal(t, cfg.ID, got[0].SyncConfigurationID)
	assert.Equal(t, `{"uid":"a"}`, got[0].RawSource)

	// A second replace swaps the whole set.
	n, err = r.ReplaceExternalBookings(ctx, cfg.ID, []lodgebook.ExternalBooking{booking("c", jul15, jul19)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = r.ExternalBookings(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ExternalUID)

	// Replacing with nothing empties it.
	n, err = r.ReplaceExternalBookings(ctx, cfg.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err = r.ExternalBookings(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Other configurations are never touched.
	got, err = r.ExternalBookings(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestReplaceExternalBookings_FailureKeepsPreviousSet(t *testing.T) {
	var (
		ctx  = context.Background()
		r    = newTestRepo(t)
		cfg  = insertTestConfiguration(t, r, "prop-1", "https://example.com/a.ics")
		jun1 = ical.Date{Year: 2025, Month: time.June, Day: 1}
		jun3 = ical.Date{Year: 2025, Month: time.June, Day: 3}
	)

	_, err := r.ReplaceExternalBookings(ctx, cfg.ID, []lodgebook.ExternalBooking{booking("a", jun1, jun3)})
	require.NoError(t, err)

	// Duplicate uids violate the unique index and abort the transaction.
	_, err = r.ReplaceExternalBookings(ctx, cfg.ID, []lodgebook.ExternalBooking{
		booking("dup", jun1, jun3),
		booking("dup", jun1, jun3),
	})
	require.Error(t, err)

	got, err := r.ExternalBookings(ctx, cfg.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ExternalUID)
}

func TestReplaceExternalBookings_Batches(t *testing.T) {
	var (
		ctx      = context.Background()
		r        = newTestRepo(t)
		cfg      = insertTestConfiguration(t, r, "prop-1", "https://example.com/a.ics")
		start    = ical.Date{Year: 2025, Month: time.June, Day: 1}
		bookings []lodgebook.ExternalBooking
	)

	for i := range insertBatchSize*2 + 7 {
		d := start.AddDays(i)
		bookings = append(bookings, booking(d.String(), d, d))
	}

	n, err := r.ReplaceExternalBookings(ctx, cfg.ID, bookings)
	require.NoError(t, err)
	assert.Equal(t, len(bookings), n)

	got, err := r.ExternalBookings(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Len(t, got, len(bookings))
}

func TestDeleteSyncConfiguration_RemovesBookings(t *testing.T) {
	var (
		ctx  = context.Background()
		r    = newTestRepo(t)
		cfg  = insertTestConfiguration(t, r, "prop-1", "https://example.com/a.ics")
		jun1 = ical.Date{Year: 2025, Month: time.June, Day: 1}
	)

	_, err := r.ReplaceExternalBookings(ctx, cfg.ID, []lodgebook.ExternalBooking{booking("a", jun1, jun1)})
	require.NoError(t, err)

	require.NoError(t, r.DeleteSyncConfiguration(ctx, cfg.ID))

	got, err := r.ExternalBookings(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, r.DeleteSyncConfiguration(ctx, cfg.ID), lodgebook.ErrNotFound)
}
