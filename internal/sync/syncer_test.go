package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/lodgebook/internal/ical"
	"github.com/jdholdren/lodgebook/internal/lodgebook"
)

// memRepo is an in-memory lodgebook.Repository. Replacing is all or nothing,
// like the SQL transaction it stands in for.
type memRepo struct {
	mu         gosync.Mutex
	configs    map[string]lodgebook.SyncConfiguration
	bookings   map[string][]lodgebook.ExternalBooking
	replaceErr error
	// Called inside ReplaceExternalBookings while the lock is not held.
	onReplace func()
}

var _ lodgebook.Repository = (*memRepo)(nil)

func newMemRepo(cfgs ...lodgebook.SyncConfiguration) *memRepo {
	r := &memRepo{
		configs:  map[string]lodgebook.SyncConfiguration{},
		bookings: map[string][]lodgebook.ExternalBooking{},
	}
	for _, cfg := range cfgs {
		r.configs[cfg.ID] = cfg
	}
	return r
}

func (r *memRepo) SyncConfiguration(ctx context.Context, id string) (lodgebook.SyncConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[id]
	if !ok {
		return lodgebook.SyncConfiguration{}, lodgebook.ErrNotFound
	}
	return cfg, nil
}

func (r *memRepo) SyncConfigurations(ctx context.Context, propertyID string) ([]lodgebook.SyncConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfgs := []lodgebook.SyncConfiguration{}
	for _, cfg := range r.configs {
		if propertyID == "" || cfg.PropertyID == propertyID {
			cfgs = append(cfgs, cfg)
		}
	}
	return cfgs, nil
}

func (r *memRepo) ActiveSyncConfigurations(ctx context.Context) ([]lodgebook.SyncConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfgs := []lodgebook.SyncConfiguration{}
	for _, cfg := range r.configs {
		if cfg.IsActive {
			cfgs = append(cfgs, cfg)
		}
	}
	return cfgs, nil
}

func (r *memRepo) InsertSyncConfiguration(ctx context.Context, cfg lodgebook.SyncConfiguration) (lodgebook.SyncConfiguration, error) {
	return lodgebook.SyncConfiguration{}, errors.New("not implemented")
}

func (r *memRepo) UpdateSyncConfiguration(ctx context.Context, id string, args lodgebook.UpdateSyncConfigurationArgs) (lodgebook.SyncConfiguration, error) {
	return lodgebook.SyncConfiguration{}, errors.New("not implemented")
}

func (r *memRepo) DeleteSyncConfiguration(ctx context.Context, id string) error {
	return errors.New("not implemented")
}

func (r *memRepo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.configs[id]
	cfg.LastSyncAt = &at
	cfg.LastSyncError = nil
	r.configs[id] = cfg
	return nil
}

func (r *memRepo) MarkSyncFailed(ctx context.Context, id string, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.configs[id]
	cfg.LastSyncError = &msg
	r.configs[id] = cfg
	return nil
}

func (r *memRepo) ExternalBookings(ctx context.Context, id string) ([]lodgebook.ExternalBooking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]lodgebook.ExternalBooking{}, r.bookings[id]...), nil
}

func (r *memRepo) ReplaceExternalBookings(ctx context.Context, id string, bookings []lodgebook.ExternalBooking) (int, error) {
	if r.onReplace != nil {
		r.onReplace()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.replaceErr != nil {
		return 0, r.replaceErr
	}
	r.bookings[id] = append([]lodgebook.ExternalBooking{}, bookings...)
	return len(bookings), nil
}

func (r *memRepo) DeleteExternalBookings(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.bookings, id)
	return nil
}

var testNow = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSyncer(t *testing.T, repo *memRepo) *Syncer {
	t.Helper()

	s := NewSyncer(repo, newTestFetcher(t))
	s.Now = func() time.Time { return testNow }
	return s
}

func activeConfig(id, url string) lodgebook.SyncConfiguration {
	return lodgebook.SyncConfiguration{
		ID:                 id,
		PropertyID:         "prop-1",
		PlatformName:       "Airbnb",
		ICalURL:            url,
		IsActive:           true,
		SyncFrequencyHours: 6,
	}
}

func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

func calendar(events ...string) string {
	return "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" + strings.Join(events, "") + "END:VCALENDAR\r\n"
}

func TestRunSync_EndToEnd(t *testing.T) {
	feed := calendar(
		vevent("UID:A1", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20250110", "DTEND;VALUE=DATE:20250113"),
		vevent("UID:A2", "SUMMARY:", "DTSTART:20250301T150000Z", "DTEND:20250305T110000Z"),
		vevent("UID:A3", "SUMMARY:<b>Owner</b> stay & friends", "DTSTART;VALUE=DATE:20250401", "DTEND;VALUE=DATE:20250402"),
		vevent("UID:OLD", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20241201", "DTEND;VALUE=DATE:20241205"),
		vevent("UID:FAR", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20270601", "DTEND;VALUE=DATE:20270605"),
		vevent("UID:BAD", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:2025XX01", "DTEND;VALUE=DATE:20250105"),
		vevent("SUMMARY:No uid", "DTSTART;VALUE=DATE:20250201", "DTEND;VALUE=DATE:20250203"),
		vevent("UID:A1", "SUMMARY:Repeat", "DTSTART;VALUE=DATE:20250601", "DTEND;VALUE=DATE:20250603"),
	)
	srv := feedServer(t, feed)
	repo := newMemRepo(activeConfig("cfg-1", srv.URL))
	s := newTestSyncer(t, repo)

	res, err := s.RunSync(context.Background(), "cfg-1")
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, 3, res.Synced)
	assert.Equal(t, 7, res.Parsed)
	assert.Equal(t, 3, res.Dropped)
	assert.Equal(t, 2, res.Filtered)
	require.NotNil(t, res.SyncedAt)
	assert.Equal(t, testNow, *res.SyncedAt)

	bookings, err := repo.ExternalBookings(context.Background(), "cfg-1")
	require.NoError(t, err)
	require.Len(t, bookings, 3)

	a1 := bookings[0]
	assert.Equal(t, "A1", a1.ExternalUID)
	assert.Equal(t, "Reserved", a1.Summary)
	assert.Equal(t, ical.Date{Year: 2025, Month: time.January, Day: 10}, a1.StartDate)
	assert.Equal(t, ical.Date{Year: 2025, Month: time.January, Day: 12}, a1.EndDate)
	assert.Equal(t, "Airbnb", a1.PlatformName)
	assert.JSONEq(t, `{"uid":"A1","summary":"Reserved","dtstart":"20250110","dtend":"20250113"}`, a1.RawSource)

	a2 := bookings[1]
	assert.Equal(t, "Booking via Airbnb", a2.Summary)
	assert.Equal(t, ical.Date{Year: 2025, Month: time.March, Day: 5}, a2.EndDate)

	assert.Equal(t, "Owner stay & friends", bookings[2].Summary)

	cfg, _ := repo.SyncConfiguration(context.Background(), "cfg-1")
	require.NotNil(t, cfg.LastSyncAt)
	assert.Equal(t, testNow, *cfg.LastSyncAt)
	assert.Nil(t, cfg.LastSyncError)
}

func TestRunSync_Idempotent(t *testing.T) {
	srv := feedServer(t, calendar(
		vevent("UID:A1", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20250110", "DTEND;VALUE=DATE:20250113"),
	))
	repo := newMemRepo(activeConfig("cfg-1", srv.URL))
	s := newTestSyncer(t, repo)

	for range 3 {
		res, err := s.RunSync(context.Background(), "cfg-1")
		require.NoError(t, err)
		assert.Equal(t, 1, res.Synced)
	}

	bookings, _ := repo.ExternalBookings(context.Background(), "cfg-1")
	assert.Len(t, bookings, 1)
}

func TestRunSync_InactiveIsNoop(t *testing.T) {
	var fetched bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = true
	}))
	defer srv.Close()

	cfg := activeConfig("cfg-1", srv.URL)
	cfg.IsActive = false
	repo := newMemRepo(cfg)
	repo.bookings["cfg-1"] = []lodgebook.ExternalBooking{{ExternalUID: "kept"}}

	res, err := newTestSyncer(t, repo).RunSync(context.Background(), "cfg-1")
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Zero(t, res.Synced)
	assert.False(t, fetched)

	bookings, _ := repo.ExternalBookings(context.Background(), "cfg-1")
	assert.Len(t, bookings, 1)
	stored, _ := repo.SyncConfiguration(context.Background(), "cfg-1")
	assert.Nil(t, stored.LastSyncAt)
}

func TestRunSync_NotFound(t *testing.T) {
	_, err := newTestSyncer(t, newMemRepo()).RunSync(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestRunSync_FeedUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	repo := newMemRepo(activeConfig("cfg-1", srv.URL))
	repo.bookings["cfg-1"] = []lodgebook.ExternalBooking{{ExternalUID: "previous"}}

	_, err := newTestSyncer(t, repo).RunSync(context.Background(), "cfg-1")
	require.ErrorIs(t, err, ErrFeedUnreachable)
	assert.Contains(t, err.Error(), "403 Forbidden")

	cfg, _ := repo.SyncConfiguration(context.Background(), "cfg-1")
	assert.Nil(t, cfg.LastSyncAt)
	require.NotNil(t, cfg.LastSyncError)
	assert.Contains(t, *cfg.LastSyncError, "403")

	// Nothing was reconciled, so the earlier set stands.
	bookings, _ := repo.ExternalBookings(context.Background(), "cfg-1")
	assert.Len(t, bookings, 1)
}

func TestRunSync_ReconcileFailureLeavesEmpty(t *testing.T) {
	srv := feedServer(t, calendar(
		vevent("UID:A1", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20250110", "DTEND;VALUE=DATE:20250113"),
	))
	repo := newMemRepo(activeConfig("cfg-1", srv.URL))
	repo.bookings["cfg-1"] = []lodgebook.ExternalBooking{{ExternalUID: "stale"}}
	repo.replaceErr = errors.New("disk full")

	_, err := newTestSyncer(t, repo).RunSync(context.Background(), "cfg-1")
	require.ErrorIs(t, err, ErrReconcile)

	bookings, _ := repo.ExternalBookings(context.Background(), "cfg-1")
	assert.Empty(t, bookings)

	cfg, _ := repo.SyncConfiguration(context.Background(), "cfg-1")
	assert.Nil(t, cfg.LastSyncAt)
	assert.NotNil(t, cfg.LastSyncError)
}

func TestRunSync_CancelledKeepsCommittedRows(t *testing.T) {
	srv := feedServer(t, calendar(
		vevent("UID:A1", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20250110", "DTEND;VALUE=DATE:20250113"),
	))
	repo := newMemRepo(activeConfig("cfg-1", srv.URL))
	repo.bookings["cfg-1"] = []lodgebook.ExternalBooking{{ExternalUID: "committed"}}

	ctx, cancel := context.WithCancel(context.Background())
	repo.onReplace = cancel

	_, err := newTestSyncer(t, repo).RunSync(ctx, "cfg-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrReconcile)

	bookings, _ := repo.ExternalBookings(context.Background(), "cfg-1")
	require.Len(t, bookings, 1)
	assert.Equal(t, "committed", bookings[0].ExternalUID)
}

func TestRunSync_SerializesPerConfiguration(t *testing.T) {
	srv := feedServer(t, calendar(
		vevent("UID:A1", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20250110", "DTEND;VALUE=DATE:20250113"),
	))
	repo := newMemRepo(activeConfig("cfg-1", srv.URL))

	var (
		mu       gosync.Mutex
		inFlight int
		maxSeen  int
	)
	repo.onReplace = func() {
		mu.Lock()
		inFlight++
		maxSeen = max(maxSeen, inFlight)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	s := newTestSyncer(t, repo)
	var wg gosync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunSync(context.Background(), "cfg-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestSyncAll(t *testing.T) {
	good := feedServer(t, calendar(
		vevent("UID:A1", "SUMMARY:Reserved", "DTSTART;VALUE=DATE:20250110", "DTEND;VALUE=DATE:20250113"),
	))
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	recent := testNow.Add(-time.Hour)
	notDue := activeConfig("not-due", good.URL)
	notDue.LastSyncAt = &recent
	inactive := activeConfig("inactive", good.URL)
	inactive.IsActive = false

	repo := newMemRepo(
		activeConfig("due-1", good.URL),
		activeConfig("due-2", good.URL),
		activeConfig("broken", bad.URL),
		notDue,
		inactive,
	)
	s := newTestSyncer(t, repo)

	ids, err := s.DueConfigurations(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"due-1", "due-2", "broken"}, ids)

	results, err := s.SyncAll(context.Background())
	require.NoError(t, err)

	var synced []string
	for _, res := range results {
		synced = append(synced, res.ConfigurationID)
	}
	assert.ElementsMatch(t, []string{"due-1", "due-2"}, synced)

	broken, _ := repo.SyncConfiguration(context.Background(), "broken")
	assert.NotNil(t, broken.LastSyncError)
}
