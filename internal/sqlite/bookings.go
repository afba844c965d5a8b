package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jdholdren/lodgebook/internal/lodgebook"
)

// Rows per INSERT, well under SQLite's bound parameter limit.
const insertBatchSize = 200

func (r Repo) ExternalBookings(ctx context.Context, syncConfigurationID string) ([]lodgebook.ExternalBooking, error) {
	const q = `SELECT * FROM external_bookings WHERE sync_configuration_id = ? ORDER BY start_date, external_uid;`

	bookings := []lodgebook.ExternalBooking{}
	if err := r.db.SelectContext(ctx, &bookings, q, syncConfigurationID); err != nil {
		return nil, fmt.Errorf("error selecting external bookings: %s", err)
	}

	return bookings, nil
}

// ReplaceExternalBookings deletes the configuration's bookings and inserts the
// given ones inside a single transaction, so readers see either the old set or
// the new one.
func (r Repo) ReplaceExternalBookings(ctx context.Context, syncConfigurationID string, bookings []lodgebook.ExternalBooking) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %s", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM external_bookings WHERE sync_configuration_id = ?;`, syncConfigurationID); err != nil {
		return 0, fmt.Errorf("error deleting external bookings: %s", err)
	}

	now := time.Now().UTC()
	for i := range bookings {
		bookings[i].ID = fmt.Sprintf("%s%s", uuid.NewString(), bookingNamespace)
		bookings[i].SyncConfigurationID = syncConfigurationID
		bookings[i].CreatedAt = now
		bookings[i].UpdatedAt = now
	}

	const q = `INSERT INTO external_bookings (
		id, sync_configuration_id, external_uid, summary, start_date, end_date, platform_name, raw_source, created_at, updated_at
	) VALUES (
		:id, :sync_configuration_id, :external_uid, :summary, :start_date, :end_date, :platform_name, :raw_source, :created_at, :updated_at
	)`
	for start := 0; start < len(bookings); start += insertBatchSize {
		end := min(start+insertBatchSize, len(bookings))
		if _, err := tx.NamedExecContext(ctx, q, bookings[start:end]); err != nil {
			return 0, fmt.Errorf("error inserting external bookings: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing external bookings: %w", err)
	}

	return len(bookings), nil
}

func (r Repo) DeleteExternalBookings(ctx context.Context, syncConfigurationID string) error {
	const q = `DELETE FROM external_bookings WHERE sync_configuration_id = ?;`

	if _, err := r.db.ExecContext(ctx, q, syncConfigurationID); err != nil {
		return fmt.Errorf("error deleting external bookings: %s", err)
	}

	return nil
}
