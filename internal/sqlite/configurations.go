package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/jdholdren/lodgebook/internal/lodgebook"
)

const (
	configurationNamespace = "-sc"
	bookingNamespace       = "-xb"
)

func (r Repo) SyncConfiguration(ctx context.Context, id string) (lodgebook.SyncConfiguration, error) {
	const q = `SELECT * FROM sync_configurations WHERE id = ?;`

	var cfg lodgebook.SyncConfiguration
	err := r.db.GetContext(ctx, &cfg, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return lodgebook.SyncConfiguration{}, lodgebook.ErrNotFound
	}
	if err != nil {
		return lodgebook.SyncConfiguration{}, fmt.Errorf("error fetching sync configuration: %s", err)
	}

	return cfg, nil
}

func (r Repo) SyncConfigurations(ctx context.Context, propertyID string) ([]lodgebook.SyncConfiguration, error) {
	q := sq.Select("*").From("sync_configurations").OrderBy("created_at", "id")
	if propertyID != "" {
		q = q.Where(sq.Eq{"property_id": propertyID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	cfgs := []lodgebook.SyncConfiguration{}
	if err := r.db.SelectContext(ctx, &cfgs, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting sync configurations: %s", err)
	}

	return cfgs, nil
}

// ActiveSyncConfigurations lists the configurations that may be synced, least
// recently synced first.
func (r Repo) ActiveSyncConfigurations(ctx context.Context) ([]lodgebook.SyncConfiguration, error) {
	const q = `SELECT * FROM sync_configurations WHERE is_active = 1 ORDER BY last_sync_at IS NOT NULL, last_sync_at;`

	cfgs := []lodgebook.SyncConfiguration{}
	if err := r.db.SelectContext(ctx, &cfgs, q); err != nil {
		return nil, fmt.Errorf("error selecting active sync configurations: %s", err)
	}

	return cfgs, nil
}

func (r Repo) InsertSyncConfiguration(ctx context.Context, cfg lodgebook.SyncConfiguration) (lodgebook.SyncConfiguration, error) {
	const q = `INSERT INTO sync_configurations (id, property_id, platform_name, ical_url, is_active, sync_frequency_hours)
	VALUES (:id, :property_id, :platform_name, :ical_url, :is_active, :sync_frequency_hours);`

	cfg.ID = fmt.Sprintf("%s%s", uuid.NewString(), configurationNamespace)
	_, err := r.db.NamedExecContext(ctx, q, cfg)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return lodgebook.SyncConfiguration{}, fmt.Errorf("sync configuration already exists: %w", lodgebook.ErrConflict)
	}
	if err != nil {
		return lodgebook.SyncConfiguration{}, fmt.Errorf("error inserting sync configuration: %s", err)
	}

	return r.SyncConfiguration(ctx, cfg.ID)
}

func (r Repo) UpdateSyncConfiguration(ctx context.Context, id string, args lodgebook.UpdateSyncConfigurationArgs) (lodgebook.SyncConfiguration, error) {
	q := sq.Update("sync_configurations").Set("updated_at", time.Now().UTC())
	if args.PlatformName != nil {
		q = q.Set("platform_name", *args.PlatformName)
	}
	if args.ICalURL != nil {
		q = q.Set("ical_url", *args.ICalURL)
	}
	if args.IsActive != nil {
		q = q.Set("is_active", *args.IsActive)
	}
	if args.SyncFrequencyHours != nil {
		q = q.Set("sync_frequency_hours", *args.SyncFrequencyHours)
	}
	q = q.Where(sq.Eq{"id": id})

	query, qArgs, err := q.ToSql()
	if err != nil {
		return lodgebook.SyncConfiguration{}, fmt.Errorf("error constructing sql: %s", err)
	}
	res, err := r.db.ExecContext(ctx, query, qArgs...)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == 2067 {
		return lodgebook.SyncConfiguration{}, fmt.Errorf("sync configuration already exists: %w", lodgebook.ErrConflict)
	}
	if err != nil {
		return lodgebook.SyncConfiguration{}, fmt.Errorf("error executing sync configuration update: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lodgebook.SyncConfiguration{}, lodgebook.ErrNotFound
	}

	return r.SyncConfiguration(ctx, id)
}

// DeleteSyncConfiguration removes the configuration along with its bookings.
func (r Repo) DeleteSyncConfiguration(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %s", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM external_bookings WHERE sync_configuration_id = ?;`, id); err != nil {
		return fmt.Errorf("error deleting external bookings: %s", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sync_configurations WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("error deleting sync configuration: %s", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lodgebook.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing delete: %s", err)
	}

	return nil
}

// MarkSynced records a successful run and clears any earlier failure.
func (r Repo) MarkSynced(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE sync_configurations SET last_sync_at = ?, last_sync_error = NULL, updated_at = ? WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, at.UTC(), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("error marking sync configuration synced: %s", err)
	}

	return nil
}

// MarkSyncFailed records why the last run failed. last_sync_at is left alone
// so staleness stays visible.
func (r Repo) MarkSyncFailed(ctx context.Context, id string, msg string) error {
	const q = `UPDATE sync_configurations SET last_sync_error = ?, updated_at = ? WHERE id = ?;`

	if _, err := r.db.ExecContext(ctx, q, msg, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("error marking sync configuration failed: %s", err)
	}

	return nil
}
