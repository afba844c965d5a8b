// Package lodgebook holds the domain types shared by the sync pipeline, the
// storage layer and the API.
package lodgebook

import (
	"context"
	"errors"
	"time"

	"github.com/jdholdren/lodgebook/internal/ical"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// SyncConfiguration is one external calendar subscription for one property.
	SyncConfiguration struct {
		ID                 string     `db:"id"`
		PropertyID         string     `db:"property_id"`
		PlatformName       string     `db:"platform_name"`
		ICalURL            string     `db:"ical_url"`
		IsActive           bool       `db:"is_active"`
		SyncFrequencyHours int        `db:"sync_frequency_hours"`
		LastSyncAt         *time.Time `db:"last_sync_at"`
		LastSyncError      *string    `db:"last_sync_error"`
		CreatedAt          time.Time  `db:"created_at"`
		UpdatedAt          time.Time  `db:"updated_at"`
	}

	// ExternalBooking is an occupied stretch of nights reported by another platform.
	//
	// EndDate is the last occupied night, not the checkout day.
	ExternalBooking struct {
		ID                  string    `db:"id"`
		SyncConfigurationID string    `db:"sync_configuration_id"`
		ExternalUID         string    `db:"external_uid"`
		Summary             string    `db:"summary"`
		StartDate           ical.Date `db:"start_date"`
		EndDate             ical.Date `db:"end_date"`
		PlatformName        string    `db:"platform_name"`
		RawSource           string    `db:"raw_source"`
		CreatedAt           time.Time `db:"created_at"`
		UpdatedAt           time.Time `db:"updated_at"`
	}

	// Holds the optional fields for updating a configuration.
	UpdateSyncConfigurationArgs struct {
		PlatformName       *string
		ICalURL            *string
		IsActive           *bool
		SyncFrequencyHours *int
	}
)

// Due reports whether the configuration should be synced at now.
func (c SyncConfiguration) Due(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.LastSyncAt == nil {
		return true
	}

	next := c.LastSyncAt.Add(time.Duration(c.SyncFrequencyHours) * time.Hour)
	return !next.After(now)
}

type (
	SyncConfigurationRepo interface {
		SyncConfiguration(ctx context.Context, id string) (SyncConfiguration, error)
		// Lists configurations, all of them when propertyID is empty.
		SyncConfigurations(ctx context.Context, propertyID string) ([]SyncConfiguration, error)
		ActiveSyncConfigurations(ctx context.Context) ([]SyncConfiguration, error)
		InsertSyncConfiguration(ctx context.Context, cfg SyncConfiguration) (SyncConfiguration, error)
		UpdateSyncConfiguration(ctx context.Context, id string, args UpdateSyncConfigurationArgs) (SyncConfiguration, error)
		// Removes the configuration and every external booking it owns.
		DeleteSyncConfiguration(ctx context.Context, id string) error
		MarkSynced(ctx context.Context, id string, at time.Time) error
		MarkSyncFailed(ctx context.Context, id string, msg string) error
	}

	ExternalBookingRepo interface {
		ExternalBookings(ctx context.Context, syncConfigurationID string) ([]ExternalBooking, error)
		// Swaps out every booking of the configuration for the given set in one
		// transaction. Returns the number of rows written.
		ReplaceExternalBookings(ctx context.Context, syncConfigurationID string, bookings []ExternalBooking) (int, error)
		DeleteExternalBookings(ctx context.Context, syncConfigurationID string) error
	}

	Repository interface {
		SyncConfigurationRepo
		ExternalBookingRepo
	}
)
