// Package sqlite implements the lodgebook repositories on SQLite.
package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/lodgebook/internal/lodgebook"
)

// Ensure Repo implements the Repository interface
var _ lodgebook.Repository = (*Repo)(nil)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}

// Open connects to the database file at path.
//
// Foreign keys are switched on so deleting a configuration cascades to its bookings.
func Open(path string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	dbx, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %s", err)
	}
	if err := dbx.Ping(); err != nil {
		dbx.Close()
		return nil, fmt.Errorf("error connecting to database: %s", err)
	}

	return dbx, nil
}
