// Package database provides the SQLite connection and migration runner
// shared by the document snapshot store (internal/storage).
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps a SQLite connection, migrated to the current schema.
type Database struct {
	db *sql.DB
}

// New opens uri and runs all pending migrations.
func New(uri string) (*Database, error) {
	db, err := sql.Open("sqlite3", uri)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Database{db: db}, nil
}

// DB returns the underlying connection, for packages (internal/storage)
// that run their own queries against the migrated schema.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}
