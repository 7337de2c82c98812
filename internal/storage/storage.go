package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shiv248/kolaborate/internal/buffer"
)

// Store is a SQLite-backed snapshot store, one row per document path,
// holding the on-disk XML document blob. It implements the
// read(path) -> buffer / write(path, buffer) persistence a directory
// needs to recover a document's buffer across restarts.
//
// Store takes an already-migrated *sql.DB (pkg/database.Database.DB())
// rather than opening its own connection, so the snapshot and replay
// tables share one migration runner and one connection pool.
type Store struct {
	db *sql.DB
}

// New wraps an already-migrated database connection as a snapshot store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Read loads the snapshot stored at path. It returns (nil, nil) if no
// snapshot has ever been written at that path, rather than an error.
func (s *Store) Read(path string) (*buffer.Buffer, error) {
	var document []byte
	err := s.db.QueryRow(`SELECT document FROM snapshot WHERE path = ?`, path).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return decodeDocument(document)
}

// Write persists b as the snapshot at path, replacing any prior snapshot.
func (s *Store) Write(path string, b *buffer.Buffer) error {
	document, err := encodeDocument(b)
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO snapshot (path, document, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			document = excluded.document,
			updated_at = excluded.updated_at
	`, path, document, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// Delete removes the snapshot at path, if any.
func (s *Store) Delete(path string) error {
	_, err := s.db.Exec(`DELETE FROM snapshot WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}
