package store

import (
	"database/sql"
	"fmt"
)

// Store is the local sqlite bookkeeping database: a read-through cache of
// raw API responses and a log of extraction outcomes per location/variable.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the database at path with the standard
// pragmas applied.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	return New(db), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
