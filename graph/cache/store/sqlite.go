package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// errCorrupt marks failures while preparing an existing database file.
var errCorrupt = errors.New("sqlite database unusable")

// SQLiteStore is a Store backed by a single SQLite file.
//
// Schema:
//
//	large_objects(id TEXT PRIMARY KEY, dtype TEXT, payload BLOB, ts INTEGER)
//
// ts holds the write time in Unix nanoseconds and is indexed for pruning.
type SQLiteStore struct {
	sqlStore
	path  string
	reset bool
}

// NewSQLiteStore opens (creating if needed) the database at path.
//
// If the file exists but cannot be used (not a database, failed integrity
// check, schema creation error) it is deleted together with its WAL files
// and recreated empty. Reset reports whether that happened.
//
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	s, err := openSQLite(path)
	if err == nil {
		return s, nil
	}
	if path == ":memory:" || !errors.Is(err, errCorrupt) {
		return nil, err
	}

	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("failed to remove corrupt database %s: %w", p, rmErr)
		}
	}
	s, err2 := openSQLite(path)
	if err2 != nil {
		return nil, fmt.Errorf("failed to recreate database after %v: %w", err, err2)
	}
	s.reset = true
	return s, nil
}

func openSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if err := prepareSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}

	return &SQLiteStore{
		sqlStore: sqlStore{
			db: db,
			upsert: `
				INSERT INTO large_objects (id, dtype, payload, ts)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					dtype = excluded.dtype,
					payload = excluded.payload,
					ts = excluded.ts
			`,
		},
		path: path,
	}, nil
}

func prepareSQLite(ctx context.Context, db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check: %s", result)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS large_objects (
			id TEXT NOT NULL PRIMARY KEY,
			dtype TEXT NOT NULL,
			payload BLOB NOT NULL,
			ts INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create large_objects table: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_large_objects_ts ON large_objects(ts)"); err != nil {
		return fmt.Errorf("failed to create idx_large_objects_ts: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Reset reports whether a corrupt file was discarded when opening.
func (s *SQLiteStore) Reset() bool {
	return s.reset
}
