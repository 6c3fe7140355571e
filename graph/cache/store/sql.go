package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// sqlStore holds the statements shared by the SQL backends. Only the
// upsert differs between dialects.
type sqlStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	upsert string
}

func (s *sqlStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put implements Store.
func (s *sqlStore) Put(ctx context.Context, records ...Record) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.upsert)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.DType, r.Payload, r.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("failed to save %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *sqlStore) Get(ctx context.Context, id string) (Record, error) {
	if err := s.checkOpen(); err != nil {
		return Record{}, err
	}

	var (
		r  = Record{ID: id}
		ts int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT dtype, payload, ts FROM large_objects WHERE id = ?", id,
	).Scan(&r.DType, &r.Payload, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load %s: %w", id, err)
	}
	r.Timestamp = time.Unix(0, ts)
	return r, nil
}

// DeleteOlderThan implements Store.
func (s *sqlStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM large_objects WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned entries: %w", err)
	}
	return int(n), nil
}

// Len implements Store.
func (s *sqlStore) Len(ctx context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM large_objects").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// Close implements Store. Calling Close more than once is a no-op.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *sqlStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}
