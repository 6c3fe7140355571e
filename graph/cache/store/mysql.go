package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a Store backed by a MySQL or MariaDB database.
//
// It suits deployments where several processes share one spill area. The
// schema mirrors SQLiteStore with a LONGBLOB payload column.
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore connects using dsn and creates the table if needed.
//
// The DSN format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param=value]
//
// Keep credentials out of config files; the HCL config supports
// env("MYSQL_DSN").
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS large_objects (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			dtype VARCHAR(255) NOT NULL,
			payload LONGBLOB NOT NULL,
			ts BIGINT NOT NULL,
			INDEX idx_large_objects_ts (ts)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create large_objects table: %w", err)
	}

	return &MySQLStore{sqlStore: sqlStore{
		db: db,
		upsert: `
			INSERT INTO large_objects (id, dtype, payload, ts)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				dtype = VALUES(dtype),
				payload = VALUES(payload),
				ts = VALUES(ts)
		`,
	}}, nil
}

// Stats returns connection pool statistics.
func (m *MySQLStore) Stats() sql.DBStats {
	return m.db.Stats()
}
