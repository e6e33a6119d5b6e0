package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Table holds the entries.
	// Default: cache_entries
	Table string

	// OnError receives read failures that are absorbed as misses.
	OnError ErrorHandler
}

// SQLiteStore is a Store backed by a SQLite table.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db      *sql.DB
	table   string
	onError ErrorHandler
}

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(ctx context.Context, db *sql.DB, config SQLiteConfig) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("cache: sqlite db is nil")
	}
	if config.Table == "" {
		config.Table = "cache_entries"
	}
	if !tableName.MatchString(config.Table) {
		return nil, fmt.Errorf("cache: invalid table name %q", config.Table)
	}

	s := &SQLiteStore{db: db, table: config.Table, onError: config.OnError}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite schema: %w", err)
	}
	return nil
}

// Get returns the value for key if its expiry is still in the future.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM `+s.table+` WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.onError.report(ctx, "get", key, err)
		}
		return nil, false
	}

	if time.Now().UnixNano() >= expiresAt {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM `+s.table+` WHERE key = ? AND expires_at <= ?`, key, time.Now().UnixNano(),
		); err != nil {
			s.onError.report(ctx, "expire", key, err)
		}
		return nil, false
	}
	return value, true
}

// Set upserts the entry.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	if value == nil {
		value = []byte{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, time.Now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite set: %w", err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: sqlite delete: %w", err)
	}
	return nil
}

// Clear removes entries whose key contains pattern.
func (s *SQLiteStore) Clear(ctx context.Context, pattern string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if pattern == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM `+s.table)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE instr(key, ?) > 0`, pattern)
	}
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite clear: %w", err)
	}
	return rowsAffected(res)
}

// Sweep removes expired entries.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+s.table+` WHERE expires_at <= ?`, time.Now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite sweep: %w", err)
	}
	return rowsAffected(res)
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite rows affected: %w", err)
	}
	return int(n), nil
}

var (
	_ Store   = (*SQLiteStore)(nil)
	_ Sweeper = (*SQLiteStore)(nil)
	_ Pinger  = (*SQLiteStore)(nil)
)
