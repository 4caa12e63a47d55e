package kvstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/macrolens/mealreport/internal/domain"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteMedium is a durable key-value medium stored in a single SQLite table
type SQLiteMedium struct {
	db       *sql.DB
	capacity int64
}

// NewSQLiteMedium opens (or creates) the database at path. A capacity <= 0 means unlimited.
func NewSQLiteMedium(path string, capacity int64) (*SQLiteMedium, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// One connection serializes writers, which keeps the capacity check and the write atomic
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error reading schema file: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("error executing schema: %w", err)
	}

	return &SQLiteMedium{db: db, capacity: capacity}, nil
}

// GetItem retrieves a value by key
func (s *SQLiteMedium) GetItem(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error reading %q: %w", key, err)
	}
	return value, true, nil
}

// SetItem upserts a value, rejecting it when the capacity would be exceeded
func (s *SQLiteMedium) SetItem(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if s.capacity > 0 {
		var used int64
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM((length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))) * 2), 0)
			FROM kv WHERE key != ?`, key).Scan(&used)
		if err != nil {
			return fmt.Errorf("error computing usage: %w", err)
		}
		if next := used + EstimateSize(key, value); next > s.capacity {
			return fmt.Errorf("%w: write of %q needs %d of %d bytes", domain.ErrQuotaExceeded, key, next, s.capacity)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("error writing %q: %w", key, err)
	}

	return tx.Commit()
}

// RemoveItem deletes a key; removing a missing key is not an error
func (s *SQLiteMedium) RemoveItem(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("error deleting %q: %w", key, err)
	}
	return nil
}

// Keys returns every key in lexical order
func (s *SQLiteMedium) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("error listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("error scanning key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close closes the database connection
func (s *SQLiteMedium) Close() error {
	return s.db.Close()
}
