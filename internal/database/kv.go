package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Get returns the value stored under key, or nil when the key is absent.
func (db *DB) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %q: %w", key, err)
	}
	return value, nil
}

// Set writes the whole record in a single statement.
func (db *DB) Set(ctx context.Context, key string, value []byte) error {
	query := `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := db.ExecContext(ctx, query, key, value, time.Now()); err != nil {
		return fmt.Errorf("failed to set %q: %w", key, err)
	}
	return nil
}

func (db *DB) Delete(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}
