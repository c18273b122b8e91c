package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// SQLiteRepository implements Repository on the bridge's SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open connection.
// The transitions table comes from the embedded migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts one transition row.
func (r *SQLiteRepository) Record(ctx context.Context, key, kind string, payload []byte) error {
	if key == "" {
		return fmt.Errorf("history: key is required")
	}
	if kind == "" {
		return fmt.Errorf("history: kind is required")
	}
	if payload == nil {
		payload = []byte("{}")
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transitions (key, kind, payload, created_at) VALUES (?, ?, ?, ?)",
		key,
		kind,
		string(payload),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// ForKey returns recent transitions for one key, newest first.
// The limit defaults to 50 and is capped at 200.
func (r *SQLiteRepository) ForKey(ctx context.Context, key string, limit int) ([]Entry, error) {
	if key == "" {
		return nil, fmt.Errorf("history: key is required")
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, key, kind, payload, created_at
		 FROM transitions
		 WHERE key = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		key,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows, limit)
}

// Recent returns the most recent transitions across all keys.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, key, kind, payload, created_at
		 FROM transitions
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows, limit)
}

// Prune deletes transitions older than the given duration.
// Returns the number of rows deleted.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM transitions WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting transitions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func scanEntries(rows *sql.Rows, limit int) ([]Entry, error) {
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var payload string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.Key, &entry.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		entry.Payload = []byte(payload)

		timestamp, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return entries, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("history: created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
