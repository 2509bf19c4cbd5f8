package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"safesignal-button/internal/kvstore"
)

const defaultTable = "device_kv"

// Backend is a Postgres implementation of kvstore.Backend.
type Backend struct {
	db       *sql.DB
	table    string
	deviceID string
}

// Option configures the backend.
type Option func(*Backend)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(b *Backend) {
		if table != "" {
			b.table = table
		}
	}
}

// WithDeviceID scopes rows to one device so several emulated devices can share a table.
func WithDeviceID(deviceID string) Option {
	return func(b *Backend) {
		b.deviceID = deviceID
	}
}

// NewBackend constructs a backend.
func NewBackend(db *sql.DB, opts ...Option) *Backend {
	b := &Backend{db: db, table: defaultTable}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnsureSchema creates the table when missing.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	if b == nil || b.db == nil {
		return errors.New("kv backend: nil db")
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	device_id TEXT NOT NULL,
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (device_id, namespace, key)
)`, b.table)
	_, err := b.db.ExecContext(ctx, query)
	return err
}

// Load implements kvstore.Backend.
func (b *Backend) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	if b == nil || b.db == nil {
		return nil, errors.New("kv backend: nil db")
	}
	query := fmt.Sprintf(`
SELECT value
FROM %s
WHERE device_id = $1 AND namespace = $2 AND key = $3`, b.table)

	var value []byte
	err := b.db.QueryRowContext(ctx, query, b.deviceID, namespace, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Apply implements kvstore.Backend.
func (b *Backend) Apply(ctx context.Context, namespace string, writes []kvstore.Write) error {
	if b == nil || b.db == nil {
		return errors.New("kv backend: nil db")
	}
	upsert := fmt.Sprintf(`
INSERT INTO %s (device_id, namespace, key, value, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (device_id, namespace, key)
DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, b.table)
	erase := fmt.Sprintf(`
DELETE FROM %s
WHERE device_id = $1 AND namespace = $2 AND key = $3`, b.table)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if w.Erase {
			if _, err := tx.ExecContext(ctx, erase, b.deviceID, namespace, w.Key); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, b.deviceID, namespace, w.Key, w.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List implements kvstore.Backend.
func (b *Backend) List(ctx context.Context, namespace string) ([]string, error) {
	if b == nil || b.db == nil {
		return nil, errors.New("kv backend: nil db")
	}
	query := fmt.Sprintf(`
SELECT key
FROM %s
WHERE device_id = $1 AND namespace = $2
ORDER BY key ASC`, b.table)

	rows, err := b.db.QueryContext(ctx, query, b.deviceID, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Close closes the database handle.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
