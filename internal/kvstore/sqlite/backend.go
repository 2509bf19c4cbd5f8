package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"safesignal-button/internal/kvstore"

	_ "modernc.org/sqlite"
)

// Backend persists namespaced keys in a SQLite file.
type Backend struct {
	db *sql.DB
}

// Open opens (or creates) the key-value database at path.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open kv db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv_entries (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv_entries: %w", err)
	}

	return &Backend{db: db}, nil
}

// Load implements kvstore.Backend.
func (b *Backend) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	if b == nil || b.db == nil {
		return nil, errors.New("sqlite kv: nil db")
	}
	var value []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", namespace, key, err)
	}
	return value, nil
}

// Apply implements kvstore.Backend. Writes share one transaction.
func (b *Backend) Apply(ctx context.Context, namespace string, writes []kvstore.Write) error {
	if b == nil || b.db == nil {
		return errors.New("sqlite kv: nil db")
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, w := range writes {
		if w.Erase {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`, namespace, w.Key,
			); err != nil {
				return fmt.Errorf("erase %s/%s: %w", namespace, w.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv_entries (namespace, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			namespace, w.Key, w.Value, now,
		); err != nil {
			return fmt.Errorf("set %s/%s: %w", namespace, w.Key, err)
		}
	}
	return tx.Commit()
}

// List implements kvstore.Backend.
func (b *Backend) List(ctx context.Context, namespace string) ([]string, error) {
	if b == nil || b.db == nil {
		return nil, errors.New("sqlite kv: nil db")
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT key FROM kv_entries WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
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
	return keys, rows.Err()
}

// Close closes the underlying database.
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
