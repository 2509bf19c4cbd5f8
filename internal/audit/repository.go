package audit

import (
	"context"
	"database/sql"
	"errors"
)

// Repository writes audit logs to Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// EnsureSchema creates the audit table when missing.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	role TEXT NOT NULL,
	action TEXT NOT NULL,
	metadata JSONB,
	payload_digest TEXT NOT NULL,
	ip TEXT NOT NULL,
	user_agent TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`)
	return err
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry.fill()

	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, tenant_id, device_id, actor, role, action,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, entry.ID, entry.TenantID, entry.DeviceID, entry.Actor, entry.Role, entry.Action,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}
