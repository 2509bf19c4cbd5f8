package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFillsEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	meta := json.RawMessage(`{"removed":2}`)
	if err := logger.Log(context.Background(), Entry{TenantID: "tenant-a", DeviceID: "btn-1", Action: "queue.cleanup", Metadata: meta}); err != nil {
		t.Fatalf("log: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if !strings.HasPrefix(fields["id"].(string), "audit-") {
		t.Fatalf("unexpected id %v", fields["id"])
	}
	if fields["payload_digest"] != DigestJSON(meta) || fields["action"] != "queue.cleanup" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestDigestJSON(t *testing.T) {
	if DigestJSON(nil) != "" {
		t.Fatalf("empty payload must have empty digest")
	}
	if len(DigestJSON([]byte("{}"))) != 64 {
		t.Fatalf("expected sha256 hex digest")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:5000"
	if got := ClientIP(req); got != "10.0.0.5" {
		t.Fatalf("unexpected ip %q", got)
	}
	req.Header.Set("X-Forwarded-For", "192.168.1.9, 10.0.0.1")
	if got := ClientIP(req); got != "10.0.0.5" {
		t.Fatalf("forwarded header from a remote peer must be ignored, got %q", got)
	}

	req.RemoteAddr = "127.0.0.1:40000"
	if got := ClientIP(req); got != "192.168.1.9" {
		t.Fatalf("unexpected forwarded ip %q", got)
	}
	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "192.168.1.20")
	if got := ClientIP(req); got != "192.168.1.20" {
		t.Fatalf("unexpected real ip %q", got)
	}
}

func TestRepositoryIntegration(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	entry := Entry{ID: NewID(), TenantID: "tenant-a", DeviceID: "btn-1", Actor: "ops", Role: "admin", Action: "ratelimit.reset"}
	if err := repo.Log(ctx, entry); err != nil {
		t.Fatalf("log: %v", err)
	}
	var action string
	if err := db.QueryRowContext(ctx, `SELECT action FROM audit_logs WHERE id = $1`, entry.ID).Scan(&action); err != nil {
		t.Fatalf("query: %v", err)
	}
	if action != "ratelimit.reset" {
		t.Fatalf("unexpected action %q", action)
	}
}
