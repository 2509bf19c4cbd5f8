package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry represents an audit log entry for an operator action on the device.
type Entry struct {
	ID            string
	TenantID      string
	DeviceID      string
	Actor         string
	Role          string
	Action        string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (e *Entry) fill() {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
}

// ZapLogger writes audit entries to a structured log.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger constructs a ZapLogger.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapLogger{logger: logger.Named("audit")}
}

// Log implements Logger.
func (l *ZapLogger) Log(_ context.Context, entry Entry) error {
	entry.fill()
	l.logger.Info("audit",
		zap.String("id", entry.ID),
		zap.String("tenant_id", entry.TenantID),
		zap.String("device_id", entry.DeviceID),
		zap.String("actor", entry.Actor),
		zap.String("role", entry.Role),
		zap.String("action", entry.Action),
		zap.ByteString("metadata", entry.Metadata),
		zap.String("payload_digest", entry.PayloadDigest),
		zap.String("ip", entry.IP),
		zap.String("user_agent", entry.UserAgent),
		zap.Time("created_at", entry.CreatedAt),
	)
	return nil
}
