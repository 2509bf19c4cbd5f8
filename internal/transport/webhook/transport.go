// Package webhook delivers alerts to the gateway's HTTPS ingest endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/auth"
	"safesignal-button/internal/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	alertPath     = "/api/v1/alerts"
	statusPath    = "/api/v1/devices/status"
	heartbeatPath = "/api/v1/devices/heartbeat"

	defaultTimeout    = 10 * time.Second
	defaultRetryAfter = 5 * time.Second
)

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		if client != nil {
			t.client = client
		}
	}
}

// WithRetryAfter sets how long the endpoint is reported offline after a failure.
func WithRetryAfter(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.retryAfter = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transport posts signed JSON to the gateway.
type Transport struct {
	baseURL    string
	secret     []byte
	client     *http.Client
	retryAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	downUntil time.Time
}

// New constructs a webhook transport. Bodies are HMAC signed with secret.
func New(baseURL string, secret []byte, opts ...Option) (*Transport, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("webhook transport: empty url")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook transport: empty secret")
	}
	t := &Transport{
		baseURL:    baseURL,
		secret:     secret,
		client:     &http.Client{Timeout: defaultTimeout},
		retryAfter: defaultRetryAfter,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return "webhook" }

// IsConnected reports false for a short period after a failed request.
func (t *Transport) IsConnected() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.now().Before(t.downUntil)
}

// AttemptDeliver posts the alert. The alert key doubles as the idempotency key.
func (t *Transport) AttemptDeliver(ctx context.Context, rec alerting.AlertRecord) bool {
	payload := transport.NewAlertPayload(rec)
	if err := t.post(ctx, alertPath, payload.AlertID, payload); err != nil {
		t.logger.Warn("webhook alert delivery failed", zap.String("alert_key", payload.AlertID), zap.Error(err))
		return false
	}
	return true
}

// PublishStatus implements transport.Reporter.
func (t *Transport) PublishStatus(ctx context.Context, status transport.DeviceStatus) error {
	status.Type = "STATUS"
	return t.post(ctx, statusPath, "", status)
}

// PublishHeartbeat implements transport.Reporter.
func (t *Transport) PublishHeartbeat(ctx context.Context, hb transport.Heartbeat) error {
	hb.Type = "HEARTBEAT"
	return t.post(ctx, heartbeatPath, "", hb)
}

func (t *Transport) post(ctx context.Context, path, idempotencyKey string, payload any) error {
	if t == nil {
		return errors.New("webhook transport: nil transport")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	auth.SignIngest(req, t.secret, t.now(), body)

	resp, err := t.client.Do(req)
	if err != nil {
		t.markDown()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			t.markDown()
		}
		return fmt.Errorf("webhook transport: non-2xx status %d", resp.StatusCode)
	}
	t.markUp()
	return nil
}

func (t *Transport) markDown() {
	t.mu.Lock()
	t.downUntil = t.now().Add(t.retryAfter)
	t.mu.Unlock()
}

func (t *Transport) markUp() {
	t.mu.Lock()
	t.downUntil = time.Time{}
	t.mu.Unlock()
}
