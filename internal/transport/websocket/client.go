// Package websocket keeps a persistent gateway session and delivers alerts over it.
package websocket

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/auth"
	"safesignal-button/internal/transport"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval           = 30 * time.Second
	pongWait               = 70 * time.Second
	writeTimeout           = 10 * time.Second
	defaultReconnectDelay  = 5 * time.Second
	maxReconnectDelay      = 5 * time.Minute
	authReconnectDelay     = 30 * time.Second
	defaultAckTimeout      = 5 * time.Second
	defaultTokenTTL        = time.Hour
	authErrorBodyMaxLength = 256
)

// Message types exchanged with the gateway.
const (
	MsgAlert     = "alert"
	MsgStatus    = "status"
	MsgHeartbeat = "heartbeat"
	MsgAck       = "ack"
)

// Envelope wraps every frame on the session.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Ref       string          `json:"ref,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Config configures the client.
type Config struct {
	ServerURL      string
	DeviceID       string
	TenantID       string
	Secret         []byte
	TokenTTL       time.Duration
	ReconnectDelay time.Duration
	AckTimeout     time.Duration
}

// Client manages a persistent WebSocket session to the gateway.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	conn      *gws.Conn
	connected bool
	pending   map[string]chan struct{}
}

type authHandshakeError struct {
	StatusCode int
	Body       string
}

func (e *authHandshakeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway rejected device token (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("gateway rejected device token (status=%d): %s", e.StatusCode, e.Body)
}

// NewClient creates a new client. Run must be called to connect.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("websocket transport: empty server url")
	}
	if cfg.DeviceID == "" || cfg.TenantID == "" {
		return nil, errors.New("websocket transport: device and tenant required")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("websocket transport: empty secret")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger, pending: make(map[string]chan struct{})}, nil
}

// Name implements transport.Transport.
func (c *Client) Name() string { return "websocket" }

// IsConnected returns true while a session is established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run connects and maintains the session until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	delay := c.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		wasConnected, err := c.connectAndServe(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		if wasConnected {
			delay = c.cfg.ReconnectDelay
		}

		var authErr *authHandshakeError
		if errors.As(err, &authErr) {
			if delay < authReconnectDelay {
				delay = authReconnectDelay
			}
			c.logger.Warn("gateway rejected device token, retrying with extended backoff",
				zap.Int("status_code", authErr.StatusCode),
				zap.Duration("backoff", delay),
			)
		} else {
			c.logger.Warn("gateway session lost, reconnecting", zap.Error(err), zap.Duration("backoff", delay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		if errors.As(err, &authErr) {
			continue
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// jitter adds 0-50% random jitter to a duration.
func jitter(d time.Duration) time.Duration {
	max := int64(d / 2)
	if max <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return d
	}
	return d + time.Duration(n.Int64())
}

func (c *Client) connectAndServe(ctx context.Context) (bool, error) {
	token, err := auth.IssueDeviceToken(c.cfg.Secret, c.cfg.TenantID, c.cfg.DeviceID, c.cfg.TokenTTL)
	if err != nil {
		return false, err
	}
	target := fmt.Sprintf("%s/ws/device?id=%s", c.cfg.ServerURL, url.QueryEscape(c.cfg.DeviceID))
	header := http.Header{"Authorization": {"Bearer " + token}}

	conn, resp, err := gws.DefaultDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, authErrorBodyMaxLength))
				return false, &authHandshakeError{StatusCode: resp.StatusCode, Body: string(body)}
			}
		}
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
	}()
	c.logger.Info("connected to gateway", zap.String("url", target))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go c.pingLoop(pingCtx)

	// Closing the connection unblocks ReadMessage on shutdown.
	go func() {
		<-pingCtx.Done()
		conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn("invalid gateway message", zap.Error(err))
			continue
		}
		if env.Type == MsgAck {
			c.ack(env.Ref)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				err = conn.WriteMessage(gws.PingMessage, nil)
			}
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("gateway ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) ack(ref string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.pending[ref]; ok {
		close(ch)
		delete(c.pending, ref)
	}
}

// Send marshals and writes an envelope, returning its id.
func (c *Client) Send(msgType string, payload any) (string, error) {
	return c.send(uuid.New().String(), msgType, payload, nil)
}

func (c *Client) send(id, msgType string, payload any, waiter chan struct{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	data, err := json.Marshal(Envelope{
		ID:        id,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", errors.New("websocket transport: not connected")
	}
	if waiter != nil {
		c.pending[id] = waiter
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(gws.TextMessage, data); err != nil {
		delete(c.pending, id)
		return "", err
	}
	return id, nil
}

// AttemptDeliver sends the alert and waits for the gateway ack.
func (c *Client) AttemptDeliver(ctx context.Context, rec alerting.AlertRecord) bool {
	waiter := make(chan struct{})
	id, err := c.send(uuid.New().String(), MsgAlert, transport.NewAlertPayload(rec), waiter)
	if err != nil {
		c.logger.Warn("websocket alert send failed", zap.Uint32("alert_id", rec.AlertID), zap.Error(err))
		return false
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case <-waiter:
		return true
	case <-ctx.Done():
	case <-timer.C:
		c.logger.Warn("websocket alert not acknowledged", zap.Uint32("alert_id", rec.AlertID))
	}
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	return false
}

// PublishStatus implements transport.Reporter.
func (c *Client) PublishStatus(_ context.Context, status transport.DeviceStatus) error {
	status.Type = "STATUS"
	_, err := c.Send(MsgStatus, status)
	return err
}

// PublishHeartbeat implements transport.Reporter.
func (c *Client) PublishHeartbeat(_ context.Context, hb transport.Heartbeat) error {
	hb.Type = "HEARTBEAT"
	_, err := c.Send(MsgHeartbeat, hb)
	return err
}
