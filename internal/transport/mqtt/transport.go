// Package mqtt delivers alerts to the building gateway over MQTT.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/transport"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	alertQoS          = 1
	reportQoS         = 0
	defaultKeepAlive  = 30 * time.Second
	defaultReconnect  = 5 * time.Second
	defaultPublishTTL = 5 * time.Second
	disconnectQuiesce = 250
)

// Config configures the MQTT transport.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	TenantID       string
	BuildingID     string
	KeepAlive      time.Duration
	Reconnect      time.Duration
	PublishTimeout time.Duration
}

// client is the subset of paho.Client used for publishing.
type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Transport publishes alerts, status and heartbeats.
type Transport struct {
	raw       paho.Client
	client    client
	topics    transport.Topics
	timeout   time.Duration
	logger    *zap.Logger
	connected atomic.Bool
}

// New builds a transport with auto-reconnect. Call Connect to start it.
func New(cfg Config, logger *zap.Logger) (*Transport, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt transport: empty broker url")
	}
	if cfg.TenantID == "" || cfg.BuildingID == "" {
		return nil, errors.New("mqtt transport: tenant and building required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = defaultReconnect
	}

	t := newTransport(nil, cfg, logger)
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.Reconnect).
		SetMaxReconnectInterval(cfg.Reconnect).
		SetCleanSession(false).
		SetOnConnectHandler(func(paho.Client) {
			t.connected.Store(true)
			t.logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			t.connected.Store(false)
			t.logger.Warn("mqtt connection lost", zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	t.raw = paho.NewClient(opts)
	t.client = t.raw
	return t, nil
}

func newTransport(c client, cfg Config, logger *zap.Logger) *Transport {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTTL
	}
	return &Transport{
		client:  c,
		topics:  transport.TopicsFor(cfg.TenantID, cfg.BuildingID),
		timeout: timeout,
		logger:  logger,
	}
}

// Connect starts the client. With connect retry enabled it returns once the first attempt is queued.
func (t *Transport) Connect(ctx context.Context) error {
	if t.raw == nil {
		return errors.New("mqtt transport: no client")
	}
	token := t.raw.Connect()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.timeout):
		t.logger.Info("mqtt broker not reachable yet, retrying in background")
		return nil
	}
}

// Close disconnects from the broker.
func (t *Transport) Close() {
	if t.raw != nil {
		t.raw.Disconnect(disconnectQuiesce)
	}
	t.connected.Store(false)
}

// Name implements transport.Transport.
func (t *Transport) Name() string { return "mqtt" }

// IsConnected implements transport.Transport.
func (t *Transport) IsConnected() bool {
	if t.client == nil {
		return false
	}
	return t.connected.Load() && t.client.IsConnectionOpen()
}

// AttemptDeliver publishes the alert at QoS 1 and waits for the broker ack.
func (t *Transport) AttemptDeliver(ctx context.Context, rec alerting.AlertRecord) bool {
	if !t.IsConnected() {
		t.logger.Warn("mqtt not connected, cannot publish alert", zap.Uint32("alert_id", rec.AlertID))
		return false
	}
	if err := t.publish(ctx, t.topics.Alert, alertQoS, transport.NewAlertPayload(rec)); err != nil {
		t.logger.Warn("mqtt alert publish failed", zap.Uint32("alert_id", rec.AlertID), zap.Error(err))
		return false
	}
	t.logger.Info("mqtt alert published", zap.Uint32("alert_id", rec.AlertID), zap.String("topic", t.topics.Alert))
	return true
}

// PublishStatus implements transport.Reporter.
func (t *Transport) PublishStatus(ctx context.Context, status transport.DeviceStatus) error {
	status.Type = "STATUS"
	return t.publish(ctx, t.topics.Status, reportQoS, status)
}

// PublishHeartbeat implements transport.Reporter.
func (t *Transport) PublishHeartbeat(ctx context.Context, hb transport.Heartbeat) error {
	hb.Type = "HEARTBEAT"
	return t.publish(ctx, t.topics.Heartbeat, reportQoS, hb)
}

func (t *Transport) publish(ctx context.Context, topic string, qos byte, payload any) error {
	if !t.IsConnected() {
		return errors.New("mqtt transport: not connected")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := t.client.Publish(topic, qos, false, body)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.timeout):
		return fmt.Errorf("mqtt transport: publish to %s timed out", topic)
	}
}
