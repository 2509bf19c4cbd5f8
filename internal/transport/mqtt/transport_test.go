package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/transport"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic string
	qos   byte
	body  []byte
}

type fakeClient struct {
	open bool
	err  error
	hang bool
	sent []published
}

func (c *fakeClient) IsConnectionOpen() bool { return c.open }

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, body: payload.([]byte)})
	if c.hang {
		return &fakeToken{done: make(chan struct{})}
	}
	return completedToken(c.err)
}

func newTestTransport(c *fakeClient) *Transport {
	tr := newTransport(c, Config{TenantID: "tenant-a", BuildingID: "building-1", PublishTimeout: 50 * time.Millisecond}, zap.NewNop())
	tr.connected.Store(true)
	return tr
}

func TestAttemptDeliverPublishesQoS1(t *testing.T) {
	c := &fakeClient{open: true}
	tr := newTestTransport(c)

	rec := alerting.AlertRecord{AlertID: 4, DeviceID: "btn-1", TenantID: "tenant-a", BuildingID: "building-1", RoomID: "r1", Mode: alerting.ModeAudible}
	if !tr.AttemptDeliver(context.Background(), rec) {
		t.Fatalf("expected delivery")
	}
	if len(c.sent) != 1 {
		t.Fatalf("expected one publish, got %d", len(c.sent))
	}
	msg := c.sent[0]
	if msg.topic != "safesignal/tenant-a/building-1/alerts/trigger" || msg.qos != 1 {
		t.Fatalf("unexpected publish %s qos=%d", msg.topic, msg.qos)
	}
	var payload transport.AlertPayload
	if err := json.Unmarshal(msg.body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.AlertID != "ESP32-btn-1-4" || payload.SourceRoomID != "r1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAttemptDeliverFailures(t *testing.T) {
	offline := newTestTransport(&fakeClient{open: false})
	if offline.IsConnected() || offline.AttemptDeliver(context.Background(), alerting.AlertRecord{}) {
		t.Fatalf("closed connection must not deliver")
	}

	rejected := newTestTransport(&fakeClient{open: true, err: errors.New("not authorized")})
	if rejected.AttemptDeliver(context.Background(), alerting.AlertRecord{}) {
		t.Fatalf("broker error must fail delivery")
	}

	slow := newTestTransport(&fakeClient{open: true, hang: true})
	if slow.AttemptDeliver(context.Background(), alerting.AlertRecord{}) {
		t.Fatalf("unacknowledged publish must fail delivery")
	}
}

func TestReportsUseQoS0(t *testing.T) {
	c := &fakeClient{open: true}
	tr := newTestTransport(c)
	if err := tr.PublishStatus(context.Background(), transport.DeviceStatus{DeviceID: "btn-1"}); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	if err := tr.PublishHeartbeat(context.Background(), transport.Heartbeat{DeviceID: "btn-1"}); err != nil {
		t.Fatalf("publish heartbeat: %v", err)
	}
	if len(c.sent) != 2 || c.sent[0].qos != 0 || c.sent[1].qos != 0 {
		t.Fatalf("unexpected publishes %+v", c.sent)
	}
	var status transport.DeviceStatus
	if err := json.Unmarshal(c.sent[0].body, &status); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if status.Type != "STATUS" || c.sent[1].topic != "safesignal/tenant-a/building-1/device/heartbeat" {
		t.Fatalf("unexpected reports %+v", c.sent)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{TenantID: "t", BuildingID: "b"}, nil); err == nil {
		t.Fatalf("expected error for empty broker")
	}
	if _, err := New(Config{BrokerURL: "tcp://localhost:1883"}, nil); err == nil {
		t.Fatalf("expected error for missing topics scope")
	}
	tr, err := New(Config{BrokerURL: "tcp://localhost:1883", ClientID: "btn-1", TenantID: "t", BuildingID: "b"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if tr.IsConnected() {
		t.Fatalf("new transport must start disconnected")
	}
}
