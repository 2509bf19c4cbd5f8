package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	alerting "safesignal-button/internal/alerting/domain"
)

type stubTransport struct {
	name      string
	connected bool
	ok        bool
	attempts  int
	statusErr error
	statuses  int
}

func (s *stubTransport) Name() string      { return s.name }
func (s *stubTransport) IsConnected() bool { return s.connected }
func (s *stubTransport) AttemptDeliver(context.Context, alerting.AlertRecord) bool {
	s.attempts++
	return s.ok
}

type stubReporter struct {
	stubTransport
}

func (s *stubReporter) PublishStatus(context.Context, DeviceStatus) error {
	s.statuses++
	return s.statusErr
}

func (s *stubReporter) PublishHeartbeat(context.Context, Heartbeat) error {
	return s.statusErr
}

func TestFailoverSkipsOfflineAndFailing(t *testing.T) {
	offline := &stubTransport{name: "mqtt", connected: false, ok: true}
	failing := &stubTransport{name: "ws", connected: true, ok: false}
	working := &stubTransport{name: "webhook", connected: true, ok: true}
	f := NewFailover(offline, nil, failing, working)

	if !f.IsConnected() {
		t.Fatalf("expected connected")
	}
	if !f.AttemptDeliver(context.Background(), alerting.AlertRecord{AlertID: 1}) {
		t.Fatalf("expected delivery through webhook")
	}
	if offline.attempts != 0 || failing.attempts != 1 || working.attempts != 1 {
		t.Fatalf("unexpected attempts: %d %d %d", offline.attempts, failing.attempts, working.attempts)
	}
	conn := f.Connectivity()
	if conn["mqtt"] || !conn["ws"] || !conn["webhook"] {
		t.Fatalf("unexpected connectivity: %v", conn)
	}
}

func TestFailoverAllOffline(t *testing.T) {
	f := NewFailover(&stubTransport{name: "mqtt"})
	if f.IsConnected() {
		t.Fatalf("expected offline")
	}
	if f.AttemptDeliver(context.Background(), alerting.AlertRecord{}) {
		t.Fatalf("expected failed delivery")
	}
}

func TestFailoverReportsThroughReporters(t *testing.T) {
	plain := &stubTransport{name: "webhook", connected: true, ok: true}
	broken := &stubReporter{stubTransport{name: "ws", connected: true}}
	broken.statusErr = errors.New("socket closed")
	mqtt := &stubReporter{stubTransport{name: "mqtt", connected: true}}
	f := NewFailover(plain, broken, mqtt)

	if err := f.PublishStatus(context.Background(), DeviceStatus{}); err != nil {
		t.Fatalf("publish status: %v", err)
	}
	if broken.statuses != 1 || mqtt.statuses != 1 {
		t.Fatalf("expected fallback to mqtt reporter")
	}

	if err := NewFailover(plain).PublishHeartbeat(context.Background(), Heartbeat{}); !errors.Is(err, ErrNoReporter) {
		t.Fatalf("expected no reporter, got %v", err)
	}
}

func TestAlertPayload(t *testing.T) {
	rec := alerting.AlertRecord{
		AlertID:         17,
		EventTimestamp:  1760000000,
		RetryCount:      2,
		DeviceID:        "btn-001",
		TenantID:        "tenant-a",
		BuildingID:      "building-1",
		RoomID:          "room-101",
		Mode:            alerting.ModeLockdown,
		FirmwareVersion: "1.0.0-alpha",
	}
	raw, err := json.Marshal(NewAlertPayload(rec))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["alertId"] != "ESP32-btn-001-17" {
		t.Fatalf("unexpected alert id %v", decoded["alertId"])
	}
	if decoded["sourceRoomId"] != "room-101" || decoded["origin"] != "ESP32" || decoded["mode"] != float64(2) {
		t.Fatalf("unexpected payload %s", raw)
	}

	rec.RetryCount = 5
	if AlertKey(rec) != "ESP32-btn-001-17" {
		t.Fatalf("alert key must not depend on retries")
	}
}

func TestTopics(t *testing.T) {
	topics := TopicsFor("tenant-a", "building-1")
	if topics.Alert != "safesignal/tenant-a/building-1/alerts/trigger" {
		t.Fatalf("unexpected alert topic %s", topics.Alert)
	}
	if topics.Status != "safesignal/tenant-a/building-1/device/status" {
		t.Fatalf("unexpected status topic %s", topics.Status)
	}
	if topics.Heartbeat != "safesignal/tenant-a/building-1/device/heartbeat" {
		t.Fatalf("unexpected heartbeat topic %s", topics.Heartbeat)
	}
}
