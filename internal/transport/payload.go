package transport

import (
	"fmt"

	alerting "safesignal-button/internal/alerting/domain"
)

// Origin marks alerts raised by a physical button.
const Origin = "ESP32"

// AlertPayload is the JSON body delivered to the gateway.
type AlertPayload struct {
	AlertID      string `json:"alertId"`
	DeviceID     string `json:"deviceId"`
	TenantID     string `json:"tenantId"`
	BuildingID   string `json:"buildingId"`
	SourceRoomID string `json:"sourceRoomId"`
	Mode         uint32 `json:"mode"`
	Origin       string `json:"origin"`
	Timestamp    uint32 `json:"timestamp"`
	Version      string `json:"version"`
	RetryCount   uint32 `json:"retryCount"`
}

// NewAlertPayload maps a record to its wire form. AlertID is stable across retries.
func NewAlertPayload(rec alerting.AlertRecord) AlertPayload {
	return AlertPayload{
		AlertID:      AlertKey(rec),
		DeviceID:     rec.DeviceID,
		TenantID:     rec.TenantID,
		BuildingID:   rec.BuildingID,
		SourceRoomID: rec.RoomID,
		Mode:         uint32(rec.Mode),
		Origin:       Origin,
		Timestamp:    rec.EventTimestamp,
		Version:      rec.FirmwareVersion,
		RetryCount:   rec.RetryCount,
	}
}

// AlertKey is the gateway-side deduplication key of a record.
func AlertKey(rec alerting.AlertRecord) string {
	return fmt.Sprintf("%s-%s-%d", Origin, rec.DeviceID, rec.AlertID)
}

// DeviceStatus is the periodic status report.
type DeviceStatus struct {
	DeviceID   string              `json:"deviceId"`
	TenantID   string              `json:"tenantId"`
	BuildingID string              `json:"buildingId"`
	RoomID     string              `json:"roomId"`
	Type       string              `json:"type"`
	Timestamp  uint32              `json:"timestamp"`
	Uptime     uint32              `json:"uptime"`
	HeapAlloc  uint64              `json:"heapAlloc"`
	Version    string              `json:"version"`
	Queue      alerting.QueueStats `json:"queue"`
	Throttled  bool                `json:"throttled"`
}

// Heartbeat is the liveness report.
type Heartbeat struct {
	DeviceID  string `json:"deviceId"`
	Type      string `json:"type"`
	Timestamp uint32 `json:"timestamp"`
}

// Topics holds the publish topics of one device.
type Topics struct {
	Alert     string
	Status    string
	Heartbeat string
}

// TopicsFor builds topics under safesignal/{tenant}/{building}.
func TopicsFor(tenantID, buildingID string) Topics {
	base := fmt.Sprintf("safesignal/%s/%s", tenantID, buildingID)
	return Topics{
		Alert:     base + "/alerts/trigger",
		Status:    base + "/device/status",
		Heartbeat: base + "/device/heartbeat",
	}
}
