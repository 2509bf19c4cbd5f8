package device

import (
	"errors"
	"fmt"

	alerting "safesignal-button/internal/alerting/domain"
)

// FirmwareVersion is reported in alerts and status.
const FirmwareVersion = "1.0.0-alpha"

// Identity is the provisioned placement of a button.
type Identity struct {
	DeviceID        string
	TenantID        string
	BuildingID      string
	RoomID          string
	Mode            alerting.Mode
	FirmwareVersion string
}

// Validate checks that the identity fits an alert record.
func (id Identity) Validate() error {
	fields := map[string]string{
		"device id":   id.DeviceID,
		"tenant id":   id.TenantID,
		"building id": id.BuildingID,
		"room id":     id.RoomID,
	}
	for name, value := range fields {
		if value == "" {
			return fmt.Errorf("device: empty %s", name)
		}
		if len(value) > alerting.MaxIDLen {
			return fmt.Errorf("device: %s longer than %d bytes", name, alerting.MaxIDLen)
		}
	}
	if len(id.FirmwareVersion) > alerting.MaxVersionLen {
		return errors.New("device: firmware version too long")
	}
	if !id.Mode.Valid() {
		return fmt.Errorf("device: invalid mode %d", id.Mode)
	}
	return nil
}

// NewRecord builds the record for a new alert.
func (id Identity) NewRecord(alertID, eventTimestamp, uptime uint32, mode alerting.Mode) alerting.AlertRecord {
	version := id.FirmwareVersion
	if version == "" {
		version = FirmwareVersion
	}
	return alerting.AlertRecord{
		AlertID:         alertID,
		EventTimestamp:  eventTimestamp,
		CreatedAtUptime: uptime,
		DeviceID:        id.DeviceID,
		TenantID:        id.TenantID,
		BuildingID:      id.BuildingID,
		RoomID:          id.RoomID,
		Mode:            mode,
		FirmwareVersion: version,
	}
}
