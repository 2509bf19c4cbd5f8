package alerting

import "fmt"

const (
	// MaxSize is the number of persistent slots.
	MaxSize = 50
	// MaxRetries is the delivery attempt budget per record.
	MaxRetries = 10
	// ExpirySeconds is the maximum record age in uptime seconds.
	ExpirySeconds = 3600

	// MaxIDLen bounds device, tenant, building and room identifiers.
	MaxIDLen = 31
	// MaxVersionLen bounds the firmware version string.
	MaxVersionLen = 15
)

// Mode is the alert mode requested by the device.
type Mode uint32

const (
	ModeSilent Mode = iota
	ModeAudible
	ModeLockdown
	ModeEvacuation
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m <= ModeEvacuation
}

func (m Mode) String() string {
	switch m {
	case ModeSilent:
		return "silent"
	case ModeAudible:
		return "audible"
	case ModeLockdown:
		return "lockdown"
	case ModeEvacuation:
		return "evacuation"
	default:
		return fmt.Sprintf("mode(%d)", uint32(m))
	}
}

// ParseMode maps a config name to a mode.
func ParseMode(value string) (Mode, error) {
	switch value {
	case "silent":
		return ModeSilent, nil
	case "", "audible":
		return ModeAudible, nil
	case "lockdown":
		return ModeLockdown, nil
	case "evacuation":
		return ModeEvacuation, nil
	}
	return 0, fmt.Errorf("alert queue: unknown mode %q", value)
}

// AlertRecord is one pending alert.
type AlertRecord struct {
	AlertID uint32
	// EventTimestamp is UTC seconds at creation, 0 when the clock was unsynced.
	EventTimestamp uint32
	RetryCount     uint32
	// CreatedAtUptime is seconds since boot at creation.
	CreatedAtUptime uint32

	DeviceID   string
	TenantID   string
	BuildingID string
	RoomID     string

	Mode            Mode
	FirmwareVersion string
}

// Validate checks string bounds and mode.
func (r AlertRecord) Validate() error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"device_id", r.DeviceID, MaxIDLen},
		{"tenant_id", r.TenantID, MaxIDLen},
		{"building_id", r.BuildingID, MaxIDLen},
		{"room_id", r.RoomID, MaxIDLen},
		{"firmware_version", r.FirmwareVersion, MaxVersionLen},
	}
	for _, f := range fields {
		if len(f.value) > f.max {
			return fmt.Errorf("%w: %s longer than %d bytes", ErrInvalidRecord, f.name, f.max)
		}
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, r.Mode)
	}
	return nil
}

// Age returns the record age in seconds at uptime now.
func (r AlertRecord) Age(now uint32) uint32 {
	return now - r.CreatedAtUptime
}

// FromEarlierBoot reports whether the record was created in a previous power cycle
// that ran longer than the current one. The queue rebases such records to the current
// uptime instead of letting the unsigned age wrap around and expire them at once.
func (r AlertRecord) FromEarlierBoot(now uint32) bool {
	return r.CreatedAtUptime > now
}

// Expired reports whether the record is older than ExpirySeconds at uptime now.
func (r AlertRecord) Expired(now uint32) bool {
	return r.Age(now) > ExpirySeconds
}

// RetriesExhausted reports whether the retry budget is spent.
func (r AlertRecord) RetriesExhausted() bool {
	return r.RetryCount >= MaxRetries
}
