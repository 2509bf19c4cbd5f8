package alerting

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	idField      = MaxIDLen + 1
	versionField = MaxVersionLen + 1

	// RecordSize is the stored size of an AlertRecord.
	RecordSize = 4*4 + 4*idField + 4 + versionField
	// StatsSize is the stored size of QueueStats.
	StatsSize = 5 * 4
)

var le = binary.LittleEndian

// MarshalRecord encodes rec into its fixed stored layout.
func MarshalRecord(rec AlertRecord) ([]byte, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, RecordSize)
	le.PutUint32(buf[0:], rec.AlertID)
	le.PutUint32(buf[4:], rec.EventTimestamp)
	le.PutUint32(buf[8:], rec.RetryCount)
	le.PutUint32(buf[12:], rec.CreatedAtUptime)
	off := 16
	for _, s := range []string{rec.DeviceID, rec.TenantID, rec.BuildingID, rec.RoomID} {
		copy(buf[off:off+idField], s)
		off += idField
	}
	le.PutUint32(buf[off:], uint32(rec.Mode))
	off += 4
	copy(buf[off:off+versionField], rec.FirmwareVersion)
	return buf, nil
}

// UnmarshalRecord decodes a stored record.
func UnmarshalRecord(data []byte) (AlertRecord, error) {
	if len(data) != RecordSize {
		return AlertRecord{}, fmt.Errorf("%w: size %d", ErrCorruptRecord, len(data))
	}
	rec := AlertRecord{
		AlertID:         le.Uint32(data[0:]),
		EventTimestamp:  le.Uint32(data[4:]),
		RetryCount:      le.Uint32(data[8:]),
		CreatedAtUptime: le.Uint32(data[12:]),
	}
	off := 16
	ids := make([]string, 4)
	for i := range ids {
		ids[i] = cString(data[off : off+idField])
		off += idField
	}
	rec.DeviceID, rec.TenantID, rec.BuildingID, rec.RoomID = ids[0], ids[1], ids[2], ids[3]
	rec.Mode = Mode(le.Uint32(data[off:]))
	off += 4
	rec.FirmwareVersion = cString(data[off : off+versionField])
	if !rec.Mode.Valid() {
		return AlertRecord{}, fmt.Errorf("%w: %s", ErrCorruptRecord, rec.Mode)
	}
	return rec, nil
}

// MarshalStats encodes stats into its fixed stored layout.
func MarshalStats(s QueueStats) []byte {
	buf := make([]byte, StatsSize)
	le.PutUint32(buf[0:], s.TotalEnqueued)
	le.PutUint32(buf[4:], s.TotalDelivered)
	le.PutUint32(buf[8:], s.TotalExpired)
	le.PutUint32(buf[12:], s.TotalFailed)
	le.PutUint32(buf[16:], s.PendingCount)
	return buf
}

// UnmarshalStats decodes stored stats.
func UnmarshalStats(data []byte) (QueueStats, error) {
	if len(data) != StatsSize {
		return QueueStats{}, fmt.Errorf("%w: stats size %d", ErrCorruptRecord, len(data))
	}
	return QueueStats{
		TotalEnqueued:  le.Uint32(data[0:]),
		TotalDelivered: le.Uint32(data[4:]),
		TotalExpired:   le.Uint32(data[8:]),
		TotalFailed:    le.Uint32(data[12:]),
		PendingCount:   le.Uint32(data[16:]),
	}, nil
}

func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}
