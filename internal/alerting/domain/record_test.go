package alerting

import (
	"errors"
	"strings"
	"testing"
)

func sampleRecord() AlertRecord {
	return AlertRecord{
		AlertID:         7,
		EventTimestamp:  1760000000,
		RetryCount:      3,
		CreatedAtUptime: 120,
		DeviceID:        strings.Repeat("d", MaxIDLen),
		TenantID:        "tenant-a",
		BuildingID:      "building-1",
		RoomID:          "room-101",
		Mode:            ModeLockdown,
		FirmwareVersion: "1.0.0-alpha",
	}
}

func TestRecordLayoutIsFixedSize(t *testing.T) {
	rec := sampleRecord()
	data, err := MarshalRecord(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(data) != RecordSize {
		t.Fatalf("expected %d bytes, got %d", RecordSize, len(data))
	}
	decoded, err := UnmarshalRecord(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != rec {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, rec)
	}
}

func TestRecordRejectsOverlongFields(t *testing.T) {
	rec := sampleRecord()
	rec.RoomID = strings.Repeat("r", MaxIDLen+1)
	if _, err := MarshalRecord(rec); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}

	rec = sampleRecord()
	rec.FirmwareVersion = strings.Repeat("v", MaxVersionLen+1)
	if err := rec.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected invalid record, got %v", err)
	}

	rec = sampleRecord()
	rec.Mode = Mode(9)
	if err := rec.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
}

func TestUnmarshalRejectsWrongSize(t *testing.T) {
	if _, err := UnmarshalRecord(make([]byte, RecordSize-1)); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected corrupt record, got %v", err)
	}
	if _, err := UnmarshalStats([]byte{1, 2, 3}); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected corrupt stats, got %v", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	rec := AlertRecord{CreatedAtUptime: 100}
	if rec.Expired(100 + ExpirySeconds) {
		t.Fatalf("age equal to expiry must not expire")
	}
	if !rec.Expired(100 + ExpirySeconds + 1) {
		t.Fatalf("age above expiry must expire")
	}
}

func TestArenaFirstFreeAscending(t *testing.T) {
	var arena Arena
	arena.Put(0, AlertRecord{AlertID: 1})
	arena.Put(1, AlertRecord{AlertID: 2})
	arena.Put(3, AlertRecord{AlertID: 3})

	idx, ok := arena.FirstFree()
	if !ok || idx != 2 {
		t.Fatalf("expected slot 2, got %d ok=%v", idx, ok)
	}

	arena.Clear(0)
	idx, _ = arena.FirstFree()
	if idx != 0 {
		t.Fatalf("expected freed slot 0 to be reused, got %d", idx)
	}

	for i := range arena {
		arena.Put(i, AlertRecord{AlertID: uint32(i)})
	}
	if _, ok := arena.FirstFree(); ok {
		t.Fatalf("expected full arena")
	}
	if arena.Len() != MaxSize {
		t.Fatalf("expected %d occupied, got %d", MaxSize, arena.Len())
	}
}

func TestStatsRemove(t *testing.T) {
	stats := QueueStats{PendingCount: 3}
	stats.Remove(OutcomeDelivered)
	stats.Remove(OutcomeExpired)
	stats.Remove(OutcomeFailed)
	if stats.PendingCount != 0 || stats.TotalDelivered != 1 || stats.TotalExpired != 1 || stats.TotalFailed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	stats.Remove(OutcomeDelivered)
	if stats.PendingCount != 0 {
		t.Fatalf("pending count must not underflow")
	}
}
