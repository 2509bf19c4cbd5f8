package alerting

// QueueStats holds cumulative queue counters.
type QueueStats struct {
	TotalEnqueued  uint32 `json:"total_enqueued"`
	TotalDelivered uint32 `json:"total_delivered"`
	TotalExpired   uint32 `json:"total_expired"`
	TotalFailed    uint32 `json:"total_failed"`
	// PendingCount equals the number of occupied slots.
	PendingCount uint32 `json:"pending_count"`
}

// Outcome is a terminal record outcome.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeExpired   Outcome = "expired"
	OutcomeFailed    Outcome = "failed"
)

// Remove applies one terminal outcome to the counters.
func (s *QueueStats) Remove(outcome Outcome) {
	if s.PendingCount > 0 {
		s.PendingCount--
	}
	switch outcome {
	case OutcomeDelivered:
		s.TotalDelivered++
	case OutcomeExpired:
		s.TotalExpired++
	case OutcomeFailed:
		s.TotalFailed++
	}
}
