package device

// Reason explains a trigger outcome.
type Reason string

const (
	ReasonQueued       Reason = "queued"
	ReasonDirect       Reason = "delivered_direct"
	ReasonMinInterval  Reason = "min_interval"
	ReasonRateLimited  Reason = "rate_limited"
	ReasonQueueFull    Reason = "queue_full"
	ReasonStorageError Reason = "storage_error"
	ReasonInvalid      Reason = "invalid"
)

// Outcome is the result of one trigger.
type Outcome struct {
	Admitted bool   `json:"admitted"`
	Reason   Reason `json:"reason"`
	AlertID  uint32 `json:"alertId,omitempty"`
	AlertKey string `json:"alertKey,omitempty"`
}
