package alerting

import "errors"

var (
	// ErrNotInitialized indicates an operation before Init.
	ErrNotInitialized = errors.New("alert queue: not initialized")
	// ErrQueueFull indicates every slot is occupied. The record is dropped.
	ErrQueueFull = errors.New("alert queue: queue full")
	// ErrInvalidRecord indicates a record that cannot be stored.
	ErrInvalidRecord = errors.New("alert queue: invalid record")
	// ErrCorruptRecord indicates a stored blob with an unexpected layout.
	ErrCorruptRecord = errors.New("alert queue: corrupt record")
)
