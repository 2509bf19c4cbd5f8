package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"safesignal-button/internal/kvstore"
	"safesignal-button/internal/observability/metrics"

	"go.uber.org/zap"
)

const (
	// SequenceNamespace holds device-level counters.
	SequenceNamespace = "device"
	keySequence       = "seq"
)

// Sequence hands out alert ids that survive restarts.
type Sequence struct {
	opener kvstore.Opener
	logger *zap.Logger

	mu   sync.Mutex
	ns   *kvstore.Namespace
	last uint32
}

// NewSequence constructs a sequence over the device namespace.
func NewSequence(opener kvstore.Opener, logger *zap.Logger) (*Sequence, error) {
	if opener == nil {
		return nil, errors.New("sequence: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequence{opener: opener, logger: logger}, nil
}

// Next returns the next alert id. An id is issued only once its commit succeeds, so a
// restart can never hand out an id that is already queued. A failed commit burns the id;
// the value stays staged and is committed with the next write.
func (s *Sequence) Next(ctx context.Context) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ns == nil {
		ns, err := s.opener.Open(ctx, SequenceNamespace)
		if err != nil {
			return 0, fmt.Errorf("sequence: open: %w", err)
		}
		last, err := ns.GetU32(ctx, keySequence)
		if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return 0, fmt.Errorf("sequence: load: %w", err)
		}
		s.ns = ns
		s.last = last
	}

	s.last++
	if s.last == 0 {
		s.last = 1
	}
	if err := s.ns.SetU32(ctx, keySequence, s.last); err != nil {
		return 0, err
	}
	if err := s.ns.Commit(ctx); err != nil {
		metrics.IncStorageError("sequence_commit")
		s.logger.Warn("persist alert sequence failed", zap.Uint32("seq", s.last), zap.Error(err))
		return 0, fmt.Errorf("sequence: commit %d: %w", s.last, err)
	}
	return s.last, nil
}
