package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/clock"
	"safesignal-button/internal/kvstore"
	"safesignal-button/internal/observability/metrics"

	"go.uber.org/zap"
)

const (
	// DefaultNamespace holds the queue keys.
	DefaultNamespace = "alert_queue"

	keyCount       = "count"
	keyStats       = "stats"
	keyAlertPrefix = "alert_"
)

// Transport delivers alert records.
type Transport interface {
	IsConnected() bool
	// AttemptDeliver is a best-effort publish. It reports success only.
	AttemptDeliver(ctx context.Context, rec alerting.AlertRecord) bool
}

// Queue is the durable store-and-forward alert queue.
type Queue struct {
	opener    kvstore.Opener
	transport Transport
	clock     clock.Uptime
	namespace string
	logger    *zap.Logger

	mu          sync.Mutex
	ns          *kvstore.Namespace
	stats       alerting.QueueStats
	initialized bool

	// pending mirrors stats.PendingCount. It is written under mu and read without it.
	pending atomic.Uint32
}

// Option customizes the queue.
type Option func(*Queue)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithNamespace overrides the storage namespace.
func WithNamespace(namespace string) Option {
	return func(q *Queue) {
		if namespace != "" {
			q.namespace = namespace
		}
	}
}

// NewQueue constructs an uninitialized queue.
func NewQueue(opener kvstore.Opener, transport Transport, uptime clock.Uptime, opts ...Option) (*Queue, error) {
	if opener == nil {
		return nil, errors.New("alert queue: nil store")
	}
	if transport == nil {
		return nil, errors.New("alert queue: nil transport")
	}
	if uptime == nil {
		return nil, errors.New("alert queue: nil clock")
	}
	q := &Queue{
		opener:    opener,
		transport: transport,
		clock:     uptime,
		namespace: DefaultNamespace,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func slotKey(i int) string {
	return fmt.Sprintf("%s%d", keyAlertPrefix, i)
}

// Init opens the namespace and loads persisted counters. Calling it again is a no-op.
func (q *Queue) Init(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishPending()
	if q.initialized {
		return nil
	}

	ns, err := q.opener.Open(ctx, q.namespace)
	if err != nil {
		q.logger.Error("open queue namespace failed", zap.String("namespace", q.namespace), zap.Error(err))
		return fmt.Errorf("alert queue: open %s: %w", q.namespace, err)
	}

	stats := alerting.QueueStats{}
	data, err := ns.GetBlob(ctx, keyStats)
	switch {
	case errors.Is(err, kvstore.ErrNotFound):
	case err != nil:
		q.logger.Warn("load queue stats failed", zap.Error(err))
	default:
		if stats, err = alerting.UnmarshalStats(data); err != nil {
			q.logger.Warn("decode queue stats failed", zap.Error(err))
			stats = alerting.QueueStats{}
		}
	}

	count, err := ns.GetU32(ctx, keyCount)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		q.logger.Warn("load pending count failed", zap.Error(err))
		count = 0
	}
	stats.PendingCount = count

	q.ns = ns
	q.stats = stats
	q.initialized = true
	q.logger.Info("alert queue initialized", zap.Uint32("pending", count))
	return nil
}

// Enqueue durably stores rec in the first free slot.
func (q *Queue) Enqueue(ctx context.Context, rec alerting.AlertRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishPending()
	if !q.initialized {
		return alerting.ErrNotInitialized
	}
	if q.stats.PendingCount >= alerting.MaxSize {
		q.logger.Error("alert queue full", zap.Uint32("alert_id", rec.AlertID), zap.Int("max", alerting.MaxSize))
		metrics.IncEnqueueRejected("full")
		return alerting.ErrQueueFull
	}
	data, err := alerting.MarshalRecord(rec)
	if err != nil {
		metrics.IncEnqueueRejected("invalid")
		return err
	}

	arena := q.loadArena(ctx, false)
	slot, ok := arena.FirstFree()
	if !ok {
		q.logger.Error("no free slot", zap.Uint32("alert_id", rec.AlertID), zap.Uint32("pending", q.stats.PendingCount))
		metrics.IncEnqueueRejected("full")
		return alerting.ErrQueueFull
	}

	key := slotKey(slot)
	if err := q.ns.SetBlob(ctx, key, data); err != nil {
		metrics.IncStorageError("set")
		return fmt.Errorf("alert queue: store slot %d: %w", slot, err)
	}

	prev := q.stats
	q.stats.PendingCount++
	q.stats.TotalEnqueued++
	if err := q.persistCounters(ctx); err != nil {
		q.stats = prev
		_ = q.ns.Erase(ctx, key)
		if err := q.persistCounters(ctx); err != nil {
			q.logger.Warn("restore counters failed", zap.Error(err))
		}
		metrics.IncStorageError("commit")
		q.logger.Error("enqueue commit failed", zap.Uint32("alert_id", rec.AlertID), zap.Error(err))
		return fmt.Errorf("alert queue: commit: %w", err)
	}

	metrics.IncEnqueued()
	q.logger.Info("alert enqueued",
		zap.Uint32("alert_id", rec.AlertID),
		zap.Int("slot", slot),
		zap.Uint32("pending", q.stats.PendingCount),
	)
	return nil
}

// Process attempts delivery of every pending record and returns the number delivered.
// It does nothing while uninitialized, empty or offline, and always scans every slot.
func (q *Queue) Process(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.initialized || q.stats.PendingCount == 0 {
		return 0
	}
	if !q.transport.IsConnected() {
		q.logger.Debug("transport offline, skipping queue processing")
		return 0
	}

	start := time.Now()
	ctx = context.WithoutCancel(ctx)
	delivered := 0
	q.logger.Info("processing pending alerts", zap.Uint32("pending", q.stats.PendingCount))

	for i := 0; i < alerting.MaxSize; i++ {
		rec, ok := q.readSlot(ctx, i)
		if !ok {
			continue
		}
		now := clock.Seconds(q.clock)
		q.rebase(ctx, i, &rec, now)

		if rec.Expired(now) {
			q.logger.Warn("alert expired", zap.Uint32("alert_id", rec.AlertID), zap.Int("slot", i), zap.Uint32("age", rec.Age(now)))
			q.remove(ctx, i, alerting.OutcomeExpired)
			continue
		}
		if rec.RetriesExhausted() {
			q.logger.Error("alert exceeded retry limit", zap.Uint32("alert_id", rec.AlertID), zap.Int("slot", i), zap.Uint32("retries", rec.RetryCount))
			q.remove(ctx, i, alerting.OutcomeFailed)
			continue
		}

		q.logger.Info("attempting delivery", zap.Uint32("alert_id", rec.AlertID), zap.Uint32("retry", rec.RetryCount))
		ok = q.transport.AttemptDeliver(ctx, rec)
		metrics.IncDeliveryAttempt(ok)
		if ok {
			q.logger.Info("alert delivered", zap.Uint32("alert_id", rec.AlertID))
			q.remove(ctx, i, alerting.OutcomeDelivered)
			delivered++
			continue
		}

		q.logger.Warn("alert delivery failed", zap.Uint32("alert_id", rec.AlertID))
		rec.RetryCount++
		data, err := alerting.MarshalRecord(rec)
		if err == nil {
			err = q.ns.SetBlob(ctx, slotKey(i), data)
		}
		if err != nil {
			metrics.IncStorageError("set")
			q.logger.Warn("persist retry count failed", zap.Int("slot", i), zap.Error(err))
		}
	}

	if err := q.persistCounters(ctx); err != nil {
		metrics.IncStorageError("commit")
		q.logger.Warn("queue commit failed", zap.Error(err))
	}
	metrics.ObserveProcess(time.Since(start))
	q.logger.Info("processing complete", zap.Int("delivered", delivered), zap.Uint32("remaining", q.stats.PendingCount))
	return delivered
}

// CleanupExpired removes expired records regardless of connectivity.
func (q *Queue) CleanupExpired(ctx context.Context) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.publishPending()
	if !q.initialized {
		return 0
	}

	ctx = context.WithoutCancel(ctx)
	now := clock.Seconds(q.clock)
	removed := 0
	rebased := false
	for i := 0; i < alerting.MaxSize; i++ {
		rec, ok := q.readSlot(ctx, i)
		if !ok {
			continue
		}
		if q.rebase(ctx, i, &rec, now) {
			rebased = true
		}
		if !rec.Expired(now) {
			continue
		}
		if err := q.ns.Erase(ctx, slotKey(i)); err != nil {
			metrics.IncStorageError("erase")
			continue
		}
		q.stats.Remove(alerting.OutcomeExpired)
		q.publishPending()
		metrics.IncTerminal(string(alerting.OutcomeExpired))
		removed++
	}

	if removed > 0 || rebased {
		if err := q.persistCounters(ctx); err != nil {
			metrics.IncStorageError("commit")
			q.logger.Warn("cleanup commit failed", zap.Error(err))
		}
	}
	if removed > 0 {
		q.logger.Info("expired alerts removed", zap.Int("removed", removed))
	}
	return removed
}

// Count returns the in-memory pending count. It does not wait for a running Process scan.
func (q *Queue) Count() uint32 {
	return q.pending.Load()
}

// publishPending mirrors the pending count for Count. Callers hold mu.
func (q *Queue) publishPending() {
	q.pending.Store(q.stats.PendingCount)
}

// Stats returns a copy of the queue statistics.
func (q *Queue) Stats() (alerting.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.initialized {
		return alerting.QueueStats{}, alerting.ErrNotInitialized
	}
	return q.stats, nil
}

// Slots reads the slot arena. Unreadable slots are reported as occupied with a zero record.
func (q *Queue) Slots(ctx context.Context) (alerting.Arena, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.initialized {
		return alerting.Arena{}, alerting.ErrNotInitialized
	}
	return q.loadArena(ctx, true), nil
}

// loadArena probes every slot. Slots that fail to read are kept occupied so they are never overwritten.
func (q *Queue) loadArena(ctx context.Context, decode bool) alerting.Arena {
	var arena alerting.Arena
	for i := 0; i < alerting.MaxSize; i++ {
		data, err := q.ns.GetBlob(ctx, slotKey(i))
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			metrics.IncStorageError("get")
			q.logger.Warn("probe slot failed", zap.Int("slot", i), zap.Error(err))
			arena.Put(i, alerting.AlertRecord{})
			continue
		}
		rec := alerting.AlertRecord{}
		if decode {
			if decoded, err := alerting.UnmarshalRecord(data); err == nil {
				rec = decoded
			}
		}
		arena.Put(i, rec)
	}
	return arena
}

func (q *Queue) readSlot(ctx context.Context, i int) (alerting.AlertRecord, bool) {
	data, err := q.ns.GetBlob(ctx, slotKey(i))
	if errors.Is(err, kvstore.ErrNotFound) {
		return alerting.AlertRecord{}, false
	}
	if err != nil {
		metrics.IncStorageError("get")
		q.logger.Warn("read slot failed", zap.Int("slot", i), zap.Error(err))
		return alerting.AlertRecord{}, false
	}
	rec, err := alerting.UnmarshalRecord(data)
	if err != nil {
		metrics.IncStorageError("decode")
		q.logger.Warn("decode slot failed", zap.Int("slot", i), zap.Error(err))
		return alerting.AlertRecord{}, false
	}
	return rec, true
}

// rebase restarts the age of a record written during an earlier power cycle, whose
// creation uptime is ahead of the current uptime.
func (q *Queue) rebase(ctx context.Context, i int, rec *alerting.AlertRecord, now uint32) bool {
	if !rec.FromEarlierBoot(now) {
		return false
	}
	q.logger.Info("rebasing alert from earlier boot", zap.Uint32("alert_id", rec.AlertID), zap.Uint32("created", rec.CreatedAtUptime), zap.Uint32("now", now))
	rec.CreatedAtUptime = now
	data, err := alerting.MarshalRecord(*rec)
	if err == nil {
		err = q.ns.SetBlob(ctx, slotKey(i), data)
	}
	if err != nil {
		metrics.IncStorageError("set")
		q.logger.Warn("persist rebased alert failed", zap.Int("slot", i), zap.Error(err))
		return false
	}
	return true
}

// remove erases slot i and records a terminal outcome. Stats are staged with the erase.
func (q *Queue) remove(ctx context.Context, i int, outcome alerting.Outcome) {
	if err := q.ns.Erase(ctx, slotKey(i)); err != nil {
		metrics.IncStorageError("erase")
		q.logger.Warn("erase slot failed", zap.Int("slot", i), zap.Error(err))
		return
	}
	q.stats.Remove(outcome)
	q.publishPending()
	metrics.IncTerminal(string(outcome))
	if err := q.ns.SetBlob(ctx, keyStats, alerting.MarshalStats(q.stats)); err != nil {
		metrics.IncStorageError("set")
		q.logger.Warn("stage stats failed", zap.Error(err))
	}
}

func (q *Queue) persistCounters(ctx context.Context) error {
	if err := q.ns.SetU32(ctx, keyCount, q.stats.PendingCount); err != nil {
		return err
	}
	if err := q.ns.SetBlob(ctx, keyStats, alerting.MarshalStats(q.stats)); err != nil {
		return err
	}
	return q.ns.Commit(ctx)
}
