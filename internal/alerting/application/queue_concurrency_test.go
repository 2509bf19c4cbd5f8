package application

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/clock"
	"safesignal-button/internal/kvstore"
	"safesignal-button/internal/kvstore/memory"
)

// everyThirdTransport is always connected and delivers on every third attempt.
type everyThirdTransport struct {
	calls atomic.Int64
}

func (e *everyThirdTransport) IsConnected() bool { return true }

func (e *everyThirdTransport) AttemptDeliver(context.Context, alerting.AlertRecord) bool {
	return e.calls.Add(1)%3 == 0
}

// gatedTransport blocks every attempt until release is closed.
type gatedTransport struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedTransport) IsConnected() bool { return true }

func (g *gatedTransport) AttemptDeliver(context.Context, alerting.AlertRecord) bool {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return true
}

func checkAccounting(t *testing.T, q *Queue) alerting.QueueStats {
	t.Helper()
	stats := mustStats(t, q)
	arena, err := q.Slots(context.Background())
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if int(q.Count()) != arena.Len() || stats.PendingCount != q.Count() {
		t.Fatalf("pending drifted: count=%d stats=%d occupied=%d", q.Count(), stats.PendingCount, arena.Len())
	}
	terminal := stats.TotalDelivered + stats.TotalFailed + stats.TotalExpired
	if stats.TotalEnqueued != terminal+stats.PendingCount {
		t.Fatalf("unbalanced stats %+v", stats)
	}
	return stats
}

func TestConcurrentEnqueueProcessCleanupKeepsAccounting(t *testing.T) {
	const (
		enqueuers  = 4
		perWorker  = 30
		processors = 4
	)
	backend := memory.NewBackend()
	uptime := clock.NewManual(100 * time.Second)
	queue, err := NewQueue(kvstore.NewStore(backend), &everyThirdTransport{}, uptime)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	if err := queue.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	var (
		producers sync.WaitGroup
		workers   sync.WaitGroup
		done      atomic.Bool
	)
	for w := 0; w < enqueuers; w++ {
		producers.Add(1)
		go func(w int) {
			defer producers.Done()
			for i := 0; i < perWorker; i++ {
				rec := record(uint32(w*perWorker+i+1), 100)
				for {
					err := queue.Enqueue(ctx, rec)
					if err == nil {
						break
					}
					if !errors.Is(err, alerting.ErrQueueFull) {
						t.Errorf("enqueue %d: %v", rec.AlertID, err)
						return
					}
					runtime.Gosched()
				}
			}
		}(w)
	}
	for p := 0; p < processors; p++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for !done.Load() {
				queue.Process(ctx)
				queue.CleanupExpired(ctx)
				if n := queue.Count(); n > alerting.MaxSize {
					t.Errorf("pending %d exceeds capacity", n)
					return
				}
			}
		}()
	}

	producers.Wait()
	done.Store(true)
	workers.Wait()
	if t.Failed() {
		return
	}

	stats := checkAccounting(t, queue)
	if stats.TotalEnqueued != enqueuers*perWorker {
		t.Fatalf("expected %d enqueued, got %d", enqueuers*perWorker, stats.TotalEnqueued)
	}

	restarted, err := NewQueue(kvstore.NewStore(backend), &everyThirdTransport{}, uptime)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if err := restarted.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if restarted.Count() != queue.Count() {
		t.Fatalf("persisted pending %d, in memory %d", restarted.Count(), queue.Count())
	}

	for i := 0; i < 2*alerting.MaxRetries && queue.Count() > 0; i++ {
		queue.Process(ctx)
	}
	stats = checkAccounting(t, queue)
	if stats.PendingCount != 0 {
		t.Fatalf("queue must drain, stats %+v", stats)
	}
}

func TestCountDoesNotWaitForProcess(t *testing.T) {
	gate := &gatedTransport{entered: make(chan struct{}), release: make(chan struct{})}
	queue, err := NewQueue(kvstore.NewStore(memory.NewBackend()), gate, clock.NewManual(100*time.Second))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	if err := queue.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for id := uint32(1); id <= 3; id++ {
		if err := queue.Enqueue(ctx, record(id, 100)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	finished := make(chan int, 1)
	go func() { finished <- queue.Process(ctx) }()
	<-gate.entered

	counted := make(chan uint32, 1)
	go func() { counted <- queue.Count() }()
	select {
	case n := <-counted:
		if n != 3 {
			t.Fatalf("expected 3 pending during the scan, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("Count blocked behind a running Process")
	}

	close(gate.release)
	if got := <-finished; got != 3 {
		t.Fatalf("expected 3 delivered, got %d", got)
	}
	if queue.Count() != 0 {
		t.Fatalf("expected empty queue, got %d", queue.Count())
	}
}
