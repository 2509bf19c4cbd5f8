package kvstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// Namespace stages writes until Commit. Reads see staged writes first.
type Namespace struct {
	backend Backend
	name    string

	mu     sync.Mutex
	staged map[string]Write
	order  []string
}

func newNamespace(backend Backend, name string) *Namespace {
	return &Namespace{backend: backend, name: name, staged: make(map[string]Write)}
}

// Name returns the namespace name.
func (n *Namespace) Name() string {
	return n.name
}

// GetBlob returns the value for key or ErrNotFound.
func (n *Namespace) GetBlob(ctx context.Context, key string) ([]byte, error) {
	n.mu.Lock()
	w, ok := n.staged[key]
	n.mu.Unlock()
	if ok {
		if w.Erase {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.Value...), nil
	}
	return n.backend.Load(ctx, n.name, key)
}

// SetBlob stages a value.
func (n *Namespace) SetBlob(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("kvstore: empty key")
	}
	n.stage(Write{Key: key, Value: append([]byte(nil), value...)})
	return nil
}

// GetU32 returns a counter value or ErrNotFound.
func (n *Namespace) GetU32(ctx context.Context, key string) (uint32, error) {
	data, err := n.GetBlob(ctx, key)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("kvstore: %s/%s is not a u32", n.name, key)
	}
	return binary.LittleEndian.Uint32(data), nil
}

// SetU32 stages a counter value.
func (n *Namespace) SetU32(ctx context.Context, key string, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return n.SetBlob(ctx, key, buf[:])
}

// Erase stages a key removal.
func (n *Namespace) Erase(_ context.Context, key string) error {
	n.stage(Write{Key: key, Erase: true})
	return nil
}

// Commit makes staged writes durable. Staged writes are kept on failure.
func (n *Namespace) Commit(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.order) == 0 {
		return nil
	}
	writes := make([]Write, 0, len(n.order))
	for _, key := range n.order {
		writes = append(writes, n.staged[key])
	}
	if err := n.backend.Apply(ctx, n.name, writes); err != nil {
		return fmt.Errorf("kvstore: commit %s: %w", n.name, err)
	}
	n.staged = make(map[string]Write)
	n.order = nil
	return nil
}

// Keys returns the visible keys in sorted order.
func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	committed, err := n.backend.List(ctx, n.name)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(committed))
	for _, key := range committed {
		set[key] = true
	}
	n.mu.Lock()
	for key, w := range n.staged {
		set[key] = !w.Erase
	}
	n.mu.Unlock()
	keys := make([]string, 0, len(set))
	for key, ok := range set {
		if ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Pending returns the number of staged writes.
func (n *Namespace) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.order)
}

func (n *Namespace) stage(w Write) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.staged[w.Key]; !ok {
		n.order = append(n.order, w.Key)
	}
	n.staged[w.Key] = w
}
