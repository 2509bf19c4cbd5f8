package memory

import (
	"context"
	"sort"
	"sync"

	"safesignal-button/internal/kvstore"
)

// Backend is an in-process kvstore backend. Only committed writes are held.
type Backend struct {
	mu         sync.RWMutex
	data       map[string]map[string][]byte
	loadErrs   map[string]error
	applyErr   error
	applyCount int
}

// NewBackend constructs an empty backend.
func NewBackend() *Backend {
	return &Backend{
		data:     make(map[string]map[string][]byte),
		loadErrs: make(map[string]error),
	}
}

// Load implements kvstore.Backend.
func (b *Backend) Load(_ context.Context, namespace, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.loadErrs[namespace+"/"+key]; err != nil {
		return nil, err
	}
	value, ok := b.data[namespace][key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Apply implements kvstore.Backend.
func (b *Backend) Apply(_ context.Context, namespace string, writes []kvstore.Write) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.applyErr != nil {
		return b.applyErr
	}
	ns := b.data[namespace]
	if ns == nil {
		ns = make(map[string][]byte)
		b.data[namespace] = ns
	}
	for _, w := range writes {
		if w.Erase {
			delete(ns, w.Key)
			continue
		}
		ns[w.Key] = append([]byte(nil), w.Value...)
	}
	b.applyCount++
	return nil
}

// List implements kvstore.Backend.
func (b *Backend) List(_ context.Context, namespace string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.data[namespace]))
	for key := range b.data[namespace] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements kvstore.Backend.
func (b *Backend) Close() error { return nil }

// FailLoad makes reads of namespace/key return err. A nil err clears it.
func (b *Backend) FailLoad(namespace, key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.loadErrs, namespace+"/"+key)
		return
	}
	b.loadErrs[namespace+"/"+key] = err
}

// FailApply makes commits return err. A nil err clears it.
func (b *Backend) FailApply(err error) {
	b.mu.Lock()
	b.applyErr = err
	b.mu.Unlock()
}

// Commits returns the number of successful commits.
func (b *Backend) Commits() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.applyCount
}
