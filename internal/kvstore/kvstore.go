package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned for keys that were never written or were erased.
var ErrNotFound = errors.New("kvstore: not found")

// Backend is committed, power-loss-safe storage for namespaced keys.
type Backend interface {
	// Load returns the committed value or ErrNotFound.
	Load(ctx context.Context, namespace, key string) ([]byte, error)
	// Apply commits every write atomically.
	Apply(ctx context.Context, namespace string, writes []Write) error
	// List returns committed keys in the namespace.
	List(ctx context.Context, namespace string) ([]string, error)
	Close() error
}

// Write is one staged mutation.
type Write struct {
	Key   string
	Value []byte
	Erase bool
}

// Opener opens namespaces.
type Opener interface {
	Open(ctx context.Context, namespace string) (*Namespace, error)
}

// Store opens namespaces over a backend.
type Store struct {
	backend Backend
}

// NewStore constructs a store.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Open returns a namespace handle with its own staging area.
func (s *Store) Open(ctx context.Context, namespace string) (*Namespace, error) {
	if s == nil || s.backend == nil {
		return nil, errors.New("kvstore: nil backend")
	}
	if namespace == "" {
		return nil, errors.New("kvstore: empty namespace")
	}
	if _, err := s.backend.List(ctx, namespace); err != nil {
		return nil, err
	}
	return newNamespace(s.backend, namespace), nil
}

// Close closes the backend.
func (s *Store) Close() error {
	if s == nil || s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
