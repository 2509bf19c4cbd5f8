package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"safesignal-button/internal/kvstore"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	defaultPrefix      = "/safesignal/kv/"
	defaultDialTimeout = 5 * time.Second
)

// Backend stores namespaced keys in etcd under prefix/<namespace>/<key>.
type Backend struct {
	client *clientv3.Client
	prefix string
	owned  bool
}

// Dial connects to the etcd cluster.
func Dial(endpoints []string, prefix string) (*Backend, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("etcd kv: no endpoints")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: defaultDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	backend := NewBackend(client, prefix)
	backend.owned = true
	return backend, nil
}

// NewBackend wraps an existing client.
func NewBackend(client *clientv3.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) key(namespace, key string) string {
	return b.prefix + namespace + "/" + key
}

// Load implements kvstore.Backend.
func (b *Backend) Load(ctx context.Context, namespace, key string) ([]byte, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("etcd kv: nil client")
	}
	resp, err := b.client.Get(ctx, b.key(namespace, key))
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", namespace, key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, kvstore.ErrNotFound
	}
	return resp.Kvs[0].Value, nil
}

// Apply implements kvstore.Backend as a single transaction.
func (b *Backend) Apply(ctx context.Context, namespace string, writes []kvstore.Write) error {
	if b == nil || b.client == nil {
		return errors.New("etcd kv: nil client")
	}
	ops := make([]clientv3.Op, 0, len(writes))
	for _, w := range writes {
		if w.Erase {
			ops = append(ops, clientv3.OpDelete(b.key(namespace, w.Key)))
			continue
		}
		ops = append(ops, clientv3.OpPut(b.key(namespace, w.Key), string(w.Value)))
	}
	resp, err := b.client.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return fmt.Errorf("txn %s: %w", namespace, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("txn %s: not applied", namespace)
	}
	return nil
}

// List implements kvstore.Backend.
func (b *Backend) List(ctx context.Context, namespace string) ([]string, error) {
	if b == nil || b.client == nil {
		return nil, errors.New("etcd kv: nil client")
	}
	prefix := b.prefix + namespace + "/"
	resp, err := b.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), prefix))
	}
	return keys, nil
}

// Close closes the client when Dial created it.
func (b *Backend) Close() error {
	if b == nil || b.client == nil || !b.owned {
		return nil
	}
	return b.client.Close()
}
