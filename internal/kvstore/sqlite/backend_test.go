package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"safesignal-button/internal/kvstore"
)

func TestCommittedValuesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	backend, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ns, err := kvstore.NewStore(backend).Open(ctx, "alert_queue")
	if err != nil {
		t.Fatalf("open namespace: %v", err)
	}
	if err := ns.SetBlob(ctx, "alert_0", []byte{0, 1, 2, 3}); err != nil {
		t.Fatalf("set blob: %v", err)
	}
	if err := ns.SetU32(ctx, "count", 1); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if err := ns.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := ns.SetU32(ctx, "count", 99); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	ns, err = kvstore.NewStore(reopened).Open(ctx, "alert_queue")
	if err != nil {
		t.Fatalf("open namespace: %v", err)
	}
	count, err := ns.GetU32(ctx, "count")
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d err=%v", count, err)
	}
	blob, err := ns.GetBlob(ctx, "alert_0")
	if err != nil || len(blob) != 4 || blob[3] != 3 {
		t.Fatalf("unexpected blob %v err=%v", blob, err)
	}
	keys, err := ns.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "alert_0" || keys[1] != "count" {
		t.Fatalf("unexpected keys: %v", keys)
	}

	if err := ns.Erase(ctx, "alert_0"); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := ns.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := reopened.Load(ctx, "alert_queue", "alert_0"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer backend.Close()

	if err := backend.Apply(ctx, "a", []kvstore.Write{{Key: "seq", Value: []byte{1, 0, 0, 0}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := backend.Load(ctx, "b", "seq"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected not found in other namespace, got %v", err)
	}
}
