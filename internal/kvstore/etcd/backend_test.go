package etcd

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"safesignal-button/internal/kvstore"

	"github.com/google/uuid"
)

func TestBackendAgainstCluster(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}

	backend, err := Dial(strings.Split(endpoints, ","), "/safesignal-test/"+uuid.NewString())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ns, err := kvstore.NewStore(backend).Open(ctx, "alert_queue")
	if err != nil {
		t.Fatalf("open namespace: %v", err)
	}
	if _, err := ns.GetU32(ctx, "count"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("expected not found on first boot, got %v", err)
	}
	_ = ns.SetU32(ctx, "count", 1)
	_ = ns.SetBlob(ctx, "alert_0", []byte{9, 9})
	if err := ns.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	keys, err := backend.List(ctx, "alert_queue")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 || keys[0] != "alert_0" || keys[1] != "count" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestKeyLayout(t *testing.T) {
	backend := NewBackend(nil, "/devices/btn-1")
	if got := backend.key("alert_queue", "alert_3"); got != "/devices/btn-1/alert_queue/alert_3" {
		t.Fatalf("unexpected key %q", got)
	}
	if _, err := backend.Load(context.Background(), "ns", "k"); err == nil {
		t.Fatalf("expected error without client")
	}
}
