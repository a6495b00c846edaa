package state

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ============================================================================
// Unit tests that don't require a NATS server
// ============================================================================

func TestDefaultNATSStoreConfig(t *testing.T) {
	cfg := DefaultNATSStoreConfig()

	if cfg.Bucket != "sketchlink" {
		t.Errorf("expected bucket 'sketchlink', got %s", cfg.Bucket)
	}
	if cfg.MaxValueSize != 8*1024*1024 {
		t.Errorf("expected max value size 8MB, got %d", cfg.MaxValueSize)
	}
	if cfg.OpTimeout != 5*time.Second {
		t.Errorf("expected op timeout 5s, got %v", cfg.OpTimeout)
	}
}

func TestNewNATSStore_NilConn(t *testing.T) {
	if _, err := NewNATSStore(NATSStoreConfig{Bucket: "test"}); err == nil {
		t.Error("expected error for nil connection")
	}
}

func TestOpFromNATS(t *testing.T) {
	tests := []struct {
		name string
		op   jetstream.KeyValueOp
		want Operation
	}{
		{"put", jetstream.KeyValuePut, OpPut},
		{"delete", jetstream.KeyValueDelete, OpDelete},
		{"purge", jetstream.KeyValuePurge, OpDelete},
		{"unknown defaults to put", jetstream.KeyValueOp(99), OpPut},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := opFromNATS(tt.op); got != tt.want {
				t.Errorf("opFromNATS(%v) = %v, want %v", tt.op, got, tt.want)
			}
		})
	}
}

func TestNATSPattern(t *testing.T) {
	tests := map[string]string{
		"*":                ">",
		"sketch.*":         "sketch.>",
		"img2img-messages": "img2img-messages",
	}
	for in, want := range tests {
		if got := natsPattern(in); got != want {
			t.Errorf("natsPattern(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNATSStore_ClosedOrInvalid(t *testing.T) {
	store := &NATSStore{watches: map[int]context.CancelFunc{}}
	store.closed.Store(true)

	if _, err := store.Get("key"); err != ErrClosed {
		t.Errorf("Get: expected ErrClosed, got %v", err)
	}
	if err := store.Put("key", nil); err != ErrClosed {
		t.Errorf("Put: expected ErrClosed, got %v", err)
	}
	if err := store.Delete("key"); err != ErrClosed {
		t.Errorf("Delete: expected ErrClosed, got %v", err)
	}
	if _, err := store.Watch(context.Background(), "key"); err != ErrClosed {
		t.Errorf("Watch: expected ErrClosed, got %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close on closed store: %v", err)
	}

	open := &NATSStore{}
	if _, err := open.Get(""); err != ErrInvalidKey {
		t.Errorf("Get: expected ErrInvalidKey, got %v", err)
	}
	if err := open.Put("bad key", nil); err != ErrInvalidKey {
		t.Errorf("Put: expected ErrInvalidKey, got %v", err)
	}
}

// ============================================================================
// Integration tests (require NATS with JetStream)
// ============================================================================

func connectNATS(t *testing.T) *nats.Conn {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}
	if testing.Short() {
		t.Skip("skipping NATS test in short mode")
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second), nats.MaxReconnects(0))
	if err != nil {
		t.Skipf("skipping: NATS not available at %s: %v", url, err)
	}
	return nc
}

func TestNATSStore_PutWatch(t *testing.T) {
	nc := connectNATS(t)
	defer nc.Close()

	store, err := NewNATSStore(NATSStoreConfig{Conn: nc, Bucket: "sketchlink-test"})
	if err != nil {
		t.Skipf("skipping: JetStream unavailable: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Watch(ctx, "watched")
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	if err := store.Put("watched", []byte("v1")); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	select {
	case kv := <-ch:
		if string(kv.Value) != "v1" {
			t.Errorf("value = %q, want %q", kv.Value, "v1")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for watch update")
	}

	val, err := store.Get("watched")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(val) != "v1" {
		t.Errorf("Get = %q, want %q", val, "v1")
	}
}
