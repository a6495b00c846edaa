package state

import (
	"context"
	"strconv"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	if _, err := store.Get("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := store.Put("k", []byte("v1")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := store.Put("k", []byte("v2")); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	val, err := store.Get("k")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(val) != "v2" {
		t.Errorf("value = %q, want %q (last writer wins)", val, "v2")
	}
}

func TestMemoryStore_ValueCopied(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	data := []byte("abc")
	store.Put("k", data)
	data[0] = 'x'

	val, _ := store.Get("k")
	if string(val) != "abc" {
		t.Errorf("stored value mutated: %q", val)
	}
	val[0] = 'y'
	again, _ := store.Get("k")
	if string(again) != "abc" {
		t.Errorf("returned value aliases storage: %q", again)
	}
}

func TestMemoryStore_InvalidKey(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	if err := store.Put("", []byte("v")); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := store.Get("a b"); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	store.Put("k", []byte("v"))
	if err := store.Delete("k"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := store.Get("k"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete("k"); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}

func TestMemoryStore_Watch(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := store.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	store.Put("other", []byte("ignored"))
	store.Put("k", []byte("v1"))

	select {
	case kv := <-ch:
		if kv.Key != "k" || string(kv.Value) != "v1" || kv.Operation != OpPut {
			t.Errorf("unexpected notification: %+v", kv)
		}
		if kv.Revision != store.Revision("k") {
			t.Errorf("revision = %d, want %d", kv.Revision, store.Revision("k"))
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for watch notification")
	}

	store.Delete("k")
	select {
	case kv := <-ch:
		if kv.Operation != OpDelete || kv.Value != nil {
			t.Errorf("expected delete notification, got %+v", kv)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for delete notification")
	}
}

func TestMemoryStore_IdenticalPutSuppressed(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := store.Watch(ctx, "k")

	store.Put("k", []byte("same"))
	rev := store.Revision("k")
	store.Put("k", []byte("same"))

	<-ch
	select {
	case kv := <-ch:
		t.Errorf("identical write notified watchers: %+v", kv)
	case <-time.After(50 * time.Millisecond):
	}
	if store.Revision("k") != rev {
		t.Errorf("identical write bumped revision")
	}
}

func TestMemoryStore_RevisionsIncrease(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	var last uint64
	for _, v := range []string{"a", "b", "c"} {
		store.Put("k", []byte(v))
		rev := store.Revision("k")
		if rev <= last {
			t.Fatalf("revision %d not greater than %d", rev, last)
		}
		last = rev
	}
}

func TestMemoryStore_SlowWatcherSeesNewest(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ch, _ := store.Watch(context.Background(), "k")

	const writes = WatchBuffer * 3
	for i := 1; i <= writes; i++ {
		store.Put("k", []byte(strconv.Itoa(i)))
	}

	var last *KeyValue
	for len(ch) > 0 {
		last = <-ch
	}
	if last == nil {
		t.Fatal("no notifications queued")
	}
	if string(last.Value) != strconv.Itoa(writes) {
		t.Errorf("last notification = %q, want %d", last.Value, writes)
	}
}

func TestMemoryStore_WatchCancel(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := store.Watch(ctx, "*")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}

	// Writes after cancel must not panic
	store.Put("k", []byte("v"))
}

func TestMemoryStore_Close(t *testing.T) {
	store := NewMemoryStore()

	ch, _ := store.Watch(context.Background(), "*")

	if err := store.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}

	if _, ok := <-ch; ok {
		t.Error("expected watch channel closed")
	}
	if err := store.Put("k", nil); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := store.Get("k"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := store.Watch(context.Background(), "k"); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
