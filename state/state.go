package state

import (
	"context"
	"errors"
	"strings"
	"time"
)

// WatchBuffer is the capacity of a watch channel.
const WatchBuffer = 64

// Common errors.
var (
	ErrNotFound   = errors.New("key not found")
	ErrClosed     = errors.New("store closed")
	ErrInvalidKey = errors.New("invalid key")
)

// Operation represents the type of change to a key.
type Operation int

const (
	// OpPut indicates a key was created or updated.
	OpPut Operation = iota
	// OpDelete indicates a key was deleted.
	OpDelete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// KeyValue represents a key-value entry with metadata.
type KeyValue struct {
	// Key is the entry key.
	Key string

	// Value is the entry value. Nil for deletes.
	Value []byte

	// Revision is a monotonic version number.
	Revision uint64

	// Operation indicates the type of change.
	Operation Operation

	// Modified is when the change happened.
	Modified time.Time
}

// Store is a shared key-value store whose slots are last-writer-wins.
// Nothing serializes writers from different contexts.
type Store interface {
	// Get retrieves a value by key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores a value, replacing whatever was there.
	Put(key string, value []byte) error

	// Delete removes a key.
	// Returns nil if the key does not exist.
	Delete(key string) error

	// Watch reports changes to keys matching pattern made after the call.
	// Pattern supports * wildcard at the end (e.g., "sketch.*").
	// The channel holds WatchBuffer notifications; when a reader falls
	// that far behind, the oldest are dropped so the newest always lands.
	// The channel is closed when ctx is done or the store closes.
	Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error)

	// Close shuts down the store and ends all watches.
	Close() error
}

// ValidateKey checks if a key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, " *>") {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return ErrInvalidKey
	}
	if len(key) > 1024 {
		return ErrInvalidKey
	}
	return nil
}

// MatchPattern checks if a key matches a pattern.
// Supports * wildcard at the end (e.g., "sketch.*" matches "sketch.foo").
func MatchPattern(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(key, prefix)
	}
	return pattern == key
}

// offer delivers kv to ch, evicting the oldest queued notification when
// ch is full. Callers must be the only sender on ch.
func offer(ch chan *KeyValue, kv *KeyValue) {
	for {
		select {
		case ch <- kv:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
