package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore implements Store using NATS JetStream KV.
type NATSStore struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	config NATSStoreConfig
	closed atomic.Bool

	// Cancels for running watch loops, stopped on Close.
	watchMu sync.Mutex
	watches map[int]context.CancelFunc
	nextID  int
}

// NATSStoreConfig holds NATS KV store configuration.
type NATSStoreConfig struct {
	// Conn is the NATS connection to use.
	Conn *nats.Conn

	// Bucket is the KV bucket name.
	Bucket string

	// MaxValueSize is the maximum value size in bytes.
	// Task messages carry encoded images, so this is generous.
	// Default: 8MB
	MaxValueSize int32

	// OpTimeout bounds each Get/Put/Delete round trip.
	// Default: 5s
	OpTimeout time.Duration
}

// DefaultNATSStoreConfig returns configuration with sensible defaults.
func DefaultNATSStoreConfig() NATSStoreConfig {
	return NATSStoreConfig{
		Bucket:       "sketchlink",
		MaxValueSize: 8 * 1024 * 1024,
		OpTimeout:    5 * time.Second,
	}
}

// NewNATSStore creates a new NATS JetStream KV store.
func NewNATSStore(cfg NATSStoreConfig) (*NATSStore, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	defaults := DefaultNATSStoreConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = defaults.Bucket
	}
	if cfg.MaxValueSize <= 0 {
		cfg.MaxValueSize = defaults.MaxValueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaults.OpTimeout
	}

	js, err := jetstream.New(cfg.Conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One slot per key, no history: the store is a last-value mailbox.
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:       cfg.Bucket,
		History:      1,
		MaxValueSize: cfg.MaxValueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}

	return &NATSStore{
		conn:    cfg.Conn,
		js:      js,
		kv:      kv,
		config:  cfg,
		watches: make(map[int]context.CancelFunc),
	}, nil
}

// Get retrieves a value by key.
func (s *NATSStore) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.OpTimeout)
	defer cancel()

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("kv get: %w", err)
	}

	return entry.Value(), nil
}

// opFromNATS converts NATS operation to our Operation type.
func opFromNATS(op jetstream.KeyValueOp) Operation {
	switch op {
	case jetstream.KeyValuePut:
		return OpPut
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return OpDelete
	default:
		return OpPut
	}
}

// natsPattern converts a trailing * wildcard to the NATS form.
func natsPattern(pattern string) string {
	if pattern == "*" {
		return ">"
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.TrimSuffix(pattern, "*") + ">"
	}
	return pattern
}

// Put stores a value.
func (s *NATSStore) Put(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.OpTimeout)
	defer cancel()

	if _, err := s.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}

	return nil
}

// Delete removes a key.
func (s *NATSStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.OpTimeout)
	defer cancel()

	err := s.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete: %w", err)
	}

	return nil
}

// Watch watches for changes to keys matching a pattern.
// Only updates after the call are reported; the current value is not replayed.
func (s *NATSStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)

	var (
		watcher jetstream.KeyWatcher
		err     error
	)
	np := natsPattern(pattern)
	if np == ">" {
		watcher, err = s.kv.WatchAll(ctx, jetstream.UpdatesOnly())
	} else {
		watcher, err = s.kv.Watch(ctx, np, jetstream.UpdatesOnly())
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("kv watch: %w", err)
	}

	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watches[id] = cancel
	s.watchMu.Unlock()

	ch := make(chan *KeyValue, WatchBuffer)
	go s.watchLoop(ctx, id, watcher, ch, pattern)

	return ch, nil
}

// watchLoop processes watch updates.
func (s *NATSStore) watchLoop(ctx context.Context, id int, watcher jetstream.KeyWatcher, ch chan *KeyValue, pattern string) {
	defer close(ch)
	defer watcher.Stop()
	defer func() {
		s.watchMu.Lock()
		if cancel, ok := s.watches[id]; ok {
			cancel()
			delete(s.watches, id)
		}
		s.watchMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue // Initial sync complete marker
			}

			// Filter by our pattern if NATS pattern was broader
			if !MatchPattern(pattern, entry.Key()) {
				continue
			}

			kv := &KeyValue{
				Key:       entry.Key(),
				Value:     entry.Value(),
				Revision:  entry.Revision(),
				Operation: opFromNATS(entry.Operation()),
				Modified:  entry.Created(), // NATS KV uses Created for last modified
			}

			offer(ch, kv)
		}
	}
}

// Close shuts down the store and stops every watch.
// The NATS connection belongs to the caller and stays open.
func (s *NATSStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for id, cancel := range s.watches {
		cancel()
		delete(s.watches, id)
	}

	return nil
}
