package state

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore implements Store using in-memory storage.
// Useful for testing and single-process scenarios.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]*entry
	watchers []*watcher
	revision uint64
	closed   atomic.Bool
	done     chan struct{}
}

type entry struct {
	value    []byte
	revision uint64
	modified time.Time
}

type watcher struct {
	pattern string
	ch      chan *KeyValue
	closed  bool
}

// NewMemoryStore creates a new in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*entry),
		done: make(chan struct{}),
	}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent mutation
	val := make([]byte, len(e.value))
	copy(val, e.value)
	return val, nil
}

// Revision returns the revision of key, or 0 if it does not exist.
func (s *MemoryStore) Revision(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.data[key]; ok {
		return e.revision
	}
	return 0
}

// Put stores a value. Writing the bytes already stored is a no-op and
// does not notify watchers.
func (s *MemoryStore) Put(key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return ErrClosed
	}
	if existing, ok := s.data[key]; ok && bytes.Equal(existing.value, value) {
		return nil
	}

	// Copy value to prevent external mutation
	val := make([]byte, len(value))
	copy(val, value)

	s.revision++
	now := time.Now()
	s.data[key] = &entry{
		value:    val,
		revision: s.revision,
		modified: now,
	}

	s.notifyWatchers(&KeyValue{
		Key:       key,
		Value:     val,
		Revision:  s.revision,
		Operation: OpPut,
		Modified:  now,
	})
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.revision++
		s.notifyWatchers(&KeyValue{
			Key:       key,
			Revision:  s.revision,
			Operation: OpDelete,
			Modified:  time.Now(),
		})
	}

	return nil
}

// Watch watches for changes to keys matching a pattern.
func (s *MemoryStore) Watch(ctx context.Context, pattern string) (<-chan *KeyValue, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	w := &watcher{
		pattern: pattern,
		ch:      make(chan *KeyValue, WatchBuffer),
	}

	s.mu.Lock()
	if s.data == nil {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.watchers = append(s.watchers, w)
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.removeWatcher(w)
		case <-s.done:
		}
	}()

	return w.ch, nil
}

// removeWatcher detaches and closes a watcher.
func (s *MemoryStore) removeWatcher(target *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target.closed {
		return
	}
	target.closed = true
	close(target.ch)

	for i, w := range s.watchers {
		if w == target {
			s.watchers = append(s.watchers[:i:i], s.watchers[i+1:]...)
			break
		}
	}
}

// notifyWatchers sends notifications to matching watchers.
// Must be called with lock held.
func (s *MemoryStore) notifyWatchers(kv *KeyValue) {
	for _, w := range s.watchers {
		if w.closed || !MatchPattern(w.pattern, kv.Key) {
			continue
		}
		offer(w.ch, kv)
	}
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchers {
		if !w.closed {
			w.closed = true
			close(w.ch)
		}
	}
	s.watchers = nil
	s.data = nil

	return nil
}
