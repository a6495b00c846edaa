package channel

import (
	"sync"

	"github.com/vinayprograms/sketchlink/logging"
	"github.com/vinayprograms/sketchlink/message"
)

type registration struct {
	id uint64
	fn Listener
}

// Registry is an insertion-ordered set of listeners.
// Every Add gets its own id, so one function registered twice is two entries.
type Registry struct {
	transport string
	logger    *logging.Logger

	mu     sync.Mutex
	nextID uint64
	items  []registration
	closed bool
}

// NewRegistry creates an empty registry. Logger may be nil.
func NewRegistry(transport string, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{transport: transport, logger: logger}
}

// Add registers fn and returns a function that removes that registration.
// The returned function is safe to call more than once.
func (r *Registry) Add(fn Listener) func() {
	if fn == nil {
		return noop
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return noop
	}
	r.nextID++
	id := r.nextID
	r.items = append(r.items, registration{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, item := range r.items {
		if item.id == id {
			r.items = append(r.items[:i:i], r.items[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every listener registered at call time, in order.
// No lock is held while a listener runs, so listeners may Send, Receive
// or unsubscribe. A panicking listener does not stop the others.
func (r *Registry) Dispatch(msg message.Message) {
	r.mu.Lock()
	snapshot := make([]registration, len(r.items))
	copy(snapshot, r.items)
	r.mu.Unlock()

	for _, item := range snapshot {
		r.invoke(item.fn, msg)
	}
}

func (r *Registry) invoke(fn Listener, msg message.Message) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ListenerPanic(r.transport, rec)
		}
	}()
	fn(msg)
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Clear drops every listener and returns how many there were.
func (r *Registry) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.items)
	r.items = nil
	return n
}

// Close drops every listener and stops all further delivery, including
// the rest of a dispatch already in progress. Later Adds are no-ops.
func (r *Registry) Close() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.items)
	r.items = nil
	r.closed = true
	return n
}
