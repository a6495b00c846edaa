package channel

import (
	"sort"
	"sync"

	"github.com/vinayprograms/sketchlink/message"
)

// Tracker remembers the most recent message overall and per task id.
// Display contexts use it to render the latest status of each task.
type Tracker struct {
	mu     sync.RWMutex
	last   message.Message
	byTask map[string]message.Message
	count  uint64

	stop func()
}

// NewTracker subscribes to r and starts recording.
func NewTracker(r Receiver) *Tracker {
	t := &Tracker{byTask: make(map[string]message.Message)}
	t.stop = r.Receive(t.record)
	return t
}

func (t *Tracker) record(msg message.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = msg
	t.byTask[msg.ID()] = msg
	t.count++
}

// Last returns the most recent message, if any.
func (t *Tracker) Last() (message.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, t.last != nil
}

// LastFor returns the most recent message for a task id.
func (t *Tracker) LastFor(taskID string) (message.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	msg, ok := t.byTask[taskID]
	return msg, ok
}

// Tasks returns the known task ids, sorted.
func (t *Tracker) Tasks() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.byTask))
	for id := range t.byTask {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns how many messages have been recorded.
func (t *Tracker) Count() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Stop unsubscribes. Recorded state stays readable.
func (t *Tracker) Stop() {
	t.stop()
}
