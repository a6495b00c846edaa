package bus

import "sync"

// queue feeds one subscription. push never blocks and never drops while
// the queue is open; a pump goroutine moves messages, in order, into the
// buffered channel the subscriber reads from.
type queue struct {
	mu     sync.Mutex
	items  []*Message
	closed bool

	wake chan struct{}
	done chan struct{}
	out  chan *Message
	once sync.Once
}

func newQueue(buffer int) *queue {
	q := &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan *Message, buffer),
	}
	go q.pump()
	return q
}

// push appends msg. It reports false once the queue is closed.
func (q *queue) push(msg *Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// next blocks until a message is queued or the queue closes.
func (q *queue) next() (*Message, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			msg := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return msg, true
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
			return nil, false
		}
	}
}

func (q *queue) pump() {
	defer close(q.out)
	for {
		msg, ok := q.next()
		if !ok {
			return
		}
		select {
		case q.out <- msg:
		case <-q.done:
			return
		}
	}
}

// close discards anything not yet handed over. The out channel is closed
// once the pump exits.
func (q *queue) close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.items = nil
		q.mu.Unlock()
		close(q.done)
	})
}

// pending returns the number of messages waiting for the pump.
func (q *queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
