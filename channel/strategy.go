package channel

import (
	"errors"

	"github.com/vinayprograms/sketchlink/message"
)

// Default names shared by every context that wants to talk to each other.
const (
	DefaultChannelName = "img2img-channel"
	DefaultStorageKey  = "img2img-messages"
)

// Strategy names.
const (
	NameBroadcast = "broadcast"
	NameDurable   = "durable"
)

var (
	// ErrUnavailable is returned when a strategy cannot be built on the
	// given backend. Callers fall back to another strategy.
	ErrUnavailable = errors.New("transport unavailable")
)

// Listener receives every message delivered to a strategy or service.
type Listener func(message.Message)

// Strategy is one interchangeable transport between contexts.
//
// Send is fire-and-forget and never blocks the caller. It reports an error
// only when the message fails protocol validation; after Close it is a no-op.
//
// Receive registers a listener and returns a function removing exactly that
// registration. After Close, Receive returns a no-op and the listener is
// never invoked.
//
// Close is idempotent. It releases the backend subscription and drops all
// listeners.
type Strategy interface {
	Send(msg message.Message) error
	Receive(fn Listener) (unsubscribe func())
	Close() error
	Name() string
}

// Receiver is anything listeners can be registered on.
type Receiver interface {
	Receive(fn Listener) (unsubscribe func())
}

// Sender is anything messages can be sent through.
type Sender interface {
	Send(msg message.Message) error
}

func noop() {}
