package channel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vinayprograms/sketchlink/bus"
	"github.com/vinayprograms/sketchlink/logging"
	"github.com/vinayprograms/sketchlink/message"
)

// BroadcastOptions configures a Broadcast strategy.
type BroadcastOptions struct {
	// Name is the channel name every participant joins.
	// Default: DefaultChannelName
	Name string

	// Logger receives drop and panic diagnostics. Default: Nop.
	Logger *logging.Logger
}

// Broadcast is the ephemeral strategy. Every message is published on a
// bus subject and delivered to every open Broadcast on the same name at
// the moment of publication, the sending instance included. Nothing is
// retained for late subscribers.
type Broadcast struct {
	bus      bus.MessageBus
	subject  string
	sub      bus.Subscription
	registry *Registry
	logger   *logging.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// NewBroadcast joins the named channel on b.
// It returns an error wrapping ErrUnavailable when b cannot be used.
func NewBroadcast(b bus.MessageBus, opts BroadcastOptions) (*Broadcast, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: no message bus", ErrUnavailable)
	}
	if opts.Name == "" {
		opts.Name = DefaultChannelName
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent(NameBroadcast)

	sub, err := b.Subscribe(opts.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrUnavailable, opts.Name, err)
	}

	s := &Broadcast{
		bus:      b,
		subject:  opts.Name,
		sub:      sub,
		registry: NewRegistry(NameBroadcast, logger),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// run delivers bus messages to listeners in arrival order.
func (s *Broadcast) run() {
	defer close(s.done)

	for m := range s.sub.Messages() {
		if s.closed.Load() {
			continue
		}
		msg, err := message.Unmarshal(m.Data)
		if err != nil {
			s.logger.MessageDropped(NameBroadcast, "decode", err)
			continue
		}
		s.registry.Dispatch(msg)
	}
}

// Name returns "broadcast".
func (s *Broadcast) Name() string { return NameBroadcast }

// Send publishes msg to every participant. It does not wait for delivery.
func (s *Broadcast) Send(msg message.Message) error {
	if s.closed.Load() {
		return nil
	}
	if err := message.Validate(msg); err != nil {
		return err
	}
	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.bus.Publish(s.subject, data); err != nil {
		s.logger.SendFailed(NameBroadcast, msg.ID(), err)
	}
	return nil
}

// Receive registers fn for every message delivered after this call.
func (s *Broadcast) Receive(fn Listener) func() {
	if s.closed.Load() {
		return noop
	}
	return s.registry.Add(fn)
}

// Close leaves the channel and drops every listener.
func (s *Broadcast) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		n := s.registry.Close()
		err = s.sub.Unsubscribe()
		s.logger.StrategyClosed(NameBroadcast, n)
	})
	return err
}

// Listeners returns the number of registered listeners.
func (s *Broadcast) Listeners() int {
	return s.registry.Len()
}
