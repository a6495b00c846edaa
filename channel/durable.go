package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/sketchlink/logging"
	"github.com/vinayprograms/sketchlink/message"
	"github.com/vinayprograms/sketchlink/state"
)

// Envelope fields added to every stored message. They are not part of the
// message protocol and are removed before validation.
const (
	fieldTimestamp = "_timestamp"
	fieldSeq       = "_seq"
	fieldOrigin    = "_origin"
)

// DurableOptions configures a Durable strategy.
type DurableOptions struct {
	// Key is the storage key every participant reads and writes.
	// Default: DefaultStorageKey
	Key string

	// ContextID identifies the writing context. Writes carrying this
	// instance's ContextID are not delivered back to it.
	// Default: a random UUID
	ContextID string

	// Logger receives drop and panic diagnostics. Default: Nop.
	Logger *logging.Logger
}

// Durable is the fallback strategy built on a shared key/value slot.
// Each Send overwrites the slot; other contexts watching the key are
// notified of the change. Only the last value is guaranteed: two sends in
// quick succession may coalesce, and observers may miss the first.
// Both directions keep a single latest-wins slot, so a slow store or a
// slow listener delays the newest value but never loses it.
type Durable struct {
	store     state.Store
	key       string
	contextID string
	registry  *Registry
	logger    *logging.Logger
	seq       atomic.Uint64

	// single-slot writer
	slotMu  sync.Mutex
	pending *write
	wake    chan struct{}

	// single-slot reader
	inMu     sync.Mutex
	incoming message.Message
	arrived  chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type write struct {
	data   []byte
	taskID string
}

// NewDurable starts watching the storage key on s.
// It returns an error wrapping ErrUnavailable when s cannot be used.
func NewDurable(s state.Store, opts DurableOptions) (*Durable, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no state store", ErrUnavailable)
	}
	if opts.Key == "" {
		opts.Key = DefaultStorageKey
	}
	if err := state.ValidateKey(opts.Key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if opts.ContextID == "" {
		opts.ContextID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.WithComponent(NameDurable)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := s.Watch(ctx, opts.Key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrUnavailable, opts.Key, err)
	}

	d := &Durable{
		store:     s,
		key:       opts.Key,
		contextID: opts.ContextID,
		registry:  NewRegistry(NameDurable, logger),
		logger:    logger,
		wake:      make(chan struct{}, 1),
		arrived:   make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}

	d.wg.Add(3)
	go d.watchLoop(updates)
	go d.dispatchLoop()
	go d.writeLoop()
	return d, nil
}

// Name returns "durable".
func (d *Durable) Name() string { return NameDurable }

// ContextID returns the identity stamped on this instance's writes.
func (d *Durable) ContextID() string { return d.contextID }

// Send writes msg to the shared slot in the background.
// A pending write not yet flushed is replaced.
func (d *Durable) Send(msg message.Message) error {
	if d.closed.Load() {
		return nil
	}
	if err := message.Validate(msg); err != nil {
		return err
	}
	data, err := d.envelope(msg)
	if err != nil {
		return err
	}

	d.slotMu.Lock()
	d.pending = &write{data: data, taskID: msg.ID()}
	d.slotMu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// envelope encodes msg with the non-protocol fields that make every write
// distinct, so identical consecutive messages still notify watchers.
func (d *Durable) envelope(msg message.Message) ([]byte, error) {
	data, err := message.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields[fieldTimestamp] = time.Now().UnixMilli()
	fields[fieldSeq] = d.seq.Add(1)
	fields[fieldOrigin] = d.contextID
	return json.Marshal(fields)
}

func (d *Durable) takePending() *write {
	d.slotMu.Lock()
	defer d.slotMu.Unlock()
	w := d.pending
	d.pending = nil
	return w
}

func (d *Durable) writeLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			// Flush what the caller sent just before Close.
			if w := d.takePending(); w != nil {
				d.put(w)
			}
			return
		case <-d.wake:
			if w := d.takePending(); w != nil {
				d.put(w)
			}
		}
	}
}

func (d *Durable) put(w *write) {
	if err := d.store.Put(d.key, w.data); err != nil {
		d.logger.SendFailed(NameDurable, w.taskID, err)
	}
}

// watchLoop drains store notifications as fast as they come and leaves
// the newest foreign message in the incoming slot.
func (d *Durable) watchLoop(updates <-chan *state.KeyValue) {
	defer d.wg.Done()

	for kv := range updates {
		if d.closed.Load() {
			continue
		}
		if kv.Operation == state.OpDelete {
			continue
		}
		msg, ok := d.decode(kv.Value)
		if !ok {
			continue
		}

		d.inMu.Lock()
		d.incoming = msg
		d.inMu.Unlock()

		select {
		case d.arrived <- struct{}{}:
		default:
		}
	}
}

func (d *Durable) takeIncoming() message.Message {
	d.inMu.Lock()
	defer d.inMu.Unlock()
	msg := d.incoming
	d.incoming = nil
	return msg
}

// dispatchLoop delivers the incoming slot to listeners.
func (d *Durable) dispatchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.arrived:
			if msg := d.takeIncoming(); msg != nil {
				d.registry.Dispatch(msg)
			}
		}
	}
}

// decode strips the envelope and validates the remainder. It reports false
// for this instance's own writes and for anything malformed.
func (d *Durable) decode(value []byte) (message.Message, bool) {
	var fields map[string]interface{}
	if err := json.Unmarshal(value, &fields); err != nil {
		d.logger.MessageDropped(NameDurable, "decode", err)
		return nil, false
	}
	if fields == nil {
		d.logger.MessageDropped(NameDurable, "decode", fmt.Errorf("%w: null", message.ErrInvalid))
		return nil, false
	}
	if origin, _ := fields[fieldOrigin].(string); origin == d.contextID {
		return nil, false
	}
	delete(fields, fieldTimestamp)
	delete(fields, fieldSeq)
	delete(fields, fieldOrigin)

	msg, err := message.FromFields(fields)
	if err != nil {
		d.logger.MessageDropped(NameDurable, "validate", err)
		return nil, false
	}
	return msg, true
}

// Receive registers fn for every change written by another context.
func (d *Durable) Receive(fn Listener) func() {
	if d.closed.Load() {
		return noop
	}
	return d.registry.Add(fn)
}

// Close stops watching, flushes a pending write and drops every listener.
// The store itself belongs to the caller and stays open.
func (d *Durable) Close() error {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		n := d.registry.Close()
		d.cancel()
		d.logger.StrategyClosed(NameDurable, n)
	})
	return nil
}

// Wait blocks until the background writer and watcher have exited.
// Call it after Close when a final write must reach the store.
func (d *Durable) Wait() {
	d.wg.Wait()
}
