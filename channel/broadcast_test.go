package channel

import (
	"errors"
	"testing"
	"time"

	"github.com/vinayprograms/sketchlink/bus"
	"github.com/vinayprograms/sketchlink/message"
)

// collect registers a listener that forwards every message to a channel.
func collect(r Receiver) (<-chan message.Message, func()) {
	ch := make(chan message.Message, 64)
	unsub := r.Receive(func(m message.Message) { ch <- m })
	return ch, unsub
}

func expect(t *testing.T, ch <-chan message.Message) message.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func expectNone(t *testing.T, ch <-chan message.Message, wait time.Duration) {
	t.Helper()
	select {
	case m := <-ch:
		t.Fatalf("unexpected message %#v", m)
	case <-time.After(wait):
	}
}

func newBroadcastPair(t *testing.T) (*Broadcast, *Broadcast, *bus.MemoryBus) {
	t.Helper()
	b := bus.NewMemoryBus(bus.DefaultConfig())
	t.Cleanup(func() { b.Close() })

	a, err := NewBroadcast(b, BroadcastOptions{})
	if err != nil {
		t.Fatalf("NewBroadcast: %v", err)
	}
	c, err := NewBroadcast(b, BroadcastOptions{})
	if err != nil {
		t.Fatalf("NewBroadcast: %v", err)
	}
	t.Cleanup(func() { a.Close(); c.Close() })
	return a, c, b
}

func TestBroadcast_DeliversToPeersAndSelf(t *testing.T) {
	a, c, _ := newBroadcastPair(t)

	fromA, _ := collect(a)
	fromC, _ := collect(c)

	want := message.Task{TaskID: "abc", ImageData: "data:image/png;base64,AAAA", PositivePrompt: "p", NegativePrompt: "n"}
	if err := a.Send(want); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := expect(t, fromC); !message.Equal(got, want) {
		t.Errorf("peer got %#v, want %#v", got, want)
	}
	if got := expect(t, fromA); !message.Equal(got, want) {
		t.Errorf("sender got %#v, want %#v", got, want)
	}
}

func TestBroadcast_Order(t *testing.T) {
	a, c, _ := newBroadcastPair(t)
	ch, _ := collect(c)

	for i := 1; i <= 5; i++ {
		a.Send(message.NewStatus("abc", "running", i, 5))
	}

	for i := 1; i <= 5; i++ {
		s, ok := expect(t, ch).(message.Status)
		if !ok || s.Progress == nil || *s.Progress != float64(i) {
			t.Fatalf("message %d out of order: %#v", i, s)
		}
	}
}

func TestBroadcast_SlowListenerMissesNothing(t *testing.T) {
	producer, consumer, _ := newBroadcastPair(t)

	release := make(chan struct{})
	got := make(chan message.Message, 512)
	first := true
	consumer.Receive(func(m message.Message) {
		if first {
			first = false
			<-release
		}
		got <- m
	})

	const statuses = 400
	for i := 1; i <= statuses; i++ {
		producer.Send(message.NewStatus("T1", "running", i, statuses))
	}
	producer.Send(message.Result{TaskID: "T1", ImageURL: "/out/T1.png"})
	close(release)

	for i := 1; i <= statuses; i++ {
		m := expect(t, got)
		s, ok := m.(message.Status)
		if !ok || *s.Progress != float64(i) {
			t.Fatalf("message %d = %#v", i, m)
		}
	}
	if res, ok := expect(t, got).(message.Result); !ok || res.ImageURL != "/out/T1.png" {
		t.Errorf("terminal message = %#v, want the Result", res)
	}
}

func TestBroadcast_NoReplayForLateSubscriber(t *testing.T) {
	a, c, _ := newBroadcastPair(t)

	early, _ := collect(c)
	a.Send(message.Result{TaskID: "one", ImageURL: "u1"})
	expect(t, early)

	late, _ := collect(c)
	expectNone(t, late, 50*time.Millisecond)

	a.Send(message.Result{TaskID: "two", ImageURL: "u2"})
	if got := expect(t, late); got.ID() != "two" {
		t.Errorf("late subscriber got %q, want two", got.ID())
	}
}

func TestBroadcast_DropsMalformed(t *testing.T) {
	a, c, b := newBroadcastPair(t)
	ch, _ := collect(c)

	for _, raw := range []string{
		`not json`,
		`{"type":"unknown","taskId":"x"}`,
		`{"type":"result","taskId":"x"}`,
		`{"type":"status","taskId":"x","status":"s","progress":"1"}`,
	} {
		if err := b.Publish(DefaultChannelName, []byte(raw)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	a.Send(message.Result{TaskID: "ok", ImageURL: "u"})

	if got := expect(t, ch); got.ID() != "ok" {
		t.Errorf("first delivered message = %#v, want the valid result", got)
	}
}

func TestBroadcast_Unsubscribe(t *testing.T) {
	a, c, _ := newBroadcastPair(t)

	gone, unsub := collect(c)
	kept, _ := collect(c)
	unsub()

	a.Send(message.Result{TaskID: "abc", ImageURL: "u"})

	expect(t, kept)
	expectNone(t, gone, 50*time.Millisecond)
}

func TestBroadcast_Close(t *testing.T) {
	a, c, b := newBroadcastPair(t)
	ch, _ := collect(c)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if c.Listeners() != 0 {
		t.Errorf("Listeners() = %d after close", c.Listeners())
	}

	// Send and Receive on a closed strategy are no-ops.
	if err := c.Send(message.Result{TaskID: "x", ImageURL: "u"}); err != nil {
		t.Errorf("Send after close: %v", err)
	}
	after, unsub := collect(c)
	unsub()

	a.Send(message.Result{TaskID: "abc", ImageURL: "u"})
	expectNone(t, ch, 50*time.Millisecond)
	expectNone(t, after, 10*time.Millisecond)

	if n := b.Subscribers(DefaultChannelName); n != 1 {
		t.Errorf("Subscribers = %d, want 1 after close", n)
	}
}

func TestBroadcast_SendFromListener(t *testing.T) {
	a, c, _ := newBroadcastPair(t)

	// Echo every task back as a result from inside the listener.
	c.Receive(func(m message.Message) {
		if task, ok := m.(message.Task); ok {
			c.Send(message.Result{TaskID: task.TaskID, ImageURL: "echo"})
		}
	})
	ch, _ := collect(a)

	a.Send(message.Task{TaskID: "abc"})

	for {
		m := expect(t, ch)
		if r, ok := m.(message.Result); ok {
			if r.ImageURL != "echo" {
				t.Errorf("ImageURL = %q", r.ImageURL)
			}
			return
		}
	}
}

func TestBroadcast_InvalidMessage(t *testing.T) {
	a, _, _ := newBroadcastPair(t)
	if err := a.Send(nil); !errors.Is(err, message.ErrInvalid) {
		t.Errorf("Send(nil) = %v, want ErrInvalid", err)
	}
}

func TestBroadcast_Unavailable(t *testing.T) {
	if _, err := NewBroadcast(nil, BroadcastOptions{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("nil bus: err = %v, want ErrUnavailable", err)
	}

	b := bus.NewMemoryBus(bus.DefaultConfig())
	b.Close()
	if _, err := NewBroadcast(b, BroadcastOptions{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("closed bus: err = %v, want ErrUnavailable", err)
	}
}

func TestBroadcast_SeparateNames(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	x, _ := NewBroadcast(b, BroadcastOptions{Name: "room-x"})
	y, _ := NewBroadcast(b, BroadcastOptions{Name: "room-y"})
	defer x.Close()
	defer y.Close()

	ch, _ := collect(y)
	x.Send(message.Result{TaskID: "abc", ImageURL: "u"})
	expectNone(t, ch, 50*time.Millisecond)
}
