// Package channel carries typed messages between isolated contexts.
//
// A context is a process or independently owned component that shares no
// memory with its peers. Contexts meet only through a backend, and the
// Strategy interface hides which one:
//
//   - Broadcast publishes on a bus subject. Delivery is immediate,
//     ephemeral and reaches every open participant, the sender included.
//   - Durable writes a shared key/value slot and watches it for changes
//     made by other contexts. Only the last value is guaranteed.
//
// Application code talks to a Service, which delegates to one active
// strategy and can switch strategies at runtime:
//
//	st, err := channel.Open(channel.OpenConfig{Bus: b, Store: s})
//	if err != nil {
//	    return err
//	}
//	svc := channel.NewService(st)
//	defer svc.Close()
//
//	unsubscribe := svc.Receive(func(m message.Message) {
//	    if r, ok := m.(message.Result); ok {
//	        show(r.ImageURL)
//	    }
//	})
//	defer unsubscribe()
//
//	svc.Send(message.Task{TaskID: "abc", ImageData: img})
//
// Listeners run synchronously on the strategy's delivery goroutine in
// subscription order. They may call Send, Receive or an unsubscribe
// function without deadlocking; long work belongs on its own goroutine.
//
// Malformed payloads are dropped with a logged diagnostic and never reach a
// listener. Replacing a strategy drops its listeners.
package channel
