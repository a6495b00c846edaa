// Package bus provides the ephemeral publish/subscribe backends that carry
// broadcast channel traffic between contexts.
//
// # Available Implementations
//
//   - NATSBus: core NATS subjects, for contexts in separate processes
//   - MemoryBus: in-process fan-out, for tests and single-binary deployments
//
// # Usage
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//	sub, _ := b.Subscribe("img2img-channel")
//	b.Publish("img2img-channel", data)
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// Neither implementation buffers for subscribers that do not exist yet.
// Every live subscription has its own unbounded queue: Publish never waits
// on a slow subscriber and never drops a message for one that is still
// subscribed.
package bus
