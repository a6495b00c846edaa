// Package state provides the shared key-value backends behind the durable
// channel fallback.
//
// A Store holds one value per key and reports changes to watchers. It is
// deliberately simple: there is no locking, no history and no transaction
// support, and concurrent writers race with last-writer-wins semantics.
//
// # Implementations
//
//   - NATSStore: NATS JetStream KV, for contexts in separate processes
//   - MemoryStore: in-process, for tests and single-binary deployments
//
// # Usage
//
//	store := state.NewMemoryStore()
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	ch, _ := store.Watch(ctx, "img2img-messages")
//
//	store.Put("img2img-messages", data)
//	for kv := range ch {
//	    fmt.Printf("%s changed at revision %d\n", kv.Key, kv.Revision)
//	}
//
// MemoryStore does not notify watchers when a Put stores bytes identical to
// the current value. Writers that need every write observed must make each
// value distinct.
package state
