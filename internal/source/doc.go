// Package source provides Source, a replaying value holder.
//
// A Source holds the latest value (if any) and broadcasts every change to its
// subscribers in subscription order. A new subscriber receives the latest value
// before any later change (replay-of-one), so it never observes a gap between
// "what is current" and "what changes next".
//
// Delivery runs on the goroutine whose Set or Subscribe started it. Observers
// may call Set, Subscribe or Unsubscribe on the same Source from inside a
// callback; nested Set and Subscribe calls are queued and delivered after the
// current value has reached every observer.
package source
