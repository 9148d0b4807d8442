// Package merge combines a replaying source and a periodic ticker into one
// stream of triggers.
//
// A trigger is emitted for every value the source delivers and for every
// tick. A tick trigger carries the latest source value; ticks that arrive
// before any value has been seen are dropped. Recording a source value and
// emitting its trigger happen under one lock, so a tick can never resolve
// against a value whose change trigger has not been emitted yet.
//
// The stream has no notion of staleness. Deciding which trigger wins is the
// consumer's job.
package merge
