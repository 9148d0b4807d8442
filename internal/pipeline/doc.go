// Package pipeline keeps a derived result consistent with the latest value of
// a replaying source.
//
// A Pipeline merges source changes with a periodic ticker (package merge),
// starts one fetch (package task) per trigger and supersedes the previous
// fetch: every trigger bumps a generation counter, cancels the outstanding
// task and tags the new one. A completion is applied only when its generation
// still matches the pipeline's, so the published output depends on the order
// of source values and never on network latency.
//
// All state changes happen on one event-loop goroutine fed by an unbounded
// FIFO queue. Producers (source observers, ticks, task completions) never
// block and never touch pipeline state directly.
//
// Dispose tears everything down once, in a fixed order: source unsubscribe,
// ticker stop, task cancel. Each step runs even if an earlier one panics.
// After Dispose, no output observer is called again.
package pipeline
