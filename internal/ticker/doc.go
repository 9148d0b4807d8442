// Package ticker runs a callback at a fixed interval until stopped.
//
// The first tick fires one interval after Start, never immediately. Ticks
// carry no payload; callers resolve whatever state they need when the tick
// arrives. StartFunc lets callers (and tests) swap in a hand-driven ticker.
package ticker
