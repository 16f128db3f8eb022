// Package chain provides a fluent wrapper around Result[T]
// for building synchronous Railway-Oriented chains using solo primitives.
//
// Key operations:
// - Start/FromValue: begin a chain from a Result[T] or value
// - Then/ThenTry/Map: move to a new value type
// - Step/Guard: refine or check the current value
// - Ensure/OnFailure: side effects on one track
// - Finally: collapse the chain into a final value via handlers
package chain
