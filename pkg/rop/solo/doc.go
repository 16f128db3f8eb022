// Package solo contains single-value, synchronous ROP primitives that operate
// on Result[T]. Every function leaves a failed or cancelled input untouched
// and only runs its callback on the success track, so a sequence of calls
// stops doing work at the first failure.
//
// Highlights:
// - Switch/Try/Map: move to the next value on success
// - FailOnError: turn a check into a failure without changing the value
// - Tee/DoubleTee: side-effect helpers
// - ValidateAll/Join: run several checks and fold their errors
// - Finally: reduce to a concrete value via success/error/cancel handlers
package solo
