// Package source describes where a stage reads from or writes to.
//
// A Descriptor is either a remote address or a named local store. Its
// identity never changes; the StageContext it carries is the per-run
// side channel (method, data format, encryption, fetched bytes, forwarded
// value) and is only ever replaced through methods that return a new
// Descriptor, so two stages never share one.
//
// RunConfig is the caller's description of a whole sequence: a first
// descriptor, an optional second one, and the method, data format and
// encryption the run uses. Stages derives the two prepared descriptors.
package source
