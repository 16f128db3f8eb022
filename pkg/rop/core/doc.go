// Package core contains worker plumbing: the locomotive loop that drains a
// job channel, Lines to run several of them side by side, and options carried
// through a context.Context (worker count, what to do with queued jobs on
// cancellation). It holds no business logic; execution lanes and the
// completion context are built on it.
package core
