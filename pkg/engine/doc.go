// Package engine implements the core of the loom runtime-instrumentation
// engine: exclusion matching, plugin discovery and pipeline composition,
// host attachment, load-event observation, and once-per-context
// registration bookkeeping.
//
// The engine is purely reactive. It installs a subscription on a Host and
// from then on every unit the host loads flows through the exclusion
// matcher, the composed rule pipeline, and the load-event listener. The
// matcher and pipeline are built once at attach time and are immutable,
// read-only shared data afterwards; the context tracker is the only mutable
// shared structure and is protected by fine-grained per-context locking.
//
// Instrumentation is best-effort: a failed rewrite loads the original unit,
// a failed registration leaves the context marked, and only a host-level
// attach failure propagates to the caller.
package engine
