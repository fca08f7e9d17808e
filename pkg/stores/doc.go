// Package stores persists loom's audit trail: one row per load event and
// one row per engine attach, in an embedded SQLite database. The journal
// implements engine.EventSink; queries over it back the CLI's inspection
// commands.
package stores
