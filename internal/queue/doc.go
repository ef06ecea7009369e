// Package queue defines the durable work items fieldsync tracks and the
// SQLite-backed record stores that persist them.
//
// Two item families exist: observations (metadata plus any number of media
// parts) and voice-note tasks. Both progress through an explicit sync state
// graph; every edge is declared in transitions.go and nothing outside that
// graph is ever persisted. The stores expose whole-collection load/save only:
// engines mutate their in-memory index first and then flush the entire family
// collection in one transaction, trading write amplification for a store that
// can never hold a partially applied mutation.
//
// Treat this package as the single source of truth for item semantics; new
// states or fields require updating the transition tables and bumping
// schemaVersion.
package queue
