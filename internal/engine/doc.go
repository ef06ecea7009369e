// Package engine hosts the durable queues and their sync pipelines. Each
// family (observations, tasks) owns its collection exclusively: items are
// loaded once at startup, mutated in memory under a lock, and persisted as a
// whole on every change. An item only ever reaches the complete state after
// the backend has acknowledged every remote side effect.
package engine
