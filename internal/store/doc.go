// Package store provides SQLite-backed durable storage for the asset cache.
//
// The store holds:
//   - Generations: one row per cache generation, in creation order
//   - Responses: captured responses keyed by (generation, method, url)
//   - Flags: durable key/boolean records (the pending-sync flag)
//
// # Invariants
//
// Responses belong to exactly one generation and are removed with it
// (ON DELETE CASCADE). Only GET responses with a 2xx status are ever stored.
// Writes overwrite by key; concurrent writers for the same key race and the
// last committed write wins.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce generation ownership
package store
