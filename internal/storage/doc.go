// Package storage persists the bot's accounting state.
//
// It holds:
//   - Usage counters (per user, per category, rolling daily window)
//   - Cooldown timestamps
//   - The gender registry and welcome dedup for the menfess handlers
//   - Audit log appends
//
// The sqlite driver is the production backend; the memory driver exists
// for tests and replicates the same reserve/release semantics.
package storage
