// Package storage persists the post queue, the attempt log and notifier
// dedup state.
//
// Drivers:
//   - "file": JSON Lines journals compacted into snapshots
//   - "sqlite": a SQLite database (modernc.org/sqlite, pure Go)
//
// An empty driver (or "none") disables persistence; callers then run
// with in-memory state only.
package storage
