// Package store provides SQLite-backed durable storage for the activity
// history of the purchase worker.
//
// Every finished request produces one activity row and the ordered attempt
// log of its flow. Rows are append-only; the only deletion is retention
// pruning, which keeps the newest N activities and cascades to their
// attempts.
//
// # Ordering
//
//   - Activity rows are ordered by seq, an INTEGER assigned on insert,
//     never by timestamps, so history reads are stable even when wall
//     clocks are skewed.
//   - Attempts are ordered by their position in the flow's attempt log.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
