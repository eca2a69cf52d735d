// Package store is the SQLite journal of update sessions.
//
// Every session gets a row in sessions when it starts; each phase outcome
// is appended to phase_outcomes as it is recorded, and the session row is
// completed when the session ends. A session interrupted by a crash stays
// in its last recorded state.
//
// # Ordering
//
//   - Rows are ordered by seq, a logical clock shared by both tables
//   - seq resumes from the highest stored value when a journal is reopened
//   - Wall-clock times are informational only
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
