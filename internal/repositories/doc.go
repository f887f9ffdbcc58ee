// Package repositories implements SQLite persistence for all domain entities.
//
// Each repository owns one table and takes a [context.Context] on every call so store
// operations can be bounded independently of the caller's deadline. Driver failures are
// wrapped as [shared.ErrStoreUnavailable].
//
// Key Implementations:
//   - [UserRepository] : Accounts, per-user settings and credentials, and sync eligibility
//   - [ScrobbleRepository] : The dedup store of track identities already forwarded per user
//   - [SyncRunRepository] : Batch run history with aggregate counts
//
// Sequence numbers provide stable, human-readable ordering (e.g., user #42, run #15) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
