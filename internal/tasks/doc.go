// Package tasks runs the scrobble sync: per-user passes and batches across users.
//
// # Sync Engine
//
// [SyncEngine.SyncUser] performs one pass for one user:
//
//  1. Fetch the recent listening history ([HistoryFetcher]), keeping the first history_window entries
//  2. Normalize and fingerprint each play, skipping entries without a title or artist
//  3. Look the play up in the [DedupStore]; a match is never resubmitted
//  4. Submit new plays ([ScrobbleSubmitter]) with back-dated timestamps and record them
//  5. Store last_sync_at and the error category on the user
//
// The upstream list is treated as an unordered bag: position never takes part in identity.
// Auth and rate limit failures stop further submits for the pass; other submit failures are
// isolated to the track. [SyncEngine.Preview] classifies without submitting and
// [SyncEngine.ScrobbleTrack] forwards a single play on demand.
//
// # Batch Coordinator
//
// [BatchCoordinator.Run] selects eligible users stale-first, loads them in chunks and runs
// their passes through an errgroup with a concurrency limit. One user's failure or panic is
// recorded in the [BatchResult] and never stops the others.
//
// # Progress Reporting
//
// [ProgressUpdate] values are sent with select and default so a slow reader never blocks a batch.
package tasks
