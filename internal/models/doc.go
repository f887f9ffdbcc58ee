// Package models defines domain entities and persistence interfaces for the scrobble sync service.
//
// The package contains two categories of types:
//
// 1. Value types passed between the sync stages
//   - [RawPlay] : a listening-history entry as received from YouTube Music
//   - [NormalizedTrack] : the identity-bearing form of a play plus its display metadata
//   - [Fingerprints] : the ById / ByTitleArtist / ByNormalized identity set of a play
//   - [ScrobbleRecord] : the dedup store row proving a track was forwarded
//   - [Credentials] : the explicit per-user credential bundle for both services
//
// 2. Persistent entities with lifecycle management
//   - [User] : an account with its [Settings], credentials and sync state
//   - [SyncRun] : one batch invocation and its aggregate outcome
//
// Persistent entities embed [Entity] and implement the [Model] interface.
// The [Repository] interface defines the CRUD operations shared by their stores.
package models
