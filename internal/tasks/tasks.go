package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/repositories"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"golang.org/x/sync/semaphore"
)

// HistoryFetcher returns a user's recent listening history, most recent first.
//
// Implemented by [services.YouTubeService].
type HistoryFetcher interface {
	FetchRecentHistory(ctx context.Context, creds models.Credentials) ([]models.RawPlay, error)
}

// ScrobbleSubmitter forwards one play to the scrobble service at a unix timestamp.
//
// Implemented by [services.LastFMService].
type ScrobbleSubmitter interface {
	SubmitScrobble(ctx context.Context, creds models.Credentials, track models.NormalizedTrack, timestamp int64) error
}

// DedupStore records which tracks have been forwarded per user.
//
// Implemented by [repositories.ScrobbleRepository].
type DedupStore interface {
	Lookup(ctx context.Context, userID string, fp models.Fingerprints) (*models.ScrobbleRecord, error)
	Record(ctx context.Context, p repositories.UpsertParams) (bool, error)
	Upsert(ctx context.Context, p repositories.UpsertParams) (repositories.UpsertOutcome, *models.ScrobbleRecord, error)
}

// SyncStateStore persists the outcome of a pass on the user row.
type SyncStateStore interface {
	RecordSyncOutcome(ctx context.Context, id string, at time.Time, category shared.ErrorCategory, message string) error
}

// UserSource selects and loads the users a batch processes.
//
// Implemented by [repositories.UserRepository].
type UserSource interface {
	ListEligibleIDs(ctx context.Context, now time.Time, limit, offset int) ([]string, error)
	CountEligible(ctx context.Context, now time.Time) (int, error)
	FilterEligible(ctx context.Context, now time.Time, ids []string) ([]string, error)
	GetMany(ctx context.Context, ids []string) ([]*models.User, error)
}

// RunRecorder keeps the audit trail of batch runs.
//
// Implemented by [repositories.SyncRunRepository].
type RunRecorder interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Complete(ctx context.Context, run *models.SyncRun) error
}

// UserSyncer runs one pass for one user.
type UserSyncer interface {
	SyncUser(ctx context.Context, user *models.User) (*SyncResult, error)
}

// keyedMutex serializes work per key. Entries are dropped once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// lock waits until key is free or ctx is done and returns the matching unlock.
func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		k.release(key, l)
		return nil, err
	}
	return func() {
		l.sem.Release(1)
		k.release(key, l)
	}, nil
}

func (k *keyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// sendProgress sends a progress update without blocking.
func sendProgress(ch chan<- ProgressUpdate, update ProgressUpdate) {
	if ch == nil {
		return
	}
	select {
	case ch <- update:
	default:
	}
}
