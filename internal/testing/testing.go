// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
)

// SetupTestDB creates an in-memory SQLite database with migrations applied.
// The database is closed when the test ends.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// Play builds a [models.RawPlay] with the given identity fields.
func Play(videoID, title, artist string) models.RawPlay {
	return models.RawPlay{VideoID: videoID, Title: title, Artist: artist}
}

// FakeFetcher is a test double for [tasks.HistoryFetcher].
//
// Histories and errors are keyed by the YouTube auth file of the credentials.
type FakeFetcher struct {
	mu      sync.Mutex
	history map[string][]models.RawPlay
	errs    map[string]error
	calls   int

	// BeforeFetch runs on every call when set, outside the fake's lock.
	BeforeFetch func(ctx context.Context, creds models.Credentials)
}

func NewFakeFetcher() *FakeFetcher {
	return &FakeFetcher{history: make(map[string][]models.RawPlay), errs: make(map[string]error)}
}

func (f *FakeFetcher) SetHistory(authFile string, plays ...models.RawPlay) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[authFile] = plays
}

func (f *FakeFetcher) SetError(authFile string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[authFile] = err
}

func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeFetcher) FetchRecentHistory(ctx context.Context, creds models.Credentials) ([]models.RawPlay, error) {
	if f.BeforeFetch != nil {
		f.BeforeFetch(ctx, creds)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if err := f.errs[creds.YouTube.AuthFile]; err != nil {
		return nil, err
	}
	plays := f.history[creds.YouTube.AuthFile]
	out := make([]models.RawPlay, len(plays))
	for i, p := range plays {
		p.Position = i
		out[i] = p
	}
	return out, nil
}

// Submission is one call recorded by [FakeSubmitter].
type Submission struct {
	Creds     models.Credentials
	Track     models.NormalizedTrack
	Timestamp int64
}

// FakeSubmitter is a test double for [tasks.ScrobbleSubmitter] that records every accepted submission.
type FakeSubmitter struct {
	mu          sync.Mutex
	submissions []Submission
	attempts    int

	// ErrFor decides the outcome per track when set. A nil result accepts the submission.
	ErrFor func(track models.NormalizedTrack) error
}

func (f *FakeSubmitter) SubmitScrobble(ctx context.Context, creds models.Credentials, track models.NormalizedTrack, timestamp int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++

	if f.ErrFor != nil {
		if err := f.ErrFor(track); err != nil {
			return err
		}
	}
	f.submissions = append(f.submissions, Submission{Creds: creds, Track: track, Timestamp: timestamp})
	return nil
}

// Submissions returns a copy of the accepted submissions in call order.
func (f *FakeSubmitter) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission(nil), f.submissions...)
}

// Attempts counts every call, accepted or not.
func (f *FakeSubmitter) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// CountFor counts accepted submissions of a title for one Last.fm session.
func (f *FakeSubmitter) CountFor(sessionKey, title string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, s := range f.submissions {
		if s.Creds.LastFM.SessionKey == sessionKey && s.Track.Title == title {
			n++
		}
	}
	return n
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
