package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/repositories"
	"github.com/desertthunder/ytscrobble/internal/shared"
	tu "github.com/desertthunder/ytscrobble/internal/testing"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	db        *sql.DB
	users     *repositories.UserRepository
	scrobbles *repositories.ScrobbleRepository
	runs      *repositories.SyncRunRepository
	fetcher   *tu.FakeFetcher
	submitter *tu.FakeSubmitter
	engine    *SyncEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := tu.SetupTestDB(t)
	f := &fixture{
		db:        db,
		users:     repositories.NewUserRepository(db),
		scrobbles: repositories.NewScrobbleRepository(db),
		runs:      repositories.NewSyncRunRepository(db),
		fetcher:   tu.NewFakeFetcher(),
		submitter: &tu.FakeSubmitter{},
	}
	f.engine = f.newEngine(EngineOptions{})
	return f
}

func (f *fixture) newEngine(opts EngineOptions) *SyncEngine {
	opts.LastFMAPIKey = "app-key"
	opts.LastFMAPISecret = "app-secret"
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	return NewSyncEngine(f.fetcher, f.submitter, f.scrobbles, f.users, opts)
}

// addUser creates an auto-scrobbling user whose history is served under "<email>.json".
func (f *fixture) addUser(t *testing.T, email string) *models.User {
	t.Helper()
	ctx := context.Background()

	user := models.NewUser(0, email, "Test User")
	user.Settings.AutoScrobble = true
	if err := f.users.Create(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	creds := models.Credentials{
		YouTube: models.YouTubeCredentials{AuthFile: email + ".json"},
		LastFM:  models.LastFMCredentials{SessionKey: "sk-" + email, Username: email},
	}
	if err := f.users.SaveCredentials(ctx, user.ID(), creds); err != nil {
		t.Fatalf("failed to save credentials: %v", err)
	}
	return f.reload(t, user.ID())
}

func (f *fixture) reload(t *testing.T, id string) *models.User {
	t.Helper()
	user, err := f.users.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to reload user: %v", err)
	}
	return user
}

func (f *fixture) recordCount(t *testing.T, userID string) int {
	t.Helper()
	n, err := f.scrobbles.CountByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("CountByUser() error = %v", err)
	}
	return n
}

func TestSyncUser(t *testing.T) {
	ctx := context.Background()

	t.Run("submits new plays and records them", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v2", "Stay", "Rihanna"),
		)

		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.Fetched != 2 || res.NewScrobbles != 2 || res.AlreadyScrobbled != 0 {
			t.Errorf("unexpected result %+v", res)
		}
		if got := f.recordCount(t, user.ID()); got != 2 {
			t.Errorf("expected 2 records, got %d", got)
		}

		subs := f.submitter.Submissions()
		if len(subs) != 2 {
			t.Fatalf("expected 2 submissions, got %d", len(subs))
		}
		if subs[0].Track.DisplayArtist != "Beyoncé" {
			t.Errorf("expected display metadata to be submitted, got %+v", subs[0].Track)
		}
		if subs[0].Creds.LastFM.APIKey != "app-key" || subs[0].Creds.LastFM.SessionKey != "sk-alice@example.com" {
			t.Errorf("expected application keys merged with the user session, got %v", subs[0].Creds.LastFM)
		}

		updated := f.reload(t, user.ID())
		if updated.LastSyncAt == nil || !updated.LastSyncAt.Equal(testNow) {
			t.Errorf("expected last_sync_at %v, got %v", testNow, updated.LastSyncAt)
		}
	})

	t.Run("repeated passes never resubmit", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v2", "Stay", "Rihanna"),
		)

		for range 3 {
			if _, err := f.engine.SyncUser(ctx, user); err != nil {
				t.Fatalf("SyncUser() error = %v", err)
			}
		}

		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.NewScrobbles != 0 || res.AlreadyScrobbled != 2 {
			t.Errorf("expected everything already scrobbled, got %+v", res)
		}
		if n := f.submitter.Attempts(); n != 2 {
			t.Errorf("expected 2 submissions over four passes, got %d", n)
		}
	})

	t.Run("reordered history is treated as the same set", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		a, b := tu.Play("v1", "Halo", "Beyoncé"), tu.Play("v2", "Stay", "Rihanna")

		f.fetcher.SetHistory("alice@example.com.json", a, b)
		if _, err := f.engine.SyncUser(ctx, user); err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}

		f.fetcher.SetHistory("alice@example.com.json", b, a)
		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.NewScrobbles != 0 {
			t.Errorf("expected no new scrobbles after reordering, got %d", res.NewScrobbles)
		}
	})

	t.Run("duplicate within one fetch is submitted once", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v2", "Stay", "Rihanna"),
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("", "halo", "beyoncé"),
		)

		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.NewScrobbles != 2 || res.AlreadyScrobbled != 2 {
			t.Errorf("expected 2 new and 2 already scrobbled, got %+v", res)
		}
		if n := f.submitter.CountFor("sk-alice@example.com", "halo"); n != 1 {
			t.Errorf("expected halo submitted once, got %d", n)
		}
	})

	t.Run("fallback finds records stored under a lower level", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")

		// first seen without a video id, so stored under its title/artist key
		f.fetcher.SetHistory("alice@example.com.json", tu.Play("", "Halo", "Beyoncé"))
		if _, err := f.engine.SyncUser(ctx, user); err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}

		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v9", "Halo (Official Video)", "Beyonce"),
		)
		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.NewScrobbles != 0 || res.AlreadyScrobbled != 2 {
			t.Errorf("expected both variants matched, got %+v", res)
		}
		if n := f.submitter.Attempts(); n != 1 {
			t.Errorf("expected a single submission, got %d", n)
		}
	})

	t.Run("entries without title or artist are skipped", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "", "Beyoncé"),
			tu.Play("v2", "Stay", "   "),
			tu.Play("v3", "Halo", "Beyoncé"),
		)

		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.Skipped != 2 || res.NewScrobbles != 1 {
			t.Errorf("expected 2 skipped and 1 new, got %+v", res)
		}
	})

	t.Run("only the history window is considered", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")

		plays := make([]models.RawPlay, 12)
		for i := range plays {
			plays[i] = tu.Play(fmt.Sprintf("v%d", i), fmt.Sprintf("Song %d", i), "Artist")
		}
		f.fetcher.SetHistory("alice@example.com.json", plays...)

		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.Fetched != defaultHistoryWindow || res.NewScrobbles != defaultHistoryWindow {
			t.Errorf("expected %d plays, got %+v", defaultHistoryWindow, res)
		}
	})

	t.Run("timestamps are back-dated from the pass start", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")

		first := tu.Play("v1", "Halo", "Beyoncé")
		first.DurationSeconds = 261
		f.fetcher.SetHistory("alice@example.com.json", first, tu.Play("v2", "Stay", "Rihanna"))

		if _, err := f.engine.SyncUser(ctx, user); err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}

		subs := f.submitter.Submissions()
		want := []int64{testNow.Unix() - 261, testNow.Unix() - 261 - defaultSpacingSeconds}
		for i, s := range subs {
			if s.Timestamp != want[i] {
				t.Errorf("submission %d: timestamp = %d, want %d", i, s.Timestamp, want[i])
			}
		}
	})

	t.Run("empty history is a successful pass", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")

		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.Fetched != 0 || res.Category != shared.CategoryNone {
			t.Errorf("unexpected result %+v", res)
		}
		if f.reload(t, user.ID()).LastSyncAt == nil {
			t.Error("expected last_sync_at to be set")
		}
	})
}

func TestSyncUserFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected track is isolated", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.submitter.ErrFor = func(track models.NormalizedTrack) error {
			if track.Title == "bad" {
				return fmt.Errorf("%w: ignored", shared.ErrSubmitRejected)
			}
			return nil
		}
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v2", "Bad", "Band"),
			tu.Play("v3", "Stay", "Rihanna"),
		)

		res, err := f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("expected the pass to complete, got %v", err)
		}
		if res.NewScrobbles != 2 || len(res.Errors) != 1 {
			t.Fatalf("expected 2 new and 1 error, got %+v", res)
		}
		if res.Errors[0].Category != shared.CategoryRejected || res.Category != shared.CategoryRejected {
			t.Errorf("expected submit_rejected, got %+v", res.Errors[0])
		}

		// the rejected play was never marked, so the next pass tries it again
		res, err = f.engine.SyncUser(ctx, user)
		if err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		if res.AlreadyScrobbled != 2 || len(res.Errors) != 1 {
			t.Errorf("expected the rejected play retried, got %+v", res)
		}
	})

	t.Run("auth failure stops the pass and flags the user", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.submitter.ErrFor = func(models.NormalizedTrack) error {
			return fmt.Errorf("%w: invalid session", shared.ErrAuthFailed)
		}
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v2", "Stay", "Rihanna"),
			tu.Play("v3", "Diamonds", "Rihanna"),
		)

		res, err := f.engine.SyncUser(ctx, user)
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Fatalf("expected ErrAuthFailed, got %v", err)
		}
		if f.submitter.Attempts() != 1 || res.Deferred != 2 {
			t.Errorf("expected one attempt and 2 deferred plays, got %d attempts, %+v", f.submitter.Attempts(), res)
		}
		if f.recordCount(t, user.ID()) != 0 {
			t.Error("expected nothing recorded")
		}

		updated := f.reload(t, user.ID())
		if !updated.AuthFlagged() {
			t.Errorf("expected user flagged for auth, got %+v", updated.LastError)
		}
		if updated.Eligible(testNow.Add(time.Hour)) {
			t.Error("expected flagged user to be ineligible")
		}
	})

	t.Run("rate limiting defers the remaining plays", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.submitter.ErrFor = func(track models.NormalizedTrack) error {
			if track.Title == "stay" {
				return fmt.Errorf("%w: slow down", shared.ErrRateLimited)
			}
			return nil
		}
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v2", "Stay", "Rihanna"),
			tu.Play("v3", "Diamonds", "Rihanna"),
		)

		res, err := f.engine.SyncUser(ctx, user)
		if !errors.Is(err, shared.ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
		if res.NewScrobbles != 1 || res.Deferred != 1 || res.Category != shared.CategoryTransient {
			t.Errorf("unexpected result %+v", res)
		}
		if f.reload(t, user.ID()).AuthFlagged() {
			t.Error("rate limiting must not flag the user")
		}
	})

	t.Run("fetch failure still stamps last_sync_at", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetError("alice@example.com.json", fmt.Errorf("%w: proxy down", shared.ErrUpstreamUnavailable))

		res, err := f.engine.SyncUser(ctx, user)
		if !errors.Is(err, shared.ErrUpstreamUnavailable) {
			t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
		}
		if res.Category != shared.CategoryTransient {
			t.Errorf("expected transient category, got %q", res.Category)
		}

		updated := f.reload(t, user.ID())
		if updated.LastSyncAt == nil || updated.LastError.Category != shared.CategoryTransient {
			t.Errorf("expected sync stamped with transient error, got %v %+v", updated.LastSyncAt, updated.LastError)
		}
	})

	t.Run("missing credentials flag the user", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetError("alice@example.com.json", fmt.Errorf("%w: no browser.json", shared.ErrMissingCredentials))

		if _, err := f.engine.SyncUser(ctx, user); shared.Categorize(err) != shared.CategoryAuth {
			t.Fatalf("expected auth category, got %v", err)
		}
		if !f.reload(t, user.ID()).AuthFlagged() {
			t.Error("expected user flagged")
		}
	})

	t.Run("store failure aborts the pass", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json", tu.Play("v1", "Halo", "Beyoncé"))
		f.db.Close()

		res, err := f.engine.SyncUser(ctx, user)
		if !errors.Is(err, shared.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
		if res.Category != shared.CategoryStore {
			t.Errorf("expected store category, got %q", res.Category)
		}
		if f.submitter.Attempts() != 0 {
			t.Error("nothing should be submitted when the store is unavailable")
		}
	})

	t.Run("forwarded play is recorded after cancellation", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json",
			tu.Play("v1", "Halo", "Beyoncé"),
			tu.Play("v2", "Stay", "Rihanna"),
		)

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		f.submitter.ErrFor = func(models.NormalizedTrack) error {
			cancel()
			return nil
		}

		_, err := f.engine.SyncUser(cctx, user)
		if !errors.Is(err, shared.ErrTimeout) {
			t.Fatalf("expected the pass to be interrupted, got %v", err)
		}
		if n := f.recordCount(t, user.ID()); n != 1 {
			t.Errorf("expected the forwarded play recorded, got %d records", n)
		}
		if f.submitter.Attempts() != 1 {
			t.Errorf("expected a single submission, got %d", f.submitter.Attempts())
		}
	})
}

func TestSyncUserConcurrency(t *testing.T) {
	ctx := context.Background()
	history := []models.RawPlay{
		tu.Play("v1", "Halo", "Beyoncé"),
		tu.Play("v2", "Stay", "Rihanna"),
		tu.Play("", "Diamonds", "Rihanna"),
	}

	t.Run("overlapping passes for one user submit once", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json", history...)

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.engine.SyncUser(ctx, user); err != nil {
					t.Errorf("SyncUser() error = %v", err)
				}
			}()
		}
		wg.Wait()

		for _, title := range []string{"halo", "stay", "diamonds"} {
			if n := f.submitter.CountFor("sk-alice@example.com", title); n != 1 {
				t.Errorf("%s submitted %d times", title, n)
			}
		}
	})

	t.Run("independent engines share one record per track", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")
		f.fetcher.SetHistory("alice@example.com.json", history...)

		engines := []*SyncEngine{f.engine, f.newEngine(EngineOptions{}), f.newEngine(EngineOptions{})}

		var wg sync.WaitGroup
		for _, e := range engines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.SyncUser(ctx, user); err != nil {
					t.Errorf("SyncUser() error = %v", err)
				}
			}()
		}
		wg.Wait()

		records, err := f.scrobbles.ListByUser(ctx, user.ID(), 10, 0)
		if err != nil {
			t.Fatalf("ListByUser() error = %v", err)
		}
		if len(records) != len(history) {
			t.Fatalf("expected %d records, got %d", len(history), len(records))
		}
		for _, r := range records {
			if r.ScrobbleCount != 1 {
				t.Errorf("%s: expected count 1, got %d", r.TrackUID, r.ScrobbleCount)
			}
		}
	})

	t.Run("users are isolated", func(t *testing.T) {
		f := newFixture(t)
		alice := f.addUser(t, "alice@example.com")
		bob := f.addUser(t, "bob@example.com")
		f.fetcher.SetHistory("alice@example.com.json", history...)
		f.fetcher.SetHistory("bob@example.com.json", history[0])

		for _, u := range []*models.User{alice, bob} {
			if _, err := f.engine.SyncUser(ctx, u); err != nil {
				t.Fatalf("SyncUser() error = %v", err)
			}
		}

		if n := f.submitter.CountFor("sk-bob@example.com", "halo"); n != 1 {
			t.Errorf("expected bob's halo submitted once, got %d", n)
		}
		if n := f.recordCount(t, bob.ID()); n != 1 {
			t.Errorf("expected 1 record for bob, got %d", n)
		}
	})
}

func TestPreview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, "alice@example.com")

	f.fetcher.SetHistory("alice@example.com.json", tu.Play("v1", "Halo", "Beyoncé"))
	if _, err := f.engine.SyncUser(ctx, user); err != nil {
		t.Fatalf("SyncUser() error = %v", err)
	}

	f.fetcher.SetHistory("alice@example.com.json",
		tu.Play("v1", "Halo", "Beyoncé"),
		tu.Play("v2", "Stay", "Rihanna"),
		tu.Play("v3", "", ""),
	)
	entries, err := f.engine.Preview(ctx, user)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if !entries[0].Scrobbled || entries[0].Record == nil || entries[0].Record.ScrobbleCount != 1 {
		t.Errorf("expected first entry scrobbled, got %+v", entries[0])
	}
	if entries[1].Scrobbled || entries[1].Skipped {
		t.Errorf("expected second entry new, got %+v", entries[1])
	}
	if !entries[2].Skipped {
		t.Errorf("expected third entry skipped, got %+v", entries[2])
	}
	if f.submitter.Attempts() != 1 {
		t.Error("preview must not submit")
	}

	t.Run("fetch error", func(t *testing.T) {
		f.fetcher.SetError("alice@example.com.json", fmt.Errorf("%w: expired", shared.ErrAuthFailed))
		if _, err := f.engine.Preview(ctx, user); !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
	})
}

func TestScrobbleTrack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.addUser(t, "alice@example.com")
	play := tu.Play("", "Halo", "Beyoncé")

	res, err := f.engine.ScrobbleTrack(ctx, user, play, false)
	if err != nil {
		t.Fatalf("ScrobbleTrack() error = %v", err)
	}
	if res.Outcome != ScrobbleCreated || res.Record.ScrobbleCount != 1 {
		t.Errorf("expected a created record, got %+v", res)
	}

	t.Run("recorded track is not submitted again", func(t *testing.T) {
		res, err := f.engine.ScrobbleTrack(ctx, user, play, false)
		if err != nil {
			t.Fatalf("ScrobbleTrack() error = %v", err)
		}
		if res.Outcome != ScrobbleRecorded || res.Record.ScrobbleCount != 1 {
			t.Errorf("expected the existing record, got %+v", res)
		}
		if n := f.submitter.CountFor("sk-alice@example.com", "halo"); n != 1 {
			t.Errorf("expected 1 submission, got %d", n)
		}
	})

	t.Run("track recorded by a sync pass is not submitted again", func(t *testing.T) {
		bob := f.addUser(t, "bob@example.com")
		f.fetcher.SetHistory("bob@example.com.json", tu.Play("v9", "Stay", "Rihanna"))
		if _, err := f.engine.SyncUser(ctx, bob); err != nil {
			t.Fatalf("SyncUser() error = %v", err)
		}
		before := f.submitter.Attempts()

		res, err := f.engine.ScrobbleTrack(ctx, bob, tu.Play("v9", "Stay", "Rihanna"), false)
		if err != nil {
			t.Fatalf("ScrobbleTrack() error = %v", err)
		}
		if res.Outcome != ScrobbleRecorded {
			t.Errorf("expected already_scrobbled, got %q", res.Outcome)
		}
		if f.submitter.Attempts() != before {
			t.Error("expected no submission for a recorded track")
		}
	})

	t.Run("force submits and increments", func(t *testing.T) {
		res, err := f.engine.ScrobbleTrack(ctx, user, play, true)
		if err != nil {
			t.Fatalf("ScrobbleTrack() error = %v", err)
		}
		if res.Outcome != ScrobbleIncremented || res.Record.ScrobbleCount != 2 {
			t.Errorf("expected an incremented record, got %+v", res)
		}
		if res.Record.LastScrobbleTime != testNow.Unix() {
			t.Errorf("expected last scrobble time %d, got %d", testNow.Unix(), res.Record.LastScrobbleTime)
		}
	})

	t.Run("requires title and artist", func(t *testing.T) {
		if _, err := f.engine.ScrobbleTrack(ctx, user, tu.Play("", "Halo", ""), false); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("submit failure records nothing", func(t *testing.T) {
		f.submitter.ErrFor = func(models.NormalizedTrack) error { return shared.ErrSubmitRejected }
		defer func() { f.submitter.ErrFor = nil }()

		if _, err := f.engine.ScrobbleTrack(ctx, user, tu.Play("", "Stay", "Rihanna"), false); !errors.Is(err, shared.ErrSubmitRejected) {
			t.Errorf("expected ErrSubmitRejected, got %v", err)
		}
		if n := f.recordCount(t, user.ID()); n != 1 {
			t.Errorf("expected 1 record, got %d", n)
		}
	})
}

func TestKeyedMutex(t *testing.T) {
	t.Run("one holder per key", func(t *testing.T) {
		k := newKeyedMutex()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := k.lock(context.Background(), "user")
				if err != nil {
					t.Errorf("lock() error = %v", err)
					return
				}
				defer unlock()

				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			}()
		}
		wg.Wait()

		if maxSeen != 1 {
			t.Errorf("expected one holder at a time, saw %d", maxSeen)
		}
		if len(k.locks) != 0 {
			t.Errorf("expected released keys to be dropped, %d left", len(k.locks))
		}
	})

	t.Run("waiting gives up with the context", func(t *testing.T) {
		k := newKeyedMutex()
		unlock, err := k.lock(context.Background(), "user")
		if err != nil {
			t.Fatalf("lock() error = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		if _, err := k.lock(ctx, "user"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got %v", err)
		}

		unlock()
		if len(k.locks) != 0 {
			t.Errorf("expected released keys to be dropped, %d left", len(k.locks))
		}
	})

	t.Run("queued pass respects the batch deadline", func(t *testing.T) {
		f := newFixture(t)
		user := f.addUser(t, "alice@example.com")

		unlock, err := f.engine.locks.lock(context.Background(), user.ID())
		if err != nil {
			t.Fatalf("lock() error = %v", err)
		}
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		res, err := f.engine.SyncUser(ctx, user)
		if !errors.Is(err, context.DeadlineExceeded) || res != nil {
			t.Errorf("expected the pass to give up, got %+v, %v", res, err)
		}
		if shared.Categorize(err) != shared.CategoryTransient {
			t.Errorf("expected a transient category, got %q", shared.Categorize(err))
		}
	})
}
