package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytscrobble/internal/identity"
	"github.com/desertthunder/ytscrobble/internal/metrics"
	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/repositories"
	"github.com/desertthunder/ytscrobble/internal/shared"
)

const (
	defaultHistoryWindow  = 10
	defaultSpacingSeconds = 180
	defaultFetchTimeout   = 30 * time.Second
	defaultSubmitTimeout  = 15 * time.Second
	defaultStoreTimeout   = 5 * time.Second
)

// TrackError records a play that could not be forwarded.
type TrackError struct {
	Title       string               `json:"title"`
	Artist      string               `json:"artist"`
	Fingerprint string               `json:"fingerprint"`
	Category    shared.ErrorCategory `json:"category"`
	Err         error                `json:"-"`
}

func (e TrackError) Error() string {
	return fmt.Sprintf("%s - %s: %v", e.Artist, e.Title, e.Err)
}

// SyncResult summarizes one pass for one user.
type SyncResult struct {
	UserID           string               `json:"user_id"`
	Fetched          int                  `json:"fetched"`
	NewScrobbles     int                  `json:"new_scrobbles"`
	AlreadyScrobbled int                  `json:"already_scrobbled"`
	Skipped          int                  `json:"skipped"`
	Deferred         int                  `json:"deferred"` // new plays left for the next pass after a stop condition
	Errors           []TrackError         `json:"errors,omitempty"`
	Category         shared.ErrorCategory `json:"category,omitempty"`
	Duration         time.Duration        `json:"duration"`
}

// PreviewEntry classifies one fetched play without submitting it.
type PreviewEntry struct {
	Play         models.RawPlay         `json:"play"`
	Track        models.NormalizedTrack `json:"track"`
	Fingerprints models.Fingerprints    `json:"fingerprints"`
	Skipped      bool                   `json:"skipped"`
	Scrobbled    bool                   `json:"scrobbled"`
	Record       *models.ScrobbleRecord `json:"record,omitempty"`
}

// ScrobbleOutcome tells what a manual [SyncEngine.ScrobbleTrack] did.
type ScrobbleOutcome string

const (
	ScrobbleCreated     ScrobbleOutcome = "created"
	ScrobbleIncremented ScrobbleOutcome = "incremented"
	ScrobbleRecorded    ScrobbleOutcome = "already_scrobbled" // nothing submitted
)

// ScrobbleResult is the outcome of a manual [SyncEngine.ScrobbleTrack].
type ScrobbleResult struct {
	Outcome ScrobbleOutcome        `json:"outcome"`
	Record  *models.ScrobbleRecord `json:"record"`
}

// EngineOptions configure a [SyncEngine]. Zero values fall back to defaults.
type EngineOptions struct {
	Normalizer     *identity.Normalizer
	HistoryWindow  int
	SpacingSeconds int
	FetchTimeout   time.Duration
	SubmitTimeout  time.Duration
	StoreTimeout   time.Duration

	// Application Last.fm keys, merged into each user's credentials before submitting.
	LastFMAPIKey    string
	LastFMAPISecret string

	Logger  *log.Logger
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// EngineOptionsFromConfig maps the [sync], [identity] and Last.fm sections of cfg.
func EngineOptionsFromConfig(cfg *shared.Config) (EngineOptions, error) {
	normalizer, err := identity.New(cfg.Identity.NoisePatterns)
	if err != nil {
		return EngineOptions{}, err
	}
	return EngineOptions{
		Normalizer:      normalizer,
		HistoryWindow:   cfg.Sync.HistoryWindow,
		SpacingSeconds:  cfg.Sync.SpacingSeconds,
		FetchTimeout:    cfg.Sync.FetchTimeout.Duration,
		SubmitTimeout:   cfg.Sync.SubmitTimeout.Duration,
		StoreTimeout:    cfg.Sync.StoreTimeout.Duration,
		LastFMAPIKey:    cfg.Credentials.LastFM.APIKey,
		LastFMAPISecret: cfg.Credentials.LastFM.APISecret,
	}, nil
}

// SyncEngine runs sync passes: fetch recent history, skip what was already forwarded,
// submit the rest and record it.
//
// Passes for the same user are serialized inside one process. Across processes the
// unique (user_id, track_uid) constraint decides which pass records a play.
type SyncEngine struct {
	fetcher   HistoryFetcher
	submitter ScrobbleSubmitter
	store     DedupStore
	state     SyncStateStore
	opts      EngineOptions
	logger    *log.Logger
	locks     *keyedMutex
}

// NewSyncEngine creates a new [SyncEngine].
func NewSyncEngine(fetcher HistoryFetcher, submitter ScrobbleSubmitter, store DedupStore, state SyncStateStore, opts EngineOptions) *SyncEngine {
	if opts.Normalizer == nil {
		opts.Normalizer = identity.Default()
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.SpacingSeconds <= 0 {
		opts.SpacingSeconds = defaultSpacingSeconds
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = defaultSubmitTimeout
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &SyncEngine{
		fetcher:   fetcher,
		submitter: submitter,
		store:     store,
		state:     state,
		opts:      opts,
		logger:    logger,
		locks:     newKeyedMutex(),
	}
}

// SyncUser runs one pass for user.
//
// The returned error is nil when the pass completed, even if single tracks were rejected;
// those are listed in [SyncResult.Errors]. Fetch failures, store failures and stop
// conditions (auth, rate limiting) return an error and set [SyncResult.Category].
// The result is non-nil whenever the user could be locked; waiting for another pass of the
// same user gives up when ctx is done.
func (e *SyncEngine) SyncUser(ctx context.Context, user *models.User) (*SyncResult, error) {
	unlock, err := e.locks.lock(ctx, user.ID())
	if err != nil {
		return nil, fmt.Errorf("wait for running pass: %w", err)
	}
	defer unlock()

	start := e.opts.Now()
	logger := e.logger.With("user", user.ID())
	result := &SyncResult{UserID: user.ID()}
	creds := e.credentials(user)

	passErr := e.pass(ctx, logger, user.ID(), creds, start, result)

	result.Category = shared.Categorize(passErr)
	if passErr == nil {
		result.Category = firstTrackCategory(result.Errors)
	}
	result.Duration = e.opts.Now().Sub(start)

	if err := e.recordOutcome(ctx, user.ID(), start, result.Category, passErr, result.Errors); err != nil {
		logger.Error("Failed to record sync outcome", "error", err)
		if passErr == nil {
			passErr = err
			result.Category = shared.Categorize(err)
		}
	}

	e.opts.Metrics.Pass(string(result.Category), result.Duration)
	e.opts.Metrics.Play(metrics.PlaySubmitted, result.NewScrobbles)
	e.opts.Metrics.Play(metrics.PlayAlreadyScrobbled, result.AlreadyScrobbled)
	e.opts.Metrics.Play(metrics.PlaySkipped, result.Skipped)
	e.opts.Metrics.Play(metrics.PlayFailed, len(result.Errors))

	if passErr != nil {
		logger.Warn("Sync pass failed", "category", result.Category, "error", passErr)
		return result, passErr
	}

	logger.Info("Sync pass complete",
		"fetched", result.Fetched,
		"new", result.NewScrobbles,
		"already", result.AlreadyScrobbled,
		"skipped", result.Skipped,
		"failed", len(result.Errors),
	)
	return result, nil
}

func (e *SyncEngine) pass(ctx context.Context, logger *log.Logger, userID string, creds models.Credentials, start time.Time, result *SyncResult) error {
	plays, err := e.fetch(ctx, creds)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	result.Fetched = len(plays)
	if len(plays) == 0 {
		logger.Debug("No recent plays")
		return nil
	}

	var stopErr error
	cursor := start.Unix()

	for _, play := range plays {
		track := e.opts.Normalizer.Normalize(play)
		if !track.Scrobbleable() {
			result.Skipped++
			continue
		}
		fp := e.opts.Normalizer.ComputeFingerprints(track, play.VideoID)

		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: pass interrupted: %v", shared.ErrTimeout, err)
		}

		found, err := e.lookup(ctx, userID, fp)
		if err != nil {
			return err
		}
		if found {
			result.AlreadyScrobbled++
			continue
		}

		if stopErr != nil {
			result.Deferred++
			continue
		}

		cursor -= int64(e.step(play))

		if err := e.submit(ctx, creds, track, cursor); err != nil {
			trackErr := TrackError{
				Title:       track.DisplayTitle,
				Artist:      track.DisplayArtist,
				Fingerprint: fp.Canonical(),
				Category:    shared.Categorize(err),
				Err:         err,
			}
			result.Errors = append(result.Errors, trackErr)
			logger.Warn("Submit failed", "track", track.DisplayTitle, "artist", track.DisplayArtist, "category", trackErr.Category, "error", err)

			if shared.IsStopCondition(err) {
				stopErr = err
			}
			continue
		}

		created, err := e.record(ctx, userID, fp, track, cursor)
		if err != nil {
			logger.Error("Scrobble forwarded but not recorded", "track", track.DisplayTitle, "artist", track.DisplayArtist, "error", err)
			return err
		}
		if created {
			result.NewScrobbles++
		} else {
			logger.Warn("Track was recorded by a concurrent pass", "fingerprint", fp.Canonical())
			result.AlreadyScrobbled++
		}
	}

	if stopErr != nil {
		return fmt.Errorf("submit stopped: %w", stopErr)
	}
	return nil
}

// Preview fetches the user's recent history and classifies each play without submitting anything.
func (e *SyncEngine) Preview(ctx context.Context, user *models.User) ([]PreviewEntry, error) {
	plays, err := e.fetch(ctx, e.credentials(user))
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	entries := make([]PreviewEntry, 0, len(plays))
	for _, play := range plays {
		entry := PreviewEntry{Play: play, Track: e.opts.Normalizer.Normalize(play)}
		if !entry.Track.Scrobbleable() {
			entry.Skipped = true
			entries = append(entries, entry)
			continue
		}
		entry.Fingerprints = e.opts.Normalizer.ComputeFingerprints(entry.Track, play.VideoID)

		sctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
		rec, err := e.store.Lookup(sctx, user.ID(), entry.Fingerprints)
		cancel()
		switch {
		case err == nil:
			entry.Scrobbled = true
			entry.Record = rec
		case !errors.Is(err, shared.ErrRecordNotFound):
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ScrobbleTrack forwards one play now and records it.
//
// A play that already has a record is not submitted again unless force is set; a forced
// re-forward increments the record's count.
func (e *SyncEngine) ScrobbleTrack(ctx context.Context, user *models.User, play models.RawPlay, force bool) (*ScrobbleResult, error) {
	unlock, err := e.locks.lock(ctx, user.ID())
	if err != nil {
		return nil, fmt.Errorf("wait for running pass: %w", err)
	}
	defer unlock()

	track := e.opts.Normalizer.Normalize(play)
	if !track.Scrobbleable() {
		return nil, fmt.Errorf("%w: title and artist are required", shared.ErrInvalidInput)
	}
	fp := e.opts.Normalizer.ComputeFingerprints(track, play.VideoID)

	if !force {
		sctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
		rec, err := e.store.Lookup(sctx, user.ID(), fp)
		cancel()
		switch {
		case err == nil:
			e.logger.Info("Track already scrobbled", "user", user.ID(), "track", track.DisplayTitle, "artist", track.DisplayArtist)
			return &ScrobbleResult{Outcome: ScrobbleRecorded, Record: rec}, nil
		case !errors.Is(err, shared.ErrRecordNotFound):
			return nil, err
		}
	}

	at := e.opts.Now().Unix()
	if err := e.submit(ctx, e.credentials(user), track, at); err != nil {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
	defer cancel()

	outcome, rec, err := e.store.Upsert(wctx, upsertParams(user.ID(), fp, track, at))
	if err != nil {
		return nil, err
	}

	res := &ScrobbleResult{Outcome: ScrobbleCreated, Record: rec}
	if outcome == repositories.UpsertIncremented {
		res.Outcome = ScrobbleIncremented
	}
	e.logger.Info("Scrobbled track", "user", user.ID(), "track", track.DisplayTitle, "artist", track.DisplayArtist, "outcome", res.Outcome)
	return res, nil
}

// credentials merges the application Last.fm keys into the user's credentials.
func (e *SyncEngine) credentials(user *models.User) models.Credentials {
	creds := user.Credentials
	if creds.LastFM.APIKey == "" {
		creds.LastFM.APIKey = e.opts.LastFMAPIKey
	}
	if creds.LastFM.APISecret == "" {
		creds.LastFM.APISecret = e.opts.LastFMAPISecret
	}
	return creds
}

// fetch returns at most HistoryWindow plays.
func (e *SyncEngine) fetch(ctx context.Context, creds models.Credentials) ([]models.RawPlay, error) {
	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()

	plays, err := e.fetcher.FetchRecentHistory(fctx, creds)
	if err != nil {
		return nil, err
	}
	if len(plays) > e.opts.HistoryWindow {
		plays = plays[:e.opts.HistoryWindow]
	}
	return plays, nil
}

func (e *SyncEngine) lookup(ctx context.Context, userID string, fp models.Fingerprints) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, e.opts.StoreTimeout)
	defer cancel()

	_, err := e.store.Lookup(sctx, userID, fp)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrRecordNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (e *SyncEngine) submit(ctx context.Context, creds models.Credentials, track models.NormalizedTrack, at int64) error {
	sctx, cancel := context.WithTimeout(ctx, e.opts.SubmitTimeout)
	defer cancel()
	return e.submitter.SubmitScrobble(sctx, creds, track, at)
}

// record commits a forwarded play. It runs detached from ctx so a batch deadline
// cannot drop the write for a play that already reached the scrobble service.
func (e *SyncEngine) record(ctx context.Context, userID string, fp models.Fingerprints, track models.NormalizedTrack, at int64) (bool, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
	defer cancel()
	return e.store.Record(wctx, upsertParams(userID, fp, track, at))
}

func (e *SyncEngine) recordOutcome(ctx context.Context, userID string, at time.Time, category shared.ErrorCategory, passErr error, trackErrs []TrackError) error {
	if e.state == nil {
		return nil
	}

	var message string
	switch {
	case passErr != nil:
		message = passErr.Error()
	case len(trackErrs) > 0:
		message = trackErrs[0].Error()
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
	defer cancel()
	return e.state.RecordSyncOutcome(wctx, userID, at, category, message)
}

// step is how far a play is back-dated from the one after it.
func (e *SyncEngine) step(play models.RawPlay) int {
	if play.DurationSeconds > 0 {
		return play.DurationSeconds
	}
	return e.opts.SpacingSeconds
}

func upsertParams(userID string, fp models.Fingerprints, track models.NormalizedTrack, at int64) repositories.UpsertParams {
	return repositories.UpsertParams{
		UserID:       userID,
		Fingerprints: fp,
		Track:        track,
		ScrobbledAt:  at,
	}
}

func firstTrackCategory(errs []TrackError) shared.ErrorCategory {
	if len(errs) == 0 {
		return shared.CategoryNone
	}
	return errs[0].Category
}
