package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/shkh/lastfm-go/lastfm"
)

const (
	lastfmService = "lastfm"
	lastfmAuthURL = "https://www.last.fm/api/auth/?api_key=%s&token=%s"
	lastfmWebAuth = "https://www.last.fm/api/auth/?api_key=%s&cb=%s"
)

// Last.fm API error codes, see https://www.last.fm/api/errorcodes.
const (
	lastfmAuthFailed        = 4
	lastfmInvalidSession    = 9
	lastfmInvalidAPIKey     = 10
	lastfmServiceOffline    = 11
	lastfmTokenUnauthorized = 14
	lastfmTemporaryError    = 16
	lastfmSuspendedAPIKey   = 26
	lastfmRateLimited       = 29
)

// scrobbleFunc performs one signed track.scrobble call and returns the number of ignored scrobbles.
type scrobbleFunc func(creds models.LastFMCredentials, params lastfm.P) (ignored string, err error)

func scrobbleWithAPI(creds models.LastFMCredentials, params lastfm.P) (string, error) {
	api := lastfm.New(creds.APIKey, creds.APISecret)
	api.SetSession(creds.SessionKey)

	result, err := api.Track.Scrobble(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprint(result.Ignored), nil
}

// LastFMService submits scrobbles on behalf of users.
//
// Application keys come from configuration and the session key from the user, both
// through the [models.Credentials] passed on each call.
type LastFMService struct {
	scrobble scrobbleFunc
	guard    *guard
}

// NewLastFMService creates a new Last.fm submitter.
func NewLastFMService(opts GuardOptions) *LastFMService {
	return &LastFMService{
		scrobble: scrobbleWithAPI,
		guard:    newGuard(lastfmService, opts),
	}
}

// Name returns the service name.
func (l *LastFMService) Name() string {
	return "Last.fm"
}

// SubmitScrobble forwards one play at the given unix timestamp.
//
// The client library has no context support, so the call runs in its own goroutine and
// is abandoned when ctx ends. An abandoned call may still land upstream.
func (l *LastFMService) SubmitScrobble(ctx context.Context, creds models.Credentials, track models.NormalizedTrack, timestamp int64) error {
	if !creds.LastFM.Configured() {
		return fmt.Errorf("%w: Last.fm session is not configured", shared.ErrMissingCredentials)
	}

	params := lastfm.P{
		"artist":    track.DisplayArtist,
		"track":     track.DisplayTitle,
		"timestamp": timestamp,
	}
	if track.Album != "" {
		params["album"] = track.Album
	}
	if track.DurationSeconds > 0 {
		params["duration"] = track.DurationSeconds
	}

	return l.guard.do(ctx, func() error {
		type outcome struct {
			ignored string
			err     error
		}
		done := make(chan outcome, 1)
		go func() {
			ignored, err := l.scrobble(creds.LastFM, params)
			done <- outcome{ignored, err}
		}()

		select {
		case <-ctx.Done():
			return transportError(ctx, lastfmService, ctx.Err())
		case out := <-done:
			if out.err != nil {
				return lastfmError(out.err)
			}
			if out.ignored != "" && out.ignored != "0" {
				return fmt.Errorf("%w: Last.fm ignored %q by %q", shared.ErrSubmitRejected, track.DisplayTitle, track.DisplayArtist)
			}
			return nil
		}
	})
}

// BreakerState reports the circuit breaker state: closed, half-open or open.
func (l *LastFMService) BreakerState() string {
	return l.guard.State().String()
}

// lastfmError maps a client library error to the upstream taxonomy.
func lastfmError(err error) error {
	var apiErr *lastfm.LastfmError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s: %v", shared.ErrUpstreamUnavailable, lastfmService, err)
	}

	switch apiErr.Code {
	case lastfmAuthFailed, lastfmInvalidSession, lastfmInvalidAPIKey, lastfmTokenUnauthorized, lastfmSuspendedAPIKey:
		return fmt.Errorf("%w: last.fm error %d: %v", shared.ErrAuthFailed, apiErr.Code, err)
	case lastfmRateLimited:
		return fmt.Errorf("%w: last.fm error %d: %v", shared.ErrRateLimited, apiErr.Code, err)
	case lastfmServiceOffline, lastfmTemporaryError:
		return fmt.Errorf("%w: last.fm error %d: %v", shared.ErrUpstreamUnavailable, apiErr.Code, err)
	default:
		return fmt.Errorf("%w: last.fm error %d: %v", shared.ErrSubmitRejected, apiErr.Code, err)
	}
}

// LastFMAuth runs the desktop authorization flow that yields a user's session key.
type LastFMAuth struct {
	api    *lastfm.Api
	apiKey string
}

// NewLastFMAuth creates an auth flow for the application's API account.
func NewLastFMAuth(apiKey, apiSecret string) (*LastFMAuth, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
		return nil, fmt.Errorf("%w: Last.fm api_key and api_secret are required", shared.ErrMissingConfig)
	}
	return &LastFMAuth{api: lastfm.New(apiKey, apiSecret), apiKey: apiKey}, nil
}

// Token requests a fresh request token.
func (a *LastFMAuth) Token() (string, error) {
	token, err := a.api.GetToken()
	if err != nil {
		return "", lastfmError(err)
	}
	return token, nil
}

// AuthURL returns the page where the user grants access to token.
func (a *LastFMAuth) AuthURL(token string) string {
	return fmt.Sprintf(lastfmAuthURL, a.apiKey, token)
}

// WebAuthURL returns the page that redirects back to callback with a token query parameter.
func (a *LastFMAuth) WebAuthURL(callback string) string {
	return fmt.Sprintf(lastfmWebAuth, a.apiKey, url.QueryEscape(callback))
}

// Session exchanges an authorized token for a session key and the account name.
func (a *LastFMAuth) Session(token string) (models.LastFMCredentials, error) {
	if err := a.api.LoginWithToken(token); err != nil {
		return models.LastFMCredentials{}, lastfmError(err)
	}

	creds := models.LastFMCredentials{SessionKey: a.api.GetSessionKey()}
	if info, err := a.api.User.GetInfo(nil); err == nil {
		creds.Username = info.Name
	}
	return creds, nil
}
