// YouTube Music history client
//
// Communicates with the FastAPI proxy server (music/) that wraps the ytmusicapi Python library.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"golang.org/x/oauth2"
)

const (
	defaultYTBaseURL = "http://localhost:8080"
	historyEndpoint  = "/api/library/history"
	youtubeService   = "youtube"
)

// YouTubeArtist represents an artist in YouTube Music responses.
type YouTubeArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type youtubeAlbum struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// YouTubeTrack represents one entry of the listening history as returned by the proxy.
type YouTubeTrack struct {
	VideoID     string          `json:"videoId"`
	Title       string          `json:"title"`
	Artists     []YouTubeArtist `json:"artists"`
	Album       *youtubeAlbum   `json:"album"`
	Duration    string          `json:"duration"`
	DurationSec int             `json:"duration_seconds"`
	Played      string          `json:"played,omitempty"`
}

// RawPlay converts the entry to the engine's input form. Position is the index in the response.
func (t YouTubeTrack) RawPlay(position int) models.RawPlay {
	play := models.RawPlay{
		VideoID:         t.VideoID,
		Title:           t.Title,
		DurationSeconds: t.DurationSec,
		Position:        position,
	}
	if len(t.Artists) > 0 {
		play.Artist = t.Artists[0].Name
	}
	if t.Album != nil {
		play.Album = t.Album.Name
	}
	if play.DurationSeconds == 0 {
		play.DurationSeconds = parseClockDuration(t.Duration)
	}
	return play
}

// YouTubeOptions configure a [YouTubeService].
type YouTubeOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// OAuth refreshes Google tokens for users authorized through `setup google`.
	// Nil means stored access tokens are used as-is.
	OAuth *oauth2.Config
	Guard GuardOptions
}

// YouTubeService fetches listening history via the proxy.
//
// It holds no per-user state: credentials are passed on every call.
type YouTubeService struct {
	baseURL    string
	httpClient *http.Client
	oauth      *oauth2.Config
	guard      *guard
}

// NewYouTubeService creates a new YouTube Music history client.
func NewYouTubeService(opts YouTubeOptions) *YouTubeService {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultYTBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &YouTubeService{
		baseURL:    baseURL,
		httpClient: client,
		oauth:      opts.OAuth,
		guard:      newGuard(youtubeService, opts.Guard),
	}
}

// Name returns the service name.
func (y *YouTubeService) Name() string {
	return "YouTube Music"
}

// FetchRecentHistory returns the user's recent plays, most recent first.
//
// Calls GET /api/library/history on the proxy.
func (y *YouTubeService) FetchRecentHistory(ctx context.Context, creds models.Credentials) ([]models.RawPlay, error) {
	var tracks []YouTubeTrack
	if err := y.doRequest(ctx, creds.YouTube, http.MethodGet, historyEndpoint, &tracks); err != nil {
		return nil, err
	}

	plays := make([]models.RawPlay, len(tracks))
	for i, t := range tracks {
		plays[i] = t.RawPlay(i)
	}
	return plays, nil
}

// Health calls GET /health on the proxy and returns its raw status body.
func (y *YouTubeService) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/health", nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", shared.ErrAPIRequest, err)
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return "", transportError(ctx, youtubeService, err)
	}
	defer resp.Body.Close()

	if err := statusError(youtubeService, resp); err != nil {
		return "", err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", transportError(ctx, youtubeService, err)
	}
	return strings.TrimSpace(string(body)), nil
}

// BreakerState reports the circuit breaker state: closed, half-open or open.
func (y *YouTubeService) BreakerState() string {
	return y.guard.State().String()
}

func (y *YouTubeService) doRequest(ctx context.Context, creds models.YouTubeCredentials, method, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, y.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", shared.ErrAPIRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	if err := y.authorize(ctx, req, creds); err != nil {
		return err
	}

	return y.guard.do(ctx, func() error {
		resp, err := y.httpClient.Do(req)
		if err != nil {
			return transportError(ctx, youtubeService, err)
		}
		defer resp.Body.Close()

		if err := statusError(youtubeService, resp); err != nil {
			return err
		}

		if result != nil {
			if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
				return fmt.Errorf("%w: failed to decode response: %v", shared.ErrUpstreamUnavailable, err)
			}
		}
		return nil
	})
}

// authorize attaches the user's credentials: the browser.json path when present, else a Google bearer token.
func (y *YouTubeService) authorize(ctx context.Context, req *http.Request, creds models.YouTubeCredentials) error {
	switch {
	case creds.AuthFile != "":
		req.Header.Set("X-Auth-File", creds.AuthFile)
		return nil
	case creds.AccessToken != "" || creds.RefreshToken != "":
		tok, err := y.token(ctx, creds)
		if err != nil {
			return err
		}
		tok.SetAuthHeader(req)
		return nil
	default:
		return fmt.Errorf("%w: no YouTube Music credentials", shared.ErrMissingCredentials)
	}
}

func (y *YouTubeService) token(ctx context.Context, creds models.YouTubeCredentials) (*oauth2.Token, error) {
	stored := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.TokenExpiry,
		TokenType:    "Bearer",
	}

	if y.oauth == nil || creds.RefreshToken == "" {
		if !stored.Valid() {
			return nil, fmt.Errorf("%w: YouTube Music access token expired", shared.ErrTokenExpired)
		}
		return stored, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, y.httpClient)
	tok, err := y.oauth.TokenSource(ctx, stored).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
		}
		return nil, transportError(ctx, youtubeService, err)
	}
	return tok, nil
}

// statusError maps a non-2xx response to the upstream taxonomy.
//
// The proxy reports failures as {"detail": "..."}.
func statusError(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp struct {
		Detail string `json:"detail"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%s status %d", service, resp.StatusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail != "" {
		msg += ": " + errResp.Detail
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", shared.ErrAuthFailed, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", shared.ErrRateLimited, msg)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", shared.ErrTimeout, msg)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", shared.ErrUpstreamUnavailable, msg)
	default:
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, msg)
	}
}

// parseClockDuration parses "m:ss" or "h:mm:ss" into seconds, returning 0 when malformed.
func parseClockDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	total := 0
	for part := range strings.SplitSeq(s, ":") {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
