package services

import (
	"context"
	"fmt"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"golang.org/x/oauth2"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
	youtubeScope   = "https://www.googleapis.com/auth/youtube"
)

// NewGoogleOAuthConfig builds the OAuth2 client used to authorize YouTube Music access.
//
// Returns nil and no error when the client is not configured, which disables token refresh.
func NewGoogleOAuthConfig(cfg shared.GoogleConfig) (*oauth2.Config, error) {
	if cfg.ClientID == "" && cfg.ClientSecret == "" {
		return nil, nil
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: google client_id and client_secret must both be set", shared.ErrInvalidConfig)
	}

	redirect := cfg.RedirectURI
	if redirect == "" {
		redirect = "http://127.0.0.1:3000/callback"
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirect,
		Scopes:       []string{youtubeScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  googleAuthURL,
			TokenURL: googleTokenURL,
		},
	}, nil
}

// GoogleAuthURL returns the consent URL. Offline access with forced consent guarantees a refresh token.
func GoogleAuthURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeGoogleCode trades an authorization code for YouTube Music credentials.
func ExchangeGoogleCode(ctx context.Context, cfg *oauth2.Config, code string) (models.YouTubeCredentials, error) {
	if code == "" {
		return models.YouTubeCredentials{}, fmt.Errorf("%w: authorization code", shared.ErrMissingArgument)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return models.YouTubeCredentials{}, fmt.Errorf("%w: failed to exchange auth code: %v", shared.ErrAuthFailed, err)
	}

	return models.YouTubeCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
	}, nil
}
