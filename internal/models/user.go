package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/go-playground/validator/v10"
)

// Default and bounds for the per-user sync interval, in seconds.
const (
	DefaultIntervalSeconds = 300
	MinIntervalSeconds     = 60
	MaxIntervalSeconds     = 86400
)

var settingsValidator = validator.New(validator.WithRequiredStructEnabled())

// Settings are the user-editable sync preferences.
type Settings struct {
	AutoScrobble    bool `json:"auto_scrobble"`
	IntervalSeconds int  `json:"interval" validate:"gte=60,lte=86400"`
}

// DefaultSettings returns auto scrobbling off with the default interval.
func DefaultSettings() Settings {
	return Settings{IntervalSeconds: DefaultIntervalSeconds}
}

// Validate checks the interval bounds.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: interval must be between %d and %d seconds", shared.ErrInvalidSettings, MinIntervalSeconds, MaxIntervalSeconds)
	}
	return nil
}

// Interval returns the sync interval as a [time.Duration].
func (s Settings) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// DecodeSettings parses a settings document on top of base.
//
// Unknown keys are rejected rather than silently dropped, and the result is validated.
func DecodeSettings(data []byte, base Settings) (Settings, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	out := base
	if err := dec.Decode(&out); err != nil {
		return base, fmt.Errorf("%w: %v", shared.ErrInvalidSettings, err)
	}
	if dec.More() {
		return base, fmt.Errorf("%w: trailing data after settings object", shared.ErrInvalidSettings)
	}
	if err := out.Validate(); err != nil {
		return base, err
	}
	return out, nil
}

// YouTubeCredentials authenticate history fetches.
//
// AuthFile points at a ytmusicapi browser.json. The token fields hold a Google OAuth grant.
type YouTubeCredentials struct {
	AuthFile     string    `json:"auth_file,omitempty"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"token_expiry,omitzero"`
}

// Configured reports whether any YouTube Music credential is present.
func (c YouTubeCredentials) Configured() bool {
	return c.AuthFile != "" || c.RefreshToken != "" || c.AccessToken != ""
}

// LastFMCredentials authenticate scrobble submission.
//
// APIKey and APISecret belong to the application and SessionKey to the user.
type LastFMCredentials struct {
	APIKey     string `json:"-"`
	APISecret  string `json:"-"`
	SessionKey string `json:"-"`
	Username   string `json:"username,omitempty"`
}

// Configured reports whether a scrobble can be signed with these credentials.
func (c LastFMCredentials) Configured() bool {
	return c.APIKey != "" && c.APISecret != "" && c.SessionKey != ""
}

// Credentials is the explicit credential bundle handed to every external call for one user.
type Credentials struct {
	YouTube YouTubeCredentials `json:"youtube"`
	LastFM  LastFMCredentials  `json:"lastfm"`
}

// String redacts secrets so credentials are safe to log.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{youtube:%t lastfm:%t user:%q}", c.YouTube.Configured(), c.LastFM.Configured(), c.LastFM.Username)
}

// LastError records the outcome category of the most recent failed sync pass.
type LastError struct {
	Category shared.ErrorCategory `json:"category,omitempty"`
	Message  string               `json:"message,omitempty"`
	At       *time.Time           `json:"at,omitempty"`
}

// User is an account whose YouTube Music history is mirrored to Last.fm.
type User struct {
	Entity
	Email       string      `json:"email"`
	Name        string      `json:"name"`
	Settings    Settings    `json:"settings"`
	Credentials Credentials `json:"credentials"`
	LastSyncAt  *time.Time  `json:"last_sync_at,omitempty"`
	LastError   LastError   `json:"last_error"`
}

// NewUser creates a new [User] with default settings.
func NewUser(sequence int, email, name string) *User {
	return &User{
		Entity:   newEntity(sequence),
		Email:    strings.TrimSpace(email),
		Name:     strings.TrimSpace(name),
		Settings: DefaultSettings(),
	}
}

// Validate checks required fields and settings.
func (u *User) Validate() error {
	if u.ID() == "" {
		return fmt.Errorf("%w: user ID is required", shared.ErrInvalidInput)
	}
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: a valid email is required", shared.ErrInvalidInput)
	}
	return u.Settings.Validate()
}

// AuthFlagged reports whether the last pass failed on credentials, which pauses automatic syncs.
func (u *User) AuthFlagged() bool {
	return u.LastError.Category == shared.CategoryAuth
}

// Eligible reports whether the user is due for an automatic sync at now.
func (u *User) Eligible(now time.Time) bool {
	if u.IsDeleted() || !u.Settings.AutoScrobble || u.AuthFlagged() {
		return false
	}
	if u.LastSyncAt == nil {
		return true
	}
	return now.Sub(*u.LastSyncAt) >= u.Settings.Interval()
}
