package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

//go:embed config.example.toml
var exampleConf []byte

// Environment variables that override secrets and paths from the config file.
const (
	EnvLastFMAPIKey       = "YTSCROBBLE_LASTFM_API_KEY"
	EnvLastFMAPISecret    = "YTSCROBBLE_LASTFM_API_SECRET"
	EnvGoogleClientID     = "YTSCROBBLE_GOOGLE_CLIENT_ID"
	EnvGoogleClientSecret = "YTSCROBBLE_GOOGLE_CLIENT_SECRET"
	EnvDatabasePath       = "YTSCROBBLE_DATABASE_PATH"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials" validate:"required"`
	Database    DatabaseConfig    `toml:"database" validate:"required"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Sync        SyncConfig        `toml:"sync"`
	Batch       BatchConfig       `toml:"batch"`
	Daemon      DaemonConfig      `toml:"daemon"`
	Identity    IdentityConfig    `toml:"identity"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	YouTube YouTubeConfig `toml:"youtube"`
	Google  GoogleConfig  `toml:"google"`
	LastFM  LastFMConfig  `toml:"lastfm"`
}

// YouTubeConfig points at the ytmusicapi proxy used to read listening history.
type YouTubeConfig struct {
	ProxyURL          string  `toml:"proxy_url" validate:"required,url"`
	HeadersPath       string  `toml:"headers_path"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

// GoogleConfig contains OAuth client credentials for YouTube Music.
type GoogleConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri" validate:"omitempty,url"`
}

// LastFMConfig contains the application's Last.fm API account.
type LastFMConfig struct {
	APIKey            string  `toml:"api_key"`
	APISecret         string  `toml:"api_secret"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// ServerConfig contains settings for the local HTTP listener used by auth callbacks and the daemon.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
}

// Addr returns the host:port pair to listen on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error fatal"`
}

// SyncConfig tunes a single user's sync pass.
type SyncConfig struct {
	HistoryWindow    int      `toml:"history_window" validate:"gte=0,lte=200"`
	SpacingSeconds   int      `toml:"spacing_seconds" validate:"gte=0"`
	FetchTimeout     Duration `toml:"fetch_timeout"`
	SubmitTimeout    Duration `toml:"submit_timeout"`
	StoreTimeout     Duration `toml:"store_timeout"`
	BreakerFailures  uint32   `toml:"breaker_failures"`
	BreakerOpenDelay Duration `toml:"breaker_open_delay"`
}

// BatchConfig bounds a batch run across users.
type BatchConfig struct {
	Size        int      `toml:"size" validate:"gte=0,lte=100"`
	MaxUsers    int      `toml:"max_users" validate:"gte=0,lte=1000"`
	Concurrency int      `toml:"concurrency" validate:"gte=0,lte=32"`
	Deadline    Duration `toml:"deadline"`
}

// DaemonConfig controls the single-tenant scheduler.
type DaemonConfig struct {
	Interval Duration `toml:"interval"`
	Metrics  bool     `toml:"metrics"`
}

// IdentityConfig controls loose track matching.
type IdentityConfig struct {
	NoisePatterns []string `toml:"noise_patterns"`
}

// Duration is a [time.Duration] that decodes from strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrInvalidConfig, string(text))
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements [encoding.TextMarshaler].
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides secrets and the database path from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	for env, dst := range map[string]*string{
		EnvLastFMAPIKey:       &c.Credentials.LastFM.APIKey,
		EnvLastFMAPISecret:    &c.Credentials.LastFM.APISecret,
		EnvGoogleClientID:     &c.Credentials.Google.ClientID,
		EnvGoogleClientSecret: &c.Credentials.Google.ClientSecret,
		EnvDatabasePath:       &c.Database.Path,
	} {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
		}
	}
}

// Validate checks field constraints and reports every violation in one error.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())
