package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./ytscrobble.db" {
			t.Errorf("expected database path ./ytscrobble.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Credentials.YouTube.ProxyURL != "http://127.0.0.1:8080" {
			t.Errorf("expected youtube proxy URL http://127.0.0.1:8080, got %s", config.Credentials.YouTube.ProxyURL)
		}

		if config.Sync.HistoryWindow != 10 {
			t.Errorf("expected history window 10, got %d", config.Sync.HistoryWindow)
		}

		if config.Sync.FetchTimeout.Duration != 20*time.Second {
			t.Errorf("expected fetch timeout 20s, got %v", config.Sync.FetchTimeout)
		}

		if config.Batch.Size != 50 || config.Batch.MaxUsers != 200 {
			t.Errorf("expected batch bounds 50/200, got %d/%d", config.Batch.Size, config.Batch.MaxUsers)
		}

		if len(config.Identity.NoisePatterns) == 0 {
			t.Error("expected default noise patterns")
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"
max_open_conns = 20
max_idle_conns = 10

[server]
host = "0.0.0.0"
port = 8080

[credentials.lastfm]
api_key = "test_key"
api_secret = "test_secret"

[credentials.youtube]
proxy_url = "http://localhost:9090"

[sync]
history_window = 25
fetch_timeout = "45s"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Addr() != "0.0.0.0:8080" {
			t.Errorf("expected server addr 0.0.0.0:8080, got %s", config.Server.Addr())
		}

		if config.Credentials.LastFM.APIKey != "test_key" {
			t.Errorf("expected lastfm api_key test_key, got %s", config.Credentials.LastFM.APIKey)
		}

		if config.Sync.HistoryWindow != 25 {
			t.Errorf("expected history window 25, got %d", config.Sync.HistoryWindow)
		}

		if config.Sync.FetchTimeout.Duration != 45*time.Second {
			t.Errorf("expected fetch timeout 45s, got %v", config.Sync.FetchTimeout)
		}

		if config.Batch.Size != 50 {
			t.Errorf("unset values should keep defaults, got batch size %d", config.Batch.Size)
		}
	})

	t.Run("LoadConfig rejects bad durations", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[sync]\nfetch_timeout = \"soon\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); err == nil {
			t.Fatal("expected parse error for invalid duration")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		config.Batch.Size = 500
		config.Log.Level = "loud"

		err := config.Validate()
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		config := DefaultConfig()
		config.Credentials.Google.ClientID = "file-client-id"
		env := map[string]string{
			EnvLastFMAPIKey:   "env-key",
			EnvDatabasePath:   "/tmp/env.db",
			EnvGoogleClientID: "",
		}
		config.ApplyEnv(func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		})

		if config.Credentials.LastFM.APIKey != "env-key" {
			t.Errorf("expected api key from env, got %s", config.Credentials.LastFM.APIKey)
		}
		if config.Database.Path != "/tmp/env.db" {
			t.Errorf("expected database path from env, got %s", config.Database.Path)
		}
		if config.Credentials.Google.ClientID != "file-client-id" {
			t.Errorf("empty env values should not override, got %s", config.Credentials.Google.ClientID)
		}
	})
}
