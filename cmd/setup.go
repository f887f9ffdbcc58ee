package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/server"
	"github.com/desertthunder/ytscrobble/internal/services"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/urfave/cli/v3"
)

// callbackTimeout bounds how long setup waits for the browser to come back.
const callbackTimeout = 5 * time.Minute

// SetupDatabase initializes the database and runs migrations.
//
// A missing config file is created from the embedded template first.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)

	if cmd.Bool("rollback") {
		if err := r.open(); err != nil {
			return err
		}
		r.logger.Info("rolling back latest migration")
		if err := shared.RollbackMigration(r.db); err != nil {
			return fmt.Errorf("failed to roll back migration: %w", err)
		}
	} else {
		r.logger.Info("running database migrations")
		if err := r.open(); err != nil {
			return err
		}
	}

	statuses, err := shared.Migrations(r.db)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		r.writePlain("%s %04d %s\n", r.palette.Mark(s.Applied), s.Version, s.Name)
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	return nil
}

// SetupYouTube configures YouTube Music authentication from browser headers.
//
// Accepts a cURL command, writes the user's browser.json and stores its path.
func (r *Runner) SetupYouTube(ctx context.Context, cmd *cli.Command) error {
	curlCmd := cmd.String("curl")
	curlFile := cmd.String("curl-file")
	outputPath := cmd.String("output")

	if curlCmd == "" && curlFile == "" {
		return fmt.Errorf("%w: either --curl or --curl-file must be provided", shared.ErrMissingArgument)
	}

	if curlCmd != "" && curlFile != "" {
		return fmt.Errorf("%w: cannot specify both --curl and --curl-file", shared.ErrInvalidArgument)
	}

	if err := r.open(); err != nil {
		return err
	}
	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	r.logger.Info("parsing cURL command for YouTube Music headers")

	var curlHeaders *shared.CurlHeaders
	if curlFile != "" {
		curlHeaders, err = shared.ParseCurlFile(curlFile)
		if err != nil {
			return fmt.Errorf("failed to parse cURL file: %w", err)
		}
		r.logger.Info("parsed cURL from file", "file", curlFile)
	} else {
		curlHeaders, err = shared.ParseCurlCommand([]byte(curlCmd))
		if err != nil {
			return fmt.Errorf("failed to parse cURL command: %w", err)
		}
		r.logger.Info("parsed cURL command")
	}

	if outputPath == "" {
		if outputPath, err = shared.UserAuthFile(user.ID()); err != nil {
			return err
		}
	} else if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := curlHeaders.WriteBrowserAuth(outputPath); err != nil {
		return err
	}
	r.logger.Info("browser.json saved", "path", outputPath)

	creds := models.Credentials{YouTube: models.YouTubeCredentials{AuthFile: outputPath}}
	if err := r.users.SaveCredentials(ctx, user.ID(), creds); err != nil {
		return err
	}

	r.writePlain("✓ YouTube Music authentication configured for %s\n", user.Email)
	r.writePlain("Auth file saved to: %s\n", outputPath)
	r.writePlainln("Next steps:")
	r.writePlain("1. Run 'ytscrobble sync preview --id %s' to test authentication\n", user.Email)
	r.writePlain("2. Run 'ytscrobble setup lastfm --id %s' if scrobbling is not authorized yet\n", user.Email)
	return nil
}

// SetupGoogle authorizes history fetches through Google OAuth and stores the grant.
func (r *Runner) SetupGoogle(ctx context.Context, cmd *cli.Command) error {
	cfg, err := services.NewGoogleOAuthConfig(r.config.Credentials.Google)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("%w: set credentials.google.client_id and client_secret", shared.ErrMissingConfig)
	}

	if err := r.open(); err != nil {
		return err
	}
	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	state := shared.GenerateID()
	handler := server.NewGoogleCallback(cfg, state)
	authURL := services.GoogleAuthURL(cfg, state)

	grant, err := awaitCallback(ctx, r, "google-callback", handler, authURL, cmd.Bool("no-browser"))
	if err != nil {
		return err
	}

	if err := r.users.SaveCredentials(ctx, user.ID(), models.Credentials{YouTube: grant}); err != nil {
		return err
	}

	r.writePlain("✓ Google authorization saved for %s\n", user.Email)
	if user.Credentials.YouTube.AuthFile != "" {
		r.writePlain("Note: the browser auth file %s still takes precedence\n", user.Credentials.YouTube.AuthFile)
	}
	return nil
}

// SetupLastFM runs the Last.fm web authorization flow and stores the session key.
func (r *Runner) SetupLastFM(ctx context.Context, cmd *cli.Command) error {
	auth, err := services.NewLastFMAuth(r.config.Credentials.LastFM.APIKey, r.config.Credentials.LastFM.APISecret)
	if err != nil {
		return err
	}

	if err := r.open(); err != nil {
		return err
	}
	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	state := shared.GenerateID()
	handler := server.NewLastFMCallback(auth, state)
	callback := fmt.Sprintf("http://%s%s?state=%s", r.config.Server.Addr(), server.LastFMCallbackPath, state)

	session, err := awaitCallback(ctx, r, "lastfm-callback", handler, auth.WebAuthURL(callback), cmd.Bool("no-browser"))
	if err != nil {
		return err
	}

	if err := r.users.SaveCredentials(ctx, user.ID(), models.Credentials{LastFM: session}); err != nil {
		return err
	}

	if session.Username != "" {
		r.writePlain("✓ Scrobbling authorized as %s for %s\n", session.Username, user.Email)
	} else {
		r.writePlain("✓ Scrobbling authorized for %s\n", user.Email)
	}
	return nil
}

// awaitCallback serves handler on the configured listen address until the browser
// flow completes, the listener fails or [callbackTimeout] elapses.
func awaitCallback[T any](ctx context.Context, r *Runner, name string, handler *server.CallbackHandler[T], authURL string, noBrowser bool) (T, error) {
	var zero T

	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(r.logger))
	router.Handler(handler)

	ctx, cancel := context.WithTimeout(ctx, callbackTimeout)
	defer cancel()

	srv := server.New(name, r.config.Server.Addr(), router)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()

	r.logger.Info("waiting for authorization callback", "addr", srv.Addr())
	r.writePlain("Open this URL to authorize:\n%s\n", authURL)
	if !noBrowser {
		if err := r.openBrowser(authURL); err != nil {
			r.logger.Warn("failed to open browser", "error", err)
		}
	}

	select {
	case res := <-handler.Result():
		cancel()
		<-errc
		if err := res.Error(); err != nil {
			return zero, err
		}
		return res.Value, nil
	case err := <-errc:
		switch {
		case ctx.Err() == nil:
			return zero, fmt.Errorf("callback server stopped: %w", err)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return zero, fmt.Errorf("%w: no authorization callback within %s", shared.ErrTimeout, callbackTimeout)
		default:
			return zero, ctx.Err()
		}
	}
}
