package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytscrobble/internal/metrics"
	"github.com/desertthunder/ytscrobble/internal/repositories"
	"github.com/desertthunder/ytscrobble/internal/services"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/desertthunder/ytscrobble/internal/tasks"
	"github.com/desertthunder/ytscrobble/internal/ui"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, repositories and sync engine are created on first use by [Runner.open] so
// commands that never touch storage (e.g. setup youtube against a missing database) stay cheap.
type Runner struct {
	config      *shared.Config
	db          *sql.DB
	ownsDB      bool
	users       *repositories.UserRepository
	scrobbles   *repositories.ScrobbleRepository
	runs        *repositories.SyncRunRepository
	fetcher     tasks.HistoryFetcher
	submitter   tasks.ScrobbleSubmitter
	youtube     *services.YouTubeService
	lastfm      *services.LastFMService
	metrics     *metrics.Recorder
	engine      *tasks.SyncEngine
	coordinator *tasks.BatchCoordinator
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	palette     *ui.Palette
	openBrowser func(url string) error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	// DB replaces the database named in Config. The caller keeps ownership.
	DB          *sql.DB
	Fetcher     tasks.HistoryFetcher
	Submitter   tasks.ScrobbleSubmitter
	Metrics     *metrics.Recorder
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
	OpenBrowser func(url string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		db:          opts.DB,
		fetcher:     opts.Fetcher,
		submitter:   opts.Submitter,
		metrics:     opts.Metrics,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		palette:     ui.NewPalette(opts.Output),
		openBrowser: opts.OpenBrowser,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, usersCommand, syncCommand, batchCommand, daemonCommand, scrobblesCommand, statusCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// open connects to the database, applies pending migrations and wires the sync engine.
func (r *Runner) open() error {
	if r.engine != nil {
		return nil
	}

	if r.db == nil {
		db, err := shared.NewDatabase(r.config.Database.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
		}
		if r.config.Database.Path != ":memory:" {
			shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
		}
		r.db, r.ownsDB = db, true
	}

	if err := shared.RunMigrations(r.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	r.users = repositories.NewUserRepository(r.db)
	r.scrobbles = repositories.NewScrobbleRepository(r.db)
	r.runs = repositories.NewSyncRunRepository(r.db)

	if err := r.initServices(); err != nil {
		return err
	}

	engineOpts, err := tasks.EngineOptionsFromConfig(r.config)
	if err != nil {
		return err
	}
	engineOpts.Logger = r.logger.With("component", "engine")
	engineOpts.Metrics = r.metrics
	r.engine = tasks.NewSyncEngine(r.fetcher, r.submitter, r.scrobbles, r.users, engineOpts)

	coordOpts := tasks.CoordinatorOptionsFromConfig(r.config)
	coordOpts.Logger = r.logger.With("component", "batch")
	coordOpts.Metrics = r.metrics
	r.coordinator = tasks.NewBatchCoordinator(r.users, r.runs, r.engine, coordOpts)

	return nil
}

// initServices builds the upstream clients unless fakes were injected.
func (r *Runner) initServices() error {
	if r.fetcher == nil {
		oauth, err := services.NewGoogleOAuthConfig(r.config.Credentials.Google)
		if err != nil {
			return err
		}
		r.youtube = services.NewYouTubeService(services.YouTubeOptions{
			BaseURL:    r.config.Credentials.YouTube.ProxyURL,
			HTTPClient: r.httpClient,
			OAuth:      oauth,
			Guard:      r.guardOptions(r.config.Credentials.YouTube.RequestsPerSecond),
		})
		r.fetcher = r.youtube
	}

	if r.submitter == nil {
		r.lastfm = services.NewLastFMService(r.guardOptions(r.config.Credentials.LastFM.RequestsPerSecond))
		r.submitter = r.lastfm
	}
	return nil
}

func (r *Runner) guardOptions(rps float64) services.GuardOptions {
	return services.GuardOptions{
		RequestsPerSecond: rps,
		BreakerFailures:   r.config.Sync.BreakerFailures,
		BreakerOpenDelay:  r.config.Sync.BreakerOpenDelay.Duration,
		Logger:            r.logger,
		Metrics:           r.metrics,
	}
}

// Close releases the database when the runner opened it.
func (r *Runner) Close() error {
	if r.db == nil || !r.ownsDB {
		return nil
	}
	return r.db.Close()
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", r.palette.Title(title))
	r.writePlain("═══════════════════════════════════════\n")
}
