// submodule cmd contains command definitions
package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/desertthunder/ytscrobble/internal/tasks"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "config.toml"

// app builds the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "ytscrobble",
		Usage:   "Mirror YouTube Music listening history to Last.fm",
		Version: "0.3.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   defaultConfigPath,
				Sources: cli.EnvVars("YTSCROBBLE_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Only log errors",
			},
		},
		Before:   r.configure,
		Commands: r.register(),
	}
}

// configure loads an explicitly named config file, applies environment overrides,
// validates the result and sets the log level.
func (r *Runner) configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.IsSet("config") {
		config, err := shared.LoadConfig(cmd.String("config"))
		if err != nil {
			return ctx, err
		}
		r.config = config
	}

	r.config.ApplyEnv(nil)
	if err := r.config.Validate(); err != nil {
		return ctx, err
	}

	level, err := shared.ParseLogLevel(r.config.Log.Level)
	if err != nil {
		return ctx, err
	}
	switch {
	case cmd.Bool("verbose"):
		level = log.DebugLevel
	case cmd.Bool("quiet"):
		level = log.ErrorLevel
	}
	shared.SetLogLevel(r.logger, level)

	return ctx, nil
}

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Aliases:  []string{"user", "u"},
		Usage:    "User ID or email",
		Required: true,
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

func prettyFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "pretty",
		Usage: "Pretty-print output",
		Value: true,
	}
}

// setupCommand handles setup operations for the database and upstream authorization.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead",
					},
				},
				Action: r.SetupDatabase,
			},
			{
				Name:    "youtube",
				Aliases: []string{"yt", "ytmusic"},
				Usage:   "Configure YouTube Music authentication from browser headers",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "curl",
						Usage: "cURL command from browser DevTools (Copy as cURL)",
					},
					&cli.StringFlag{
						Name:  "curl-file",
						Usage: "Path to .sh file containing cURL command",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output path for browser.json (default: $XDG_DATA_HOME/ytscrobble/auth/<user>/browser.json)",
					},
				},
				Action: r.SetupYouTube,
			},
			{
				Name:  "google",
				Usage: "Authorize YouTube Music through Google OAuth",
				Flags: []cli.Flag{
					userFlag(),
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening a browser",
					},
				},
				Action: r.SetupGoogle,
			},
			{
				Name:  "lastfm",
				Usage: "Authorize scrobbling to a Last.fm account",
				Flags: []cli.Flag{
					userFlag(),
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening a browser",
					},
				},
				Action: r.SetupLastFM,
			},
		},
	}
}

// usersCommand manages accounts and their settings.
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "users",
		Aliases: []string{"user"},
		Usage:   "Manage users",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create a user",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "email",
						Usage:    "Email address",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name",
					},
					&cli.BoolFlag{
						Name:  "auto",
						Usage: "Enable automatic scrobbling",
					},
					&cli.IntFlag{
						Name:  "interval",
						Usage: "Seconds between automatic syncs",
						Value: 300,
					},
					jsonFlag(),
				},
				Action: r.UsersAdd,
			},
			{
				Name:  "list",
				Usage: "List users",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "active",
						Usage: "Only show users with automatic scrobbling enabled",
					},
					jsonFlag(),
					prettyFlag(),
				},
				Action: r.UsersList,
			},
			{
				Name:   "show",
				Usage:  "Show a user",
				Flags:  []cli.Flag{userFlag(), prettyFlag()},
				Action: r.UsersShow,
			},
			{
				Name:  "settings",
				Usage: "Update sync settings from a JSON document",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    `Settings JSON, e.g. '{"auto_scrobble":true,"interval":600}'`,
						Required: true,
					},
				},
				Action: r.UsersSettings,
			},
			{
				Name:  "credentials",
				Usage: "Set credentials directly",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:  "youtube-auth-file",
						Usage: "Path to a ytmusicapi browser.json",
					},
					&cli.StringFlag{
						Name:  "lastfm-session",
						Usage: "Last.fm session key",
					},
					&cli.StringFlag{
						Name:  "lastfm-user",
						Usage: "Last.fm username",
					},
				},
				Action: r.UsersCredentials,
			},
			{
				Name:  "remove",
				Usage: "Remove a user and their scrobble records",
				Flags: []cli.Flag{
					userFlag(),
					&cli.BoolFlag{
						Name:  "keep-records",
						Usage: "Keep dedup records",
					},
				},
				Action: r.UsersRemove,
			},
		},
	}
}

// syncCommand runs single-user operations.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync one user's history",
		Commands: []*cli.Command{
			{
				Name:   "user",
				Usage:  "Run one sync pass",
				Flags:  []cli.Flag{userFlag(), jsonFlag(), prettyFlag()},
				Action: r.SyncUser,
			},
			{
				Name:   "preview",
				Usage:  "Show recent history and which plays were already scrobbled",
				Flags:  []cli.Flag{userFlag(), jsonFlag(), prettyFlag()},
				Action: r.SyncPreview,
			},
			{
				Name:  "scrobble",
				Usage: "Scrobble a single track now",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:     "title",
						Usage:    "Track title",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "artist",
						Usage:    "Track artist",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "album",
						Usage: "Album name",
					},
					&cli.StringFlag{
						Name:  "video-id",
						Usage: "YouTube video ID",
					},
					&cli.IntFlag{
						Name:  "duration",
						Usage: "Track duration in seconds",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "Submit again even if the track is already recorded, incrementing its count",
					},
					jsonFlag(),
				},
				Action: r.SyncScrobble,
			},
		},
	}
}

// batchCommand runs the batch coordinator once.
func batchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Sync eligible users in batches",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run one batch",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: fmt.Sprintf("Users loaded per chunk (max %d)", tasks.MaxBatchSize),
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Skip this many eligible users",
					},
					&cli.IntFlag{
						Name:  "max-users",
						Usage: fmt.Sprintf("Users processed in this run (max %d)", tasks.MaxMaxUsers),
					},
					jsonFlag(),
					prettyFlag(),
				},
				Action: r.BatchRun,
			},
			{
				Name:  "history",
				Usage: "List recent batch runs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (running, completed, failed)",
					},
					jsonFlag(),
					prettyFlag(),
				},
				Action: r.BatchHistory,
			},
		},
	}
}

// daemonCommand runs the scheduler in the foreground.
func daemonCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run batches on an interval and serve /healthz and /metrics",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Time between batches (overrides [daemon] interval)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address for /healthz and /metrics (overrides [server])",
			},
			&cli.BoolFlag{
				Name:  "no-http",
				Usage: "Do not start the HTTP listener",
			},
		},
		Action: r.Daemon,
	}
}

// scrobblesCommand inspects dedup records.
func scrobblesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "scrobbles",
		Usage: "Inspect forwarded plays",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List a user's scrobble records, most recent first",
				Flags: []cli.Flag{
					userFlag(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records",
						Value: 50,
					},
					&cli.IntFlag{
						Name:  "offset",
						Usage: "Records to skip",
					},
					jsonFlag(),
					prettyFlag(),
				},
				Action: r.ScrobblesList,
			},
			{
				Name:  "export",
				Usage: "Export a user's scrobble records",
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (csv, md, txt)",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: stdout)",
					},
				},
				Action: r.ScrobblesExport,
			},
		},
	}
}

// statusCommand reports upstream and store health.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Check the history proxy, the database and the latest batch",
		Flags:  []cli.Flag{jsonFlag(), prettyFlag()},
		Action: r.Status,
	}
}
