package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/ytscrobble/internal/server"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

type statusReport struct {
	server.HealthStatus
	Proxy     string `json:"proxy"`
	ProxyURL  string `json:"proxy_url"`
	Users     int    `json:"users"`
	Eligible  int    `json:"eligible"`
	LastFMApp bool   `json:"lastfm_app_configured"`
}

// Status checks the history proxy, the database and the latest batch run.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	report := statusReport{
		HealthStatus: r.healthHandler().Check(ctx),
		Proxy:        "unchecked",
		ProxyURL:     r.config.Credentials.YouTube.ProxyURL,
		LastFMApp:    r.config.Credentials.LastFM.APIKey != "" && r.config.Credentials.LastFM.APISecret != "",
	}

	if r.youtube != nil {
		if body, err := r.youtube.Health(ctx); err != nil {
			report.Proxy = err.Error()
		} else {
			report.Proxy = "ok"
			r.logger.Debug("proxy health", "body", body)
		}
	}

	users, err := r.users.List(ctx, nil)
	if err != nil {
		return err
	}
	report.Users = len(users)

	if report.Eligible, err = r.users.CountEligible(ctx, time.Now()); err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(report, cmd.Bool("pretty"))
	}

	r.writePlainHeader("ytscrobble status")
	r.writePlain("Status:     %s\n", report.Status)
	r.writePlain("Database:   %s\n", report.Database)
	r.writePlain("Proxy:      %s (%s)\n", report.Proxy, report.ProxyURL)
	r.writePlain("Last.fm:    %s\n", configuredString(report.LastFMApp))
	for name, state := range report.Breakers {
		r.writePlain("Breaker:    %s %s\n", name, state)
	}
	r.writePlain("Users:      %d (%d due for sync)\n", report.Users, report.Eligible)

	if run := report.LastRun; run != nil {
		r.writePlainln("Last batch:")
		r.writePlain("  %s %s, %s\n", run.Trigger, run.Status, humanize.Time(run.StartedAt))
		r.writePlain("  processed %d, succeeded %d, failed %d, %d new scrobbles\n",
			run.Processed, run.Succeeded, run.Failed, run.NewScrobbles)
		if run.ErrorMessage != "" {
			r.writePlain("  error: %s\n", run.ErrorMessage)
		}
	}

	if report.Status == "unavailable" {
		return fmt.Errorf("%w: %s", shared.ErrStoreUnavailable, report.Database)
	}
	return nil
}

func configuredString(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
