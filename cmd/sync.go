package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/tasks"
	"github.com/urfave/cli/v3"
)

// SyncUser runs one pass for one user regardless of their schedule.
func (r *Runner) SyncUser(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	r.logger.Info("syncing user", "user_id", user.ID(), "email", user.Email)

	res, err := r.engine.SyncUser(ctx, user)
	if res != nil {
		if cmd.Bool("json") {
			if werr := r.writeJSON(res, cmd.Bool("pretty")); werr != nil {
				return werr
			}
		} else {
			r.writeSyncResult(user, res)
		}
	}
	return err
}

func (r *Runner) writeSyncResult(user *models.User, res *tasks.SyncResult) {
	r.writePlainHeader(fmt.Sprintf("Sync: %s", user.Email))
	r.writePlain("Fetched:           %d\n", res.Fetched)
	r.writePlain("New scrobbles:     %d\n", res.NewScrobbles)
	r.writePlain("Already scrobbled: %d\n", res.AlreadyScrobbled)
	r.writePlain("Skipped:           %d\n", res.Skipped)
	if res.Deferred > 0 {
		r.writePlain("Deferred:          %d\n", res.Deferred)
	}
	r.writePlain("Duration:          %s\n", res.Duration)

	if len(res.Errors) > 0 {
		r.writePlainln("Failed tracks:")
		for _, e := range res.Errors {
			r.writePlain("  %s %s - %s [%s]: %v\n", r.palette.Err("✗"), e.Artist, e.Title, e.Category, e.Err)
		}
	}
}

// SyncPreview shows the recent history window and which plays are already recorded.
func (r *Runner) SyncPreview(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	entries, err := r.engine.Preview(ctx, user)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(entries, cmd.Bool("pretty"))
	}

	if len(entries) == 0 {
		return r.writePlain("No recent history\n")
	}

	r.writePlainHeader(fmt.Sprintf("Recent history: %s", user.Email))
	for i, e := range entries {
		mark := " "
		switch {
		case e.Skipped:
			mark = "-"
		case e.Scrobbled:
			mark = "✓"
		}
		r.writePlain("%2d. [%s] %s - %s\n", i+1, mark, e.Play.Artist, e.Play.Title)
	}
	return r.writePlainln("✓ already scrobbled   - missing title or artist")
}

// SyncScrobble forwards a single track at the current time and records it.
func (r *Runner) SyncScrobble(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	play := models.RawPlay{
		VideoID:         cmd.String("video-id"),
		Title:           cmd.String("title"),
		Artist:          cmd.String("artist"),
		Album:           cmd.String("album"),
		DurationSeconds: cmd.Int("duration"),
	}

	res, err := r.engine.ScrobbleTrack(ctx, user, play, cmd.Bool("force"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(res, true)
	}
	if res.Outcome == tasks.ScrobbleRecorded {
		return r.writePlain("Already scrobbled %s - %s (count %d), use --force to submit again\n",
			res.Record.Artist, res.Record.Title, res.Record.ScrobbleCount)
	}
	return r.writePlain("✓ Scrobbled %s - %s (%s, count %d)\n",
		res.Record.Artist, res.Record.Title, res.Outcome, res.Record.ScrobbleCount)
}
