package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// userView adds the identity and credential status to a user's JSON form. Secrets are never included.
type userView struct {
	ID string `json:"id"`
	*models.User
	YouTubeConfigured bool `json:"youtube_configured"`
	LastFMConfigured  bool `json:"lastfm_configured"`
	Scrobbles         *int `json:"scrobbles,omitempty"`
}

func newUserView(u *models.User) userView {
	return userView{
		ID:                u.ID(),
		User:              u,
		YouTubeConfigured: u.Credentials.YouTube.Configured(),
		LastFMConfigured:  u.Credentials.LastFM.SessionKey != "",
	}
}

// UsersAdd creates a user with the given settings.
func (r *Runner) UsersAdd(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user := models.NewUser(0, cmd.String("email"), cmd.String("name"))
	user.Settings = models.Settings{
		AutoScrobble:    cmd.Bool("auto"),
		IntervalSeconds: cmd.Int("interval"),
	}

	if err := r.users.Create(ctx, user); err != nil {
		return err
	}
	r.logger.Info("user created", "user_id", user.ID(), "email", user.Email)

	if cmd.Bool("json") {
		return r.writeJSON(newUserView(user), true)
	}
	return r.writePlain("✓ Created user %s (%s)\n", user.Email, user.ID())
}

// UsersList prints users with their sync state.
func (r *Runner) UsersList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	criteria := map[string]any{}
	if cmd.Bool("active") {
		criteria["auto_scrobble"] = true
	}

	users, err := r.users.List(ctx, criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		views := make([]userView, len(users))
		for i, u := range users {
			views[i] = newUserView(u)
		}
		return r.writeJSON(views, cmd.Bool("pretty"))
	}

	if len(users) == 0 {
		return r.writePlain("No users found\n")
	}

	now := time.Now()
	due, err := r.users.CountEligible(ctx, now)
	if err != nil {
		return err
	}

	r.writePlainHeader(fmt.Sprintf("Users (%d, %d due for sync)", len(users), due))
	for _, u := range users {
		auto := "off"
		if u.Settings.AutoScrobble {
			auto = "every " + u.Settings.Interval().String()
		}
		lastSync := "never"
		if u.LastSyncAt != nil {
			lastSync = humanize.RelTime(*u.LastSyncAt, now, "ago", "from now")
		}

		r.writePlain("%s  %-30s auto:%-12s synced:%s", u.ID(), u.Email, auto, lastSync)
		if u.LastError.Category != shared.CategoryNone {
			r.writePlain("  %s", r.palette.Err("error:"+string(u.LastError.Category)))
		}
		r.writePlain("\n")
	}
	return nil
}

// UsersShow prints one user as JSON with their record count.
func (r *Runner) UsersShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	count, err := r.scrobbles.CountByUser(ctx, user.ID())
	if err != nil {
		return err
	}

	view := newUserView(user)
	view.Scrobbles = &count
	return r.writeJSON(view, cmd.Bool("pretty"))
}

// UsersSettings applies a JSON settings document over the stored settings.
func (r *Runner) UsersSettings(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	settings, err := models.DecodeSettings([]byte(cmd.String("data")), user.Settings)
	if err != nil {
		return err
	}

	if err := r.users.UpdateSettings(ctx, user.ID(), settings); err != nil {
		return err
	}

	return r.writePlain("✓ Settings updated for %s: auto_scrobble=%t interval=%s\n",
		user.Email, settings.AutoScrobble, settings.Interval())
}

// UsersCredentials stores credentials obtained outside the setup flows.
func (r *Runner) UsersCredentials(ctx context.Context, cmd *cli.Command) error {
	creds := models.Credentials{
		YouTube: models.YouTubeCredentials{AuthFile: cmd.String("youtube-auth-file")},
		LastFM: models.LastFMCredentials{
			SessionKey: cmd.String("lastfm-session"),
			Username:   cmd.String("lastfm-user"),
		},
	}
	if creds.YouTube.AuthFile == "" && creds.LastFM.SessionKey == "" && creds.LastFM.Username == "" {
		return fmt.Errorf("%w: nothing to update", shared.ErrMissingArgument)
	}

	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	if err := r.users.SaveCredentials(ctx, user.ID(), creds); err != nil {
		return err
	}
	return r.writePlain("✓ Credentials updated for %s\n", user.Email)
}

// UsersRemove soft-deletes a user and, unless asked otherwise, removes their dedup records.
func (r *Runner) UsersRemove(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	var removed int64
	if !cmd.Bool("keep-records") {
		if removed, err = r.scrobbles.DeleteByUser(ctx, user.ID()); err != nil {
			return err
		}
	}

	if err := r.users.Delete(ctx, user.ID()); err != nil {
		return err
	}

	r.logger.Info("user removed", "user_id", user.ID(), "records", removed)
	return r.writePlain("✓ Removed %s (%s scrobble records deleted)\n", user.Email, humanize.Comma(removed))
}
