package main

import (
	"context"
	"time"

	"github.com/desertthunder/ytscrobble/internal/tasks"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// BatchRun syncs one batch of eligible users and prints progress as users complete.
func (r *Runner) BatchRun(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	opts := tasks.BatchOptions{
		BatchSize: cmd.Int("batch-size"),
		Offset:    cmd.Int("offset"),
		MaxUsers:  cmd.Int("max-users"),
		Trigger:   "manual",
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = r.config.Batch.Size
	}
	if opts.MaxUsers == 0 {
		opts.MaxUsers = r.config.Batch.MaxUsers
	}

	asJSON := cmd.Bool("json")

	var progress chan tasks.ProgressUpdate
	done := make(chan struct{})
	if asJSON {
		close(done)
	} else {
		progress = make(chan tasks.ProgressUpdate, 64)
		go func() {
			defer close(done)
			for update := range progress {
				if update.Phase != tasks.BatchComplete {
					r.writePlain("%s\n", update.Message)
				}
			}
		}()
	}

	res, err := r.coordinator.Run(ctx, progress, opts)
	if progress != nil {
		close(progress)
	}
	<-done

	if err != nil {
		return err
	}

	if asJSON {
		return r.writeJSON(res, cmd.Bool("pretty"))
	}

	r.writePlainln("")
	r.writePlainHeader("Batch complete")
	r.writePlain("Eligible:      %d\n", res.Eligible)
	r.writePlain("Processed:     %d\n", res.Processed)
	r.writePlain("Succeeded:     %d\n", res.Succeeded)
	r.writePlain("Failed:        %d\n", res.Failed)
	r.writePlain("New scrobbles: %d\n", res.NewScrobbles)
	r.writePlain("Duration:      %s\n", res.Duration.Round(time.Millisecond))
	if res.NextOffset > 0 {
		r.writePlain("More users remain: rerun with --offset %d\n", res.NextOffset)
	}
	return nil
}

// BatchHistory lists recent batch runs, newest first.
func (r *Runner) BatchHistory(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	runs, err := r.runs.List(ctx, map[string]any{
		"status": cmd.String("status"),
		"limit":  20,
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(runs, cmd.Bool("pretty"))
	}

	if len(runs) == 0 {
		return r.writePlain("No batch runs recorded\n")
	}

	r.writePlainHeader("Batch runs")
	for _, run := range runs {
		r.writePlain("%s  %-9s %-7s processed:%d ok:%d failed:%d new:%d  %s\n",
			run.ID(), run.Status, run.Trigger, run.Processed, run.Succeeded, run.Failed,
			run.NewScrobbles, humanize.Time(run.StartedAt))
		if run.ErrorMessage != "" {
			r.writePlain("    error: %s\n", run.ErrorMessage)
		}
	}
	return nil
}
