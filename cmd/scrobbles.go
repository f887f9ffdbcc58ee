package main

import (
	"context"
	"time"

	"github.com/desertthunder/ytscrobble/internal/formatter"
	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

// exportPageSize is the page size used to read every record of a user for export.
const exportPageSize = 500

// ScrobblesList prints a page of a user's dedup records.
func (r *Runner) ScrobblesList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	user, err := r.users.Resolve(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	records, err := r.scrobbles.ListByUser(ctx, user.ID(), cmd.Int("limit"), cmd.Int("offset"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, cmd.Bool("pretty"))
	}

	total, err := r.scrobbles.CountByUser(ctx, user.ID())
	if err != nil {
		return err
	}

	r.writePlainHeader(user.Email + " (" + humanize.Comma(int64(total)) + " tracks)")
	if len(records) == 0 {
		return r.writePlain("No scrobbles recorded\n")
	}
	for _, rec := range records {
		r.writePlain("%-40s %-30s ×%-3d %s\n", rec.Title, rec.Artist, rec.ScrobbleCount, humanize.Time(rec.LastScrobbled()))
	}
	return nil
}

// ScrobblesExport writes every record of a user as CSV, Markdown, text or JSON.
func (r *Runner) ScrobblesExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
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

	export := &models.ScrobbleExport{UserID: user.ID(), Email: user.Email, GeneratedAt: time.Now().UTC()}
	for offset := 0; ; offset += exportPageSize {
		page, err := r.scrobbles.ListByUser(ctx, user.ID(), exportPageSize, offset)
		if err != nil {
			return err
		}
		export.Records = append(export.Records, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	output := cmd.String("output")
	if output == "" {
		return formatter.WriteExport(r.output, format, export)
	}

	path, err := formatter.WriteExportFile(format, export, output)
	if err != nil {
		return err
	}
	r.logger.Info("export written", "path", path, "records", len(export.Records))
	return r.writePlain("✓ Exported %d records to %s\n", len(export.Records), path)
}
