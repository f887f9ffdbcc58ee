// package formatter exports scrobble records to various formats (CSV, Markdown, plain text, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
)

// Format names an export format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or a common alias ("markdown", "text").
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv", "":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, name)
	}
}

// ExportToCSV converts records to CSV format with columns: Artist, Title, Album, Count, Last Scrobbled, Track UID
func ExportToCSV(export *models.ScrobbleExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Artist", "Title", "Album", "Count", "Last Scrobbled", "Track UID"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, rec := range export.Records {
		row := []string{
			rec.Artist,
			rec.Title,
			rec.Album,
			strconv.Itoa(rec.ScrobbleCount),
			rec.LastScrobbled().Format(time.RFC3339),
			rec.TrackUID,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts records to a Markdown document with one list item per track
func ExportToMarkdown(export *models.ScrobbleExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Scrobbles: %s\n\n", export.Email)
	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(export.Records))
	fmt.Fprintf(&buf, "**Plays**: %d\n", totalPlays(export.Records))
	if !export.GeneratedAt.IsZero() {
		fmt.Fprintf(&buf, "**Generated**: %s\n", export.GeneratedAt.UTC().Format(time.RFC1123))
	}

	buf.WriteString("\n## Tracks\n\n")
	for i, rec := range export.Records {
		albumPart := ""
		if rec.Album != "" {
			albumPart = fmt.Sprintf(" (%s)", rec.Album)
		}
		fmt.Fprintf(&buf, "%d. %s - %s%s [%d× last %s]\n",
			i+1, rec.Artist, rec.Title, albumPart, rec.ScrobbleCount, rec.LastScrobbled().Format("2006-01-02 15:04"))
	}

	return buf.Bytes(), nil
}

// ExportToText converts records to plain text format
func ExportToText(export *models.ScrobbleExport) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Scrobbles: %s\n", export.Email)
	fmt.Fprintf(&buf, "Tracks: %d\n\n", len(export.Records))

	for i, rec := range export.Records {
		fmt.Fprintf(&buf, "%d. %s - %s\n", i+1, rec.Artist, rec.Title)
	}

	return buf.Bytes(), nil
}

// ExportToJSON encodes the whole export, records included.
func ExportToJSON(export *models.ScrobbleExport) ([]byte, error) {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// Export renders export in format.
func Export(format Format, export *models.ScrobbleExport) ([]byte, error) {
	switch format {
	case FormatCSV:
		return ExportToCSV(export)
	case FormatMarkdown:
		return ExportToMarkdown(export)
	case FormatText:
		return ExportToText(export)
	case FormatJSON:
		return ExportToJSON(export)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteExport renders export and writes it to w.
func WriteExport(w io.Writer, format Format, export *models.ScrobbleExport) error {
	data, err := Export(format, export)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// WriteExportFile renders export into a file.
//
// Defaults to {user ID}_scrobbles.{format} as the filename.
func WriteExportFile(format Format, export *models.ScrobbleExport, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_scrobbles.%s", export.UserID, format)
	}

	data, err := Export(format, export)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}

	return path, nil
}

func totalPlays(records []models.ScrobbleRecord) int {
	n := 0
	for _, rec := range records {
		n += rec.ScrobbleCount
	}
	return n
}
