package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
	th "github.com/desertthunder/ytscrobble/internal/testing"
)

func testExport() *models.ScrobbleExport {
	return &models.ScrobbleExport{
		UserID:      "user123",
		Email:       "listener@example.com",
		GeneratedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		Records: []models.ScrobbleRecord{
			{
				TrackUID:         "id:abc123",
				Title:            "Song One",
				Artist:           "Artist One",
				Album:            "Album One",
				LastScrobbleTime: time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC).Unix(),
				ScrobbleCount:    3,
			},
			{
				TrackUID:         "ta:song two|artist, two",
				Title:            "Song Two",
				Artist:           "Artist, Two",
				LastScrobbleTime: time.Date(2026, 3, 13, 9, 30, 0, 0, time.UTC).Unix(),
				ScrobbleCount:    1,
			},
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"csv", FormatCSV},
		{"", FormatCSV},
		{"md", FormatMarkdown},
		{"Markdown", FormatMarkdown},
		{"txt", FormatText},
		{"text", FormatText},
		{" json ", FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.name)
			if err != nil {
				t.Fatalf("ParseFormat(%q) error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}

	t.Run("unknown", func(t *testing.T) {
		if _, err := ParseFormat("xlsx"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestExporters(t *testing.T) {
	t.Run("ExportToCSV", func(t *testing.T) {
		data, err := ExportToCSV(testExport())
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "Artist,Title,Album,Count,Last Scrobbled,Track UID") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "Artist One,Song One,Album One,3,2026-03-14T11:00:00Z,id:abc123") {
			t.Errorf("CSV missing first record, got: %s", output)
		}
		if !strings.Contains(output, `"Artist, Two"`) {
			t.Errorf("CSV should quote fields with commas, got: %s", output)
		}
	})

	t.Run("ExportToMarkdown", func(t *testing.T) {
		data, err := ExportToMarkdown(testExport())
		if err != nil {
			t.Fatalf("ExportToMarkdown failed: %v", err)
		}

		output := string(data)

		for _, want := range []string{
			"# Scrobbles: listener@example.com",
			"**Tracks**: 2",
			"**Plays**: 4",
			"## Tracks",
			"1. Artist One - Song One (Album One) [3× last 2026-03-14 11:00]",
			"2. Artist, Two - Song Two [1× last 2026-03-13 09:30]",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("ExportToText", func(t *testing.T) {
		data, err := ExportToText(testExport())
		if err != nil {
			t.Fatalf("ExportToText failed: %v", err)
		}

		output := string(data)

		if !strings.Contains(output, "Scrobbles: listener@example.com") {
			t.Errorf("Text missing header")
		}
		if !strings.Contains(output, "Tracks: 2") {
			t.Errorf("Text missing track count")
		}
		if !strings.Contains(output, "1. Artist One - Song One") {
			t.Errorf("Text missing first track")
		}
	})

	t.Run("ExportToJSON", func(t *testing.T) {
		data, err := ExportToJSON(testExport())
		if err != nil {
			t.Fatalf("ExportToJSON failed: %v", err)
		}

		var decoded models.ScrobbleExport
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded.UserID != "user123" || len(decoded.Records) != 2 {
			t.Errorf("unexpected export %+v", decoded)
		}
	})

	t.Run("empty export", func(t *testing.T) {
		export := &models.ScrobbleExport{UserID: "u", Email: "e@example.com"}
		data, err := ExportToCSV(export)
		if err != nil {
			t.Fatalf("ExportToCSV failed: %v", err)
		}
		if strings.Count(string(data), "\n") != 1 {
			t.Errorf("expected only the header row, got %q", data)
		}
	})
}

func TestWriters(t *testing.T) {
	t.Run("WriteExport", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteExport(&buf, FormatText, testExport()); err != nil {
			t.Fatalf("WriteExport failed: %v", err)
		}
		if !strings.Contains(buf.String(), "Artist One - Song One") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("WriteExport with failing writer", func(t *testing.T) {
		if err := WriteExport(&th.FWriter{}, FormatCSV, testExport()); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("WriteExport with unknown format", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteExport(&buf, Format("xml"), testExport()); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("WriteExportFile", func(t *testing.T) {
		t.Run("WithDefaultPath", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			path, err := WriteExportFile(FormatCSV, testExport(), "")
			if err != nil {
				t.Fatalf("WriteExportFile failed: %v", err)
			}

			if path != "user123_scrobbles.csv" {
				t.Errorf("Expected 'user123_scrobbles.csv', got '%s'", path)
			}

			th.AssertFileExists(t, path)
			if content := th.MustReadFile(t, path); !strings.Contains(content, "Song One") {
				t.Errorf("CSV missing track data")
			}
		})

		t.Run("WithCustomPath", func(t *testing.T) {
			tempDir := t.TempDir()
			originalDir := th.MustGetwd(t)
			th.MustChdir(t, tempDir)
			defer th.MustChdir(t, originalDir)

			path, err := WriteExportFile(FormatMarkdown, testExport(), "history.md")
			if err != nil {
				t.Fatalf("WriteExportFile failed: %v", err)
			}

			if path != "history.md" {
				t.Errorf("Expected 'history.md', got '%s'", path)
			}
			th.AssertFileExists(t, path)
		})

		t.Run("WithMissingDirectory", func(t *testing.T) {
			if _, err := WriteExportFile(FormatText, testExport(), t.TempDir()+"/missing/out.txt"); err == nil {
				t.Error("expected an error for a missing directory")
			}
		})
	})
}
