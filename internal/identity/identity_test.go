package identity

import (
	"testing"

	"github.com/desertthunder/ytscrobble/internal/models"
)

func TestNormalizeText(t *testing.T) {
	tc := []struct {
		name  string
		input string
		want  string
	}{
		{name: "basic normalization", input: "Song Title", want: "song title"},
		{name: "extra whitespace", input: "  Song   Title  ", want: "song title"},
		{name: "mixed case", input: "SoNg TiTlE", want: "song title"},
		{name: "tabs and newlines", input: "Song\tTitle\n", want: "song title"},
		{name: "non-breaking space", input: "Song\u00a0Title", want: "song title"},
		{name: "decomposed accent composes", input: "Beyonce\u0301", want: "beyonc\u00e9"},
		{name: "empty", input: "", want: ""},
		{name: "only whitespace", input: "   ", want: ""},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Song Title",
		"  HELLO   World ",
		"Beyoncé",
		"Beyonce\u0301",
		"ＦＵＬＬＷＩＤＴＨ",
		"İstanbul",
		"Straße",
		"ΣΊΣΥΦΟΣ",
		"Song (feat. Someone) - Remastered 2011",
		"  spaced out ",
		"",
	}

	for _, s := range inputs {
		t.Run(s, func(t *testing.T) {
			once := Normalize(models.RawPlay{Title: s, Artist: s})
			twice := Normalize(models.RawPlay{Title: once.Title, Artist: once.Artist})

			if once.Title != twice.Title || once.Artist != twice.Artist {
				t.Errorf("normalization is not idempotent: %q -> %q -> %q", s, once.Title, twice.Title)
			}

			fp1 := ComputeFingerprints(once, "")
			fp2 := ComputeFingerprints(twice, "")
			if fp1 != fp2 {
				t.Errorf("fingerprints changed on re-normalization: %+v vs %+v", fp1, fp2)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("keeps display metadata", func(t *testing.T) {
		got := Normalize(models.RawPlay{
			VideoID:         "abc",
			Title:           "  Bohemian   Rhapsody ",
			Artist:          "Queen",
			Album:           "A Night at the Opera",
			DurationSeconds: 355,
			Position:        3,
		})

		want := models.NormalizedTrack{
			Title:           "bohemian rhapsody",
			Artist:          "queen",
			DurationSeconds: 355,
			DisplayTitle:    "Bohemian Rhapsody",
			DisplayArtist:   "Queen",
			Album:           "A Night at the Opera",
		}
		if got != want {
			t.Errorf("Normalize() = %+v, want %+v", got, want)
		}
	})

	t.Run("missing fields are not scrobbleable", func(t *testing.T) {
		got := Normalize(models.RawPlay{Title: "Untitled", DurationSeconds: -5})
		if got.Scrobbleable() {
			t.Error("expected track without artist to be unscrobbleable")
		}
		if got.DurationSeconds != 0 {
			t.Errorf("expected negative duration to clamp to 0, got %d", got.DurationSeconds)
		}
	})
}

func TestComputeFingerprints(t *testing.T) {
	t.Run("with video id", func(t *testing.T) {
		tr := Normalize(models.RawPlay{VideoID: " dQw4w9WgXcQ ", Title: "Never Gonna Give You Up", Artist: "Rick Astley"})
		fp := ComputeFingerprints(tr, " dQw4w9WgXcQ ")

		if fp.ByID != "id:dQw4w9WgXcQ" {
			t.Errorf("ByID = %q", fp.ByID)
		}
		if fp.ByTitleArtist != "ta:never gonna give you up|rick astley" {
			t.Errorf("ByTitleArtist = %q", fp.ByTitleArtist)
		}
		if fp.ByNormalized != "nz:never gonna give you up|rick astley" {
			t.Errorf("ByNormalized = %q", fp.ByNormalized)
		}
		if fp.Canonical() != fp.ByID {
			t.Errorf("expected canonical to be ByID, got %q", fp.Canonical())
		}
	})

	t.Run("without video id", func(t *testing.T) {
		tr := Normalize(models.RawPlay{Title: "Song", Artist: "Artist"})
		fp := ComputeFingerprints(tr, "   ")

		if fp.ByID != "" {
			t.Errorf("expected empty ByID, got %q", fp.ByID)
		}
		if fp.Canonical() != "ta:song|artist" {
			t.Errorf("expected canonical ta:song|artist, got %q", fp.Canonical())
		}
	})

	t.Run("loose form matches decorated variants", func(t *testing.T) {
		base := ComputeFingerprints(Normalize(models.RawPlay{Title: "Halo", Artist: "Beyonce"}), "")

		variants := []models.RawPlay{
			{Title: "Halo (Official Video)", Artist: "Beyoncé"},
			{Title: "Halo [Lyrics]", Artist: "Beyoncé - Topic"},
			{Title: "Halo - Remastered 2011", Artist: "BEYONCÉ"},
			{Title: "Halo (2011 Remaster)", Artist: "Beyonce"},
			{Title: "Halo!", Artist: "Beyoncé"},
		}

		for _, v := range variants {
			fp := ComputeFingerprints(Normalize(v), "")
			if fp.ByNormalized != base.ByNormalized {
				t.Errorf("%q by %q: ByNormalized = %q, want %q", v.Title, v.Artist, fp.ByNormalized, base.ByNormalized)
			}
			if fp.ByTitleArtist == base.ByTitleArtist && v.Title != "Halo" {
				t.Errorf("%q by %q: expected strict key to differ", v.Title, v.Artist)
			}
		}
	})

	t.Run("featured artists are stripped", func(t *testing.T) {
		a := ComputeFingerprints(Normalize(models.RawPlay{Title: "Stay (feat. Mikky Ekko)", Artist: "Rihanna"}), "")
		b := ComputeFingerprints(Normalize(models.RawPlay{Title: "Stay", Artist: "Rihanna ft. Mikky Ekko"}), "")
		if a.ByNormalized != b.ByNormalized {
			t.Errorf("expected equal loose keys, got %q and %q", a.ByNormalized, b.ByNormalized)
		}
	})

	t.Run("ampersand and 'and' are equivalent", func(t *testing.T) {
		a := ComputeFingerprints(Normalize(models.RawPlay{Title: "Song", Artist: "Simon & Garfunkel"}), "")
		b := ComputeFingerprints(Normalize(models.RawPlay{Title: "Song", Artist: "Simon and Garfunkel"}), "")
		if a.ByNormalized != b.ByNormalized {
			t.Errorf("expected equal loose keys, got %q and %q", a.ByNormalized, b.ByNormalized)
		}
	})

	t.Run("title made only of noise keeps strict form", func(t *testing.T) {
		fp := ComputeFingerprints(Normalize(models.RawPlay{Title: "(Official Video)", Artist: "Band"}), "")
		if fp.ByNormalized != "nz:(official video)|band" {
			t.Errorf("ByNormalized = %q", fp.ByNormalized)
		}
	})
}

func TestNew(t *testing.T) {
	t.Run("invalid pattern", func(t *testing.T) {
		if _, err := New([]string{`(unclosed`}); err == nil {
			t.Fatal("expected compile error")
		}
	})

	t.Run("no patterns disables stripping", func(t *testing.T) {
		n, err := New(nil)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		a := n.ComputeFingerprints(n.Normalize(models.RawPlay{Title: "Halo (Official Video)", Artist: "Beyonce"}), "")
		if a.ByNormalized != "nz:halo official video|beyonce" {
			t.Errorf("ByNormalized = %q", a.ByNormalized)
		}
	})

	t.Run("custom pattern", func(t *testing.T) {
		n := MustNew([]string{`\s*\(live\)`})
		a := n.ComputeFingerprints(n.Normalize(models.RawPlay{Title: "Song (Live)", Artist: "Band"}), "")
		b := n.ComputeFingerprints(n.Normalize(models.RawPlay{Title: "Song", Artist: "Band"}), "")
		if a.ByNormalized != b.ByNormalized {
			t.Errorf("expected custom pattern to strip (live), got %q and %q", a.ByNormalized, b.ByNormalized)
		}
	})
}
