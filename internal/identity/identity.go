// package identity derives stable track identities from raw history entries.
//
// Three fingerprints are computed for every play, from most to least specific:
// the upstream video id, the normalized title and artist, and a loose form of the
// title and artist with diacritics, punctuation and configured noise removed.
package identity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/desertthunder/ytscrobble/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultNoisePatterns strip decorations that YouTube Music adds to otherwise identical tracks.
var DefaultNoisePatterns = []string{
	`\s*[\(\[](feat\.?|ft\.?|featuring)\s[^\)\]]*[\)\]]`,
	`\s+(feat\.?|ft\.?|featuring)\s.*$`,
	`\s*[\(\[]\s*(official\s+)?(music\s+)?(video|audio|lyrics?|lyric\s+video|visualizer)\s*[\)\]]`,
	`\s*[\(\[][^\)\]]*remaster(ed)?[^\)\]]*[\)\]]`,
	`\s+-\s+(\d{4}\s+)?remaster(ed)?(\s+\d{4})?(\s+version)?$`,
	`\s+-\s+topic$`,
}

// Normalizer computes identities using a fixed set of noise patterns.
//
// A Normalizer is immutable and safe for concurrent use.
type Normalizer struct {
	noise []*regexp.Regexp
}

var defaultNormalizer = MustNew(DefaultNoisePatterns)

// New compiles patterns into a [Normalizer]. Patterns match case-insensitively.
//
// An empty list disables noise stripping.
func New(patterns []string) (*Normalizer, error) {
	n := &Normalizer{noise: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid noise pattern %q: %w", p, err)
		}
		n.noise = append(n.noise, re)
	}
	return n, nil
}

// MustNew is like [New] but panics on an invalid pattern.
func MustNew(patterns []string) *Normalizer {
	n, err := New(patterns)
	if err != nil {
		panic(err)
	}
	return n
}

// Default returns the [Normalizer] built from [DefaultNoisePatterns].
func Default() *Normalizer {
	return defaultNormalizer
}

// Normalize converts a raw play into its identity-bearing form.
func Normalize(p models.RawPlay) models.NormalizedTrack {
	return defaultNormalizer.Normalize(p)
}

// ComputeFingerprints derives the fingerprint set using the default noise patterns.
func ComputeFingerprints(t models.NormalizedTrack, rawVideoID string) models.Fingerprints {
	return defaultNormalizer.ComputeFingerprints(t, rawVideoID)
}

// Normalize converts a raw play into its identity-bearing form.
//
// It never fails: missing fields become empty strings and the caller decides whether
// the result is usable via [models.NormalizedTrack.Scrobbleable].
func (n *Normalizer) Normalize(p models.RawPlay) models.NormalizedTrack {
	duration := p.DurationSeconds
	if duration < 0 {
		duration = 0
	}
	return models.NormalizedTrack{
		Title:           NormalizeText(p.Title),
		Artist:          NormalizeText(p.Artist),
		DurationSeconds: duration,
		DisplayTitle:    collapseSpace(p.Title),
		DisplayArtist:   collapseSpace(p.Artist),
		Album:           collapseSpace(p.Album),
	}
}

// ComputeFingerprints derives the fingerprint set of a normalized track.
//
// ByID is set only when rawVideoID is non-empty. The loose form falls back to the
// strict form when stripping leaves nothing behind.
func (n *Normalizer) ComputeFingerprints(t models.NormalizedTrack, rawVideoID string) models.Fingerprints {
	fp := models.Fingerprints{
		ByTitleArtist: models.PrefixByTitleArtist + t.Title + "|" + t.Artist,
		ByNormalized:  models.PrefixByNormalized + n.loose(t.Title) + "|" + n.loose(t.Artist),
	}
	if id := strings.TrimSpace(rawVideoID); id != "" {
		fp.ByID = models.PrefixByID + id
	}
	return fp
}

// NormalizeText lower-cases s, composes it to NFC and collapses runs of whitespace.
//
// NormalizeText(NormalizeText(s)) == NormalizeText(s) for every s.
func NormalizeText(s string) string {
	return collapseSpace(norm.NFC.String(strings.ToLower(s)))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// loose applies the lossy normalization used for the lowest priority fingerprint.
func (n *Normalizer) loose(s string) string {
	if s == "" {
		return ""
	}

	out := foldDiacritics(s)
	for _, re := range n.noise {
		out = re.ReplaceAllString(out, "")
	}

	out = strings.ReplaceAll(out, "&", " and ")
	out = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, out)

	if out = collapseSpace(out); out == "" {
		return s
	}
	return out
}

// foldDiacritics decomposes s, drops combining marks and recomposes the remainder.
//
// The transformer chain holds state, so one is built per call.
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
