package models

// RawPlay is one entry of the upstream listening history as received.
//
// Position is the index in the upstream list. It carries no timing information and
// the list order is not stable across fetches.
type RawPlay struct {
	VideoID         string `json:"video_id,omitempty"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Position        int    `json:"position"`
}

// NormalizedTrack is the identity-bearing form of a [RawPlay].
//
// Title and Artist are lower-cased with whitespace collapsed and drive identity.
// The Display fields keep the original text for submission.
type NormalizedTrack struct {
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`

	DisplayTitle  string `json:"display_title"`
	DisplayArtist string `json:"display_artist"`
	Album         string `json:"album,omitempty"`
}

// Scrobbleable reports whether the track has enough metadata to be submitted.
func (t NormalizedTrack) Scrobbleable() bool {
	return t.Title != "" && t.Artist != ""
}

// Fingerprint prefixes keep identities of different levels from colliding in one column.
const (
	PrefixByID          = "id:"
	PrefixByTitleArtist = "ta:"
	PrefixByNormalized  = "nz:"
)

// Fingerprints is the set of identities computed for one play, in lookup priority order.
//
// ByID is empty when the upstream entry had no video id.
type Fingerprints struct {
	ByID          string `json:"by_id,omitempty"`
	ByTitleArtist string `json:"by_title_artist"`
	ByNormalized  string `json:"by_normalized"`
}

// Canonical returns the identity a new record is stored under: ByID when present, else ByTitleArtist.
func (f Fingerprints) Canonical() string {
	if f.ByID != "" {
		return f.ByID
	}
	return f.ByTitleArtist
}

// Ordered returns the non-empty fingerprints from highest to lowest priority.
func (f Fingerprints) Ordered() []string {
	out := make([]string, 0, 3)
	for _, fp := range []string{f.ByID, f.ByTitleArtist, f.ByNormalized} {
		if fp != "" {
			out = append(out, fp)
		}
	}
	return out
}
