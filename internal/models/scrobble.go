package models

import "time"

// ScrobbleRecord marks a (user, track) pair as forwarded to the scrobble service.
//
// TrackUID is the canonical fingerprint at creation time. TitleArtistKey and NormalizedKey
// hold the lower-priority fingerprints so fallback lookups find the record whichever level
// was canonical.
type ScrobbleRecord struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	TrackUID         string    `json:"track_uid"`
	TitleArtistKey   string    `json:"title_artist_key"`
	NormalizedKey    string    `json:"normalized_key"`
	Title            string    `json:"title"`
	Artist           string    `json:"artist"`
	Album            string    `json:"album,omitempty"`
	LastScrobbleTime int64     `json:"last_scrobble_time"`
	ScrobbleCount    int       `json:"scrobble_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// LastScrobbled returns LastScrobbleTime as a [time.Time].
func (r ScrobbleRecord) LastScrobbled() time.Time {
	return time.Unix(r.LastScrobbleTime, 0).UTC()
}

// ScrobbleExport is a user's dedup records prepared for export.
type ScrobbleExport struct {
	UserID      string           `json:"user_id"`
	Email       string           `json:"email"`
	GeneratedAt time.Time        `json:"generated_at"`
	Records     []ScrobbleRecord `json:"records"`
}
