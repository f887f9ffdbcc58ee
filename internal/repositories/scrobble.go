package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
)

// UpsertOutcome tells whether an upsert created a record or incremented an existing one.
type UpsertOutcome int

const (
	UpsertCreated UpsertOutcome = iota
	UpsertIncremented
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertCreated:
		return "created"
	case UpsertIncremented:
		return "incremented"
	default:
		return ""
	}
}

// MarshalText encodes the outcome by name.
func (o UpsertOutcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UpsertParams describes a successful submission to persist.
type UpsertParams struct {
	UserID       string
	Fingerprints models.Fingerprints
	Track        models.NormalizedTrack
	ScrobbledAt  int64
}

func (p UpsertParams) validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: user ID is required", shared.ErrInvalidInput)
	}
	if p.Fingerprints.Canonical() == "" {
		return fmt.Errorf("%w: fingerprint is required", shared.ErrInvalidInput)
	}
	return nil
}

// ScrobbleRepository is the dedup store: the per-user record of every track identity already forwarded.
//
// Records are keyed by (user_id, track_uid) where track_uid is the canonical fingerprint. The lower
// priority fingerprints are stored alongside so lookups can fall back to them.
type ScrobbleRepository struct {
	db *sql.DB
}

// NewScrobbleRepository creates a new [ScrobbleRepository] with the given database connection
func NewScrobbleRepository(db *sql.DB) *ScrobbleRepository {
	return &ScrobbleRepository{db: db}
}

const scrobbleColumns = `
	id, user_id, track_uid, title_artist_key, normalized_key, track_title, artist, album,
	last_scrobble_time, scrobble_count, created_at, updated_at
`

// Lookup finds the record matching fp, trying ByID, then ByTitleArtist, then ByNormalized.
//
// The first level with a match wins. Returns [shared.ErrRecordNotFound] when no level matches.
func (r *ScrobbleRepository) Lookup(ctx context.Context, userID string, fp models.Fingerprints) (*models.ScrobbleRecord, error) {
	return lookup(ctx, r.db, userID, fp)
}

func lookup(ctx context.Context, q querier, userID string, fp models.Fingerprints) (*models.ScrobbleRecord, error) {
	levels := []struct {
		column string
		value  string
	}{
		{"track_uid", fp.ByID},
		{"title_artist_key", fp.ByTitleArtist},
		{"normalized_key", fp.ByNormalized},
	}

	for _, level := range levels {
		if level.value == "" {
			continue
		}

		query := `SELECT` + scrobbleColumns + `FROM scrobbles
			WHERE user_id = ? AND ` + level.column + ` = ?
			ORDER BY last_scrobble_time DESC
			LIMIT 1`

		rec, err := scanScrobble(q.QueryRowContext(ctx, query, userID, level.value))
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, storeError("lookup scrobble", err)
		}
		return rec, nil
	}

	return nil, fmt.Errorf("%w: no scrobble for user %s", shared.ErrRecordNotFound, userID)
}

// Record inserts the first scrobble of a track identity.
//
// When a record with the same canonical fingerprint already exists, nothing changes and
// created is false: a concurrent pass got there first.
func (r *ScrobbleRepository) Record(ctx context.Context, p UpsertParams) (created bool, err error) {
	if err := p.validate(); err != nil {
		return false, err
	}

	query := `
		INSERT INTO scrobbles (
			id, user_id, track_uid, title_artist_key, normalized_key, track_title, artist, album,
			last_scrobble_time, scrobble_count, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (user_id, track_uid) DO NOTHING
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		shared.GenerateID(), p.UserID, p.Fingerprints.Canonical(),
		p.Fingerprints.ByTitleArtist, p.Fingerprints.ByNormalized,
		p.Track.DisplayTitle, p.Track.DisplayArtist, p.Track.Album,
		p.ScrobbledAt, now, now,
	)
	if err != nil {
		return false, storeError("record scrobble", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, storeError("record scrobble", err)
	}
	return rows == 1, nil
}

// Upsert creates a record with count 1 or increments the matching record and refreshes its time.
//
// The matching record is resolved through the same fallback as [ScrobbleRepository.Lookup],
// so a track first stored under its title and artist is incremented rather than duplicated
// once its video id is known. The whole operation is one transaction.
func (r *ScrobbleRepository) Upsert(ctx context.Context, p UpsertParams) (UpsertOutcome, *models.ScrobbleRecord, error) {
	if err := p.validate(); err != nil {
		return 0, nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, storeError("begin upsert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	outcome := UpsertIncremented

	existing, err := lookup(ctx, tx, p.UserID, p.Fingerprints)
	switch {
	case err == nil:
		query := `
			UPDATE scrobbles
			SET scrobble_count = scrobble_count + 1, last_scrobble_time = ?, updated_at = ?
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, query, p.ScrobbledAt, now, existing.ID); err != nil {
			return 0, nil, storeError("increment scrobble", err)
		}
	case errors.Is(err, shared.ErrRecordNotFound):
		query := `
			INSERT INTO scrobbles (
				id, user_id, track_uid, title_artist_key, normalized_key, track_title, artist, album,
				last_scrobble_time, scrobble_count, created_at, updated_at
			)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (user_id, track_uid) DO UPDATE SET
				scrobble_count = scrobble_count + 1,
				last_scrobble_time = excluded.last_scrobble_time,
				updated_at = excluded.updated_at
		`
		_, err := tx.ExecContext(ctx, query,
			shared.GenerateID(), p.UserID, p.Fingerprints.Canonical(),
			p.Fingerprints.ByTitleArtist, p.Fingerprints.ByNormalized,
			p.Track.DisplayTitle, p.Track.DisplayArtist, p.Track.Album,
			p.ScrobbledAt, now, now,
		)
		if err != nil {
			return 0, nil, storeError("insert scrobble", err)
		}
	default:
		return 0, nil, err
	}

	query := `SELECT` + scrobbleColumns + `FROM scrobbles WHERE user_id = ? AND track_uid = ?`
	uid := p.Fingerprints.Canonical()
	if existing != nil {
		uid = existing.TrackUID
	}

	rec, err := scanScrobble(tx.QueryRowContext(ctx, query, p.UserID, uid))
	if err != nil {
		return 0, nil, storeError("read upserted scrobble", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, storeError("commit upsert", err)
	}

	if rec.ScrobbleCount == 1 {
		outcome = UpsertCreated
	}
	return outcome, rec, nil
}

// ListByUser returns a user's records, most recently scrobbled first.
func (r *ScrobbleRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.ScrobbleRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT` + scrobbleColumns + `FROM scrobbles
		WHERE user_id = ?
		ORDER BY last_scrobble_time DESC, created_at DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, storeError("list scrobbles", err)
	}
	defer rows.Close()

	var records []models.ScrobbleRecord
	for rows.Next() {
		rec, err := scanScrobble(rows)
		if err != nil {
			return nil, storeError("scan scrobble", err)
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("row iteration", err)
	}

	return records, nil
}

// CountByUser returns how many distinct tracks have been forwarded for a user.
func (r *ScrobbleRepository) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scrobbles WHERE user_id = ?", userID).Scan(&count); err != nil {
		return 0, storeError("count scrobbles", err)
	}
	return count, nil
}

// DeleteByUser removes every record of a user and returns how many were deleted.
//
// The sync engine never deletes records; this serves explicit user data removal.
func (r *ScrobbleRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scrobbles WHERE user_id = ?", userID)
	if err != nil {
		return 0, storeError("delete scrobbles", err)
	}
	return result.RowsAffected()
}

func scanScrobble(row rowScanner) (*models.ScrobbleRecord, error) {
	var rec models.ScrobbleRecord
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.TrackUID, &rec.TitleArtistKey, &rec.NormalizedKey,
		&rec.Title, &rec.Artist, &rec.Album,
		&rec.LastScrobbleTime, &rec.ScrobbleCount, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
