package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
)

var _ models.Repository[*models.User] = (*UserRepository)(nil)

// UserRepository implements [models.Repository] for user [models.User] persistence.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, sequence, email, name, auto_scrobble, interval_seconds,
	youtube_auth_file, youtube_access_token, youtube_refresh_token, youtube_token_expiry,
	lastfm_session_key, lastfm_username,
	last_sync_at, last_error_category, last_error_message, last_error_at,
	created_at, updated_at, deleted_at
`

// eligibleClause selects users due for an automatic sync at the unix time bound to its single parameter.
const eligibleClause = `
	deleted_at IS NULL
	AND auto_scrobble = 1
	AND last_error_category != 'auth'
	AND (last_sync_at IS NULL OR last_sync_at + interval_seconds <= ?)
`

// Create inserts a new user into the database with generated ID and sequence
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	sequence, err := NextSequence(ctx, r.db, "users")
	if err != nil {
		return storeError("generate sequence", err)
	}

	user.SetID(shared.GenerateID())
	user.SetSequence(sequence)

	if err := user.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO users (
			id, sequence, email, name, auto_scrobble, interval_seconds,
			youtube_auth_file, youtube_access_token, youtube_refresh_token, youtube_token_expiry,
			lastfm_session_key, lastfm_username, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	yt, fm := user.Credentials.YouTube, user.Credentials.LastFM
	_, err = r.db.ExecContext(ctx, query,
		user.ID(), sequence, user.Email, user.Name, user.Settings.AutoScrobble, user.Settings.IntervalSeconds,
		yt.AuthFile, yt.AccessToken, yt.RefreshToken, unixOrNull(&yt.TokenExpiry),
		fm.SessionKey, fm.Username, user.CreatedAt(), user.UpdatedAt(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: a user with email %s already exists", shared.ErrInvalidInput, user.Email)
	}
	if err != nil {
		return storeError("insert user", err)
	}

	return nil
}

// Get retrieves a user by ID, excluding soft-deleted users
func (r *UserRepository) Get(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT` + userColumns + `FROM users WHERE id = ? AND deleted_at IS NULL`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, storeError("query user", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, excluding soft-deleted users
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT` + userColumns + `FROM users WHERE email = ? AND deleted_at IS NULL`

	user, err := scanUser(r.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, email)
	}
	if err != nil {
		return nil, storeError("query user", err)
	}
	return user, nil
}

// Resolve looks a user up by ID, falling back to email when ref contains "@".
func (r *UserRepository) Resolve(ctx context.Context, ref string) (*models.User, error) {
	if strings.Contains(ref, "@") {
		return r.GetByEmail(ctx, ref)
	}
	return r.Get(ctx, ref)
}

// GetMany loads the given users in the order of ids. Missing or deleted users are skipped.
func (r *UserRepository) GetMany(ctx context.Context, ids []string) ([]*models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT` + userColumns + `FROM users WHERE deleted_at IS NULL AND id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	users, err := r.queryUsers(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.User, len(users))
	for _, u := range users {
		byID[u.ID()] = u
	}

	ordered := make([]*models.User, 0, len(users))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			ordered = append(ordered, u)
		}
	}
	return ordered, nil
}

// UpdateSettings replaces a user's sync preferences.
func (r *UserRepository) UpdateSettings(ctx context.Context, id string, settings models.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE users
		SET auto_scrobble = ?, interval_seconds = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	return r.execOne(ctx, "update settings", id, query, settings.AutoScrobble, settings.IntervalSeconds, time.Now().UTC(), id)
}

// SaveCredentials stores a user's credentials and clears any auth flag so automatic syncs resume.
//
// Empty fields keep their stored value. Application keys are never persisted per user.
func (r *UserRepository) SaveCredentials(ctx context.Context, id string, creds models.Credentials) error {
	query := `
		UPDATE users
		SET youtube_auth_file = COALESCE(NULLIF(?, ''), youtube_auth_file),
			youtube_access_token = COALESCE(NULLIF(?, ''), youtube_access_token),
			youtube_refresh_token = COALESCE(NULLIF(?, ''), youtube_refresh_token),
			youtube_token_expiry = COALESCE(?, youtube_token_expiry),
			lastfm_session_key = COALESCE(NULLIF(?, ''), lastfm_session_key),
			lastfm_username = COALESCE(NULLIF(?, ''), lastfm_username),
			last_error_category = CASE WHEN last_error_category = 'auth' THEN '' ELSE last_error_category END,
			updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	yt, fm := creds.YouTube, creds.LastFM
	return r.execOne(ctx, "save credentials", id, query,
		yt.AuthFile, yt.AccessToken, yt.RefreshToken, unixOrNull(&yt.TokenExpiry),
		fm.SessionKey, fm.Username, time.Now().UTC(), id,
	)
}

// RecordSyncOutcome stamps the end of a sync pass.
//
// last_sync_at is always advanced. A [shared.CategoryNone] category clears the last error.
func (r *UserRepository) RecordSyncOutcome(ctx context.Context, id string, at time.Time, category shared.ErrorCategory, message string) error {
	var query string
	var args []any

	if category == shared.CategoryNone {
		query = `
			UPDATE users
			SET last_sync_at = ?, last_error_category = '', last_error_message = '', last_error_at = NULL, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`
		args = []any{at.Unix(), time.Now().UTC(), id}
	} else {
		query = `
			UPDATE users
			SET last_sync_at = ?, last_error_category = ?, last_error_message = ?, last_error_at = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`
		args = []any{at.Unix(), string(category), message, at.Unix(), time.Now().UTC(), id}
	}

	return r.execOne(ctx, "record sync outcome", id, query, args...)
}

// ListEligibleIDs returns the IDs of users due for an automatic sync at now.
//
// Users that have never synced come first, then the longest waiting. Ties break on sequence
// so repeated calls with increasing offsets page through a stable order.
func (r *UserRepository) ListEligibleIDs(ctx context.Context, now time.Time, limit, offset int) ([]string, error) {
	query := `
		SELECT id FROM users
		WHERE` + eligibleClause + `
		ORDER BY last_sync_at ASC NULLS FIRST, sequence ASC
		LIMIT ? OFFSET ?
	`

	return r.queryIDs(ctx, "list eligible users", query, now.Unix(), limit, offset)
}

// FilterEligible returns the subset of ids still due for an automatic sync at now, in the order given.
func (r *UserRepository) FilterEligible(ctx context.Context, now time.Time, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT id FROM users WHERE` + eligibleClause + `AND id IN (` + placeholders + `)`

	args := make([]any, 0, len(ids)+1)
	args = append(args, now.Unix())
	for _, id := range ids {
		args = append(args, id)
	}

	found, err := r.queryIDs(ctx, "filter eligible users", query, args...)
	if err != nil {
		return nil, err
	}

	due := make(map[string]bool, len(found))
	for _, id := range found {
		due[id] = true
	}

	ordered := make([]string, 0, len(found))
	for _, id := range ids {
		if due[id] {
			ordered = append(ordered, id)
		}
	}
	return ordered, nil
}

func (r *UserRepository) queryIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError(op, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("scan user id", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("row iteration", err)
	}
	return ids, nil
}

// CountEligible returns how many users are due for an automatic sync at now.
func (r *UserRepository) CountEligible(ctx context.Context, now time.Time) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE`+eligibleClause, now.Unix()).Scan(&count); err != nil {
		return 0, storeError("count eligible users", err)
	}
	return count, nil
}

// Delete soft-deletes a user by ID
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()

	query := `
		UPDATE users
		SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	return r.execOne(ctx, "delete user", id, query, now, now, id)
}

// List retrieves all users matching the given criteria, excluding soft-deleted users
//
// Supported criteria: "email" (string) and "auto_scrobble" (bool).
func (r *UserRepository) List(ctx context.Context, criteria map[string]any) ([]*models.User, error) {
	query := `SELECT` + userColumns + `FROM users WHERE deleted_at IS NULL`
	args := []any{}

	if email, ok := criteria["email"].(string); ok && email != "" {
		query += " AND email = ?"
		args = append(args, email)
	}
	if auto, ok := criteria["auto_scrobble"].(bool); ok {
		query += " AND auto_scrobble = ?"
		args = append(args, auto)
	}

	query += " ORDER BY sequence ASC"
	return r.queryUsers(ctx, query, args...)
}

func (r *UserRepository) queryUsers(ctx context.Context, query string, args ...any) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query users", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storeError("scan user", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("row iteration", err)
	}

	return users, nil
}

// execOne runs an update that must touch exactly one live user.
func (r *UserRepository) execOne(ctx context.Context, op, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError(op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeError(op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrUserNotFound, id)
	}
	return nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		id, email, name                  string
		sequence, interval               int
		auto                             bool
		authFile, accessTok, refreshTok  string
		tokenExpiry, lastSync, lastErrAt sql.NullInt64
		sessionKey, username             string
		errCategory, errMessage          string
		createdAt, updatedAt             time.Time
		deletedAt                        sql.NullTime
	)

	err := row.Scan(
		&id, &sequence, &email, &name, &auto, &interval,
		&authFile, &accessTok, &refreshTok, &tokenExpiry,
		&sessionKey, &username,
		&lastSync, &errCategory, &errMessage, &lastErrAt,
		&createdAt, &updatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	user := models.NewUser(sequence, email, name)
	user.SetID(id)
	user.SetCreatedAt(createdAt)
	user.SetUpdatedAt(updatedAt)
	if deletedAt.Valid {
		user.SetDeletedAt(&deletedAt.Time)
	}

	user.Settings = models.Settings{AutoScrobble: auto, IntervalSeconds: interval}
	user.Credentials.YouTube = models.YouTubeCredentials{
		AuthFile:     authFile,
		AccessToken:  accessTok,
		RefreshToken: refreshTok,
	}
	if t := timeFromUnix(tokenExpiry); t != nil {
		user.Credentials.YouTube.TokenExpiry = *t
	}
	user.Credentials.LastFM = models.LastFMCredentials{SessionKey: sessionKey, Username: username}

	user.LastSyncAt = timeFromUnix(lastSync)
	user.LastError = models.LastError{
		Category: shared.ErrorCategory(errCategory),
		Message:  errMessage,
		At:       timeFromUnix(lastErrAt),
	}

	return user, nil
}
