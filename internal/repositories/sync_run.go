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

var _ models.Repository[*models.SyncRun] = (*SyncRunRepository)(nil)

// SyncRunRepository implements [models.Repository] for batch run history.
//
// Runs are created when a batch starts and completed once with their aggregate counts.
type SyncRunRepository struct {
	db *sql.DB
}

// NewSyncRunRepository creates a new [SyncRunRepository] with the given database connection
func NewSyncRunRepository(db *sql.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

const syncRunColumns = `
	id, sequence, trigger_source, status, batch_size, start_offset, max_users,
	processed, succeeded, failed, new_scrobbles, next_offset, error_message,
	started_at, completed_at, created_at, updated_at
`

// Create inserts a new run into the database with generated ID and sequence
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	sequence, err := NextSequence(ctx, r.db, "sync_runs")
	if err != nil {
		return storeError("generate sequence", err)
	}

	run.SetID(shared.GenerateID())
	run.SetSequence(sequence)

	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO sync_runs (
			id, sequence, trigger_source, status, batch_size, start_offset, max_users,
			started_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID(), sequence, run.Trigger, run.Status, run.BatchSize, run.Offset, run.MaxUsers,
		run.StartedAt, run.CreatedAt(), run.UpdatedAt(),
	)
	if err != nil {
		return storeError("insert sync run", err)
	}

	return nil
}

// Complete stores the final counts and status of a run.
func (r *SyncRunRepository) Complete(ctx context.Context, run *models.SyncRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	if run.CompletedAt == nil {
		run.CompletedAt = &now
	}
	run.SetUpdatedAt(now)

	var errorMessage any = run.ErrorMessage
	if run.ErrorMessage == "" {
		errorMessage = nil
	}

	query := `
		UPDATE sync_runs
		SET status = ?, processed = ?, succeeded = ?, failed = ?, new_scrobbles = ?,
			next_offset = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		run.Status, run.Processed, run.Succeeded, run.Failed, run.NewScrobbles,
		run.NextOffset, errorMessage, run.CompletedAt, now, run.ID(),
	)
	if err != nil {
		return storeError("complete sync run", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeError("complete sync run", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: sync run %s", shared.ErrRecordNotFound, run.ID())
	}

	return nil
}

// Get retrieves a run by ID
func (r *SyncRunRepository) Get(ctx context.Context, id string) (*models.SyncRun, error) {
	query := `SELECT` + syncRunColumns + `FROM sync_runs WHERE id = ?`

	run, err := scanSyncRun(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: sync run %s", shared.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, storeError("query sync run", err)
	}
	return run, nil
}

// Latest returns the most recently started run, or [shared.ErrRecordNotFound] when none exist.
func (r *SyncRunRepository) Latest(ctx context.Context) (*models.SyncRun, error) {
	query := `SELECT` + syncRunColumns + `FROM sync_runs ORDER BY sequence DESC LIMIT 1`

	run, err := scanSyncRun(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no sync runs", shared.ErrRecordNotFound)
	}
	if err != nil {
		return nil, storeError("query sync run", err)
	}
	return run, nil
}

// Delete removes a run by ID
func (r *SyncRunRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sync_runs WHERE id = ?", id)
	if err != nil {
		return storeError("delete sync run", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return storeError("delete sync run", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: sync run %s", shared.ErrRecordNotFound, id)
	}
	return nil
}

// List retrieves runs newest first.
//
// Supported criteria: "status" ([models.SyncRunStatus] or string), "trigger" (string), "limit" (int).
func (r *SyncRunRepository) List(ctx context.Context, criteria map[string]any) ([]*models.SyncRun, error) {
	query := `SELECT` + syncRunColumns + `FROM sync_runs WHERE 1 = 1`
	args := []any{}

	switch status := criteria["status"].(type) {
	case models.SyncRunStatus:
		query += " AND status = ?"
		args = append(args, string(status))
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	}

	if trigger, ok := criteria["trigger"].(string); ok && trigger != "" {
		query += " AND trigger_source = ?"
		args = append(args, trigger)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("query sync runs", err)
	}
	defer rows.Close()

	var runs []*models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, storeError("scan sync run", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("row iteration", err)
	}

	return runs, nil
}

func scanSyncRun(row rowScanner) (*models.SyncRun, error) {
	var (
		id, trigger, status  string
		sequence             int
		run                  models.SyncRun
		errorMessage         sql.NullString
		startedAt            time.Time
		completedAt          sql.NullTime
		createdAt, updatedAt time.Time
	)

	err := row.Scan(
		&id, &sequence, &trigger, &status, &run.BatchSize, &run.Offset, &run.MaxUsers,
		&run.Processed, &run.Succeeded, &run.Failed, &run.NewScrobbles, &run.NextOffset, &errorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.SetID(id)
	run.SetSequence(sequence)
	run.SetCreatedAt(createdAt)
	run.SetUpdatedAt(updatedAt)
	run.Trigger = trigger
	run.Status = models.SyncRunStatus(status)
	run.ErrorMessage = errorMessage.String
	run.StartedAt = startedAt
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}

	return &run, nil
}
