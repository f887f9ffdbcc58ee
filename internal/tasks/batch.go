package tasks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytscrobble/internal/metrics"
	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 100
	DefaultMaxUsers  = 200
	MaxMaxUsers      = 1000

	defaultConcurrency = 4
	defaultTrigger     = "manual"
)

// BatchOptions are the trigger parameters of one batch run.
type BatchOptions struct {
	BatchSize int
	Offset    int
	MaxUsers  int
	Trigger   string // recorded on the sync run, e.g. "cli" or "daemon"
}

// normalized clamps the options into their allowed ranges.
func (o BatchOptions) normalized() BatchOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	o.BatchSize = min(o.BatchSize, MaxBatchSize)
	if o.MaxUsers <= 0 {
		o.MaxUsers = DefaultMaxUsers
	}
	o.MaxUsers = min(o.MaxUsers, MaxMaxUsers)
	o.Offset = max(o.Offset, 0)
	if o.Trigger == "" {
		o.Trigger = defaultTrigger
	}
	return o
}

// UserError records a user whose pass failed.
type UserError struct {
	UserID   string               `json:"user_id"`
	Category shared.ErrorCategory `json:"category"`
	Err      error                `json:"-"`
}

func (e UserError) Error() string {
	return fmt.Sprintf("user %s: %v", e.UserID, e.Err)
}

// BatchResult aggregates one batch run.
type BatchResult struct {
	RunID         string        `json:"run_id,omitempty"`
	Eligible      int           `json:"eligible"`
	Processed     int           `json:"processed"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	NewScrobbles  int           `json:"new_scrobbles"`
	PerUserErrors []UserError   `json:"per_user_errors,omitempty"`
	Results       []*SyncResult `json:"results,omitempty"`
	NextOffset    int           `json:"next_offset"`
	Duration      time.Duration `json:"duration"`
}

// CoordinatorOptions configure a [BatchCoordinator].
type CoordinatorOptions struct {
	Concurrency int           // passes in flight per chunk
	Deadline    time.Duration // wall-clock bound of a run, zero for none
	Logger      *log.Logger
	Metrics     *metrics.Recorder
	Now         func() time.Time
}

// CoordinatorOptionsFromConfig maps the [batch] section of cfg.
func CoordinatorOptionsFromConfig(cfg *shared.Config) CoordinatorOptions {
	return CoordinatorOptions{
		Concurrency: cfg.Batch.Concurrency,
		Deadline:    cfg.Batch.Deadline.Duration,
	}
}

// BatchCoordinator selects eligible users and runs their passes with bounded concurrency.
type BatchCoordinator struct {
	users  UserSource
	runs   RunRecorder
	syncer UserSyncer
	opts   CoordinatorOptions
	logger *log.Logger
}

// NewBatchCoordinator creates a new [BatchCoordinator]. runs may be nil to skip the audit trail.
func NewBatchCoordinator(users UserSource, runs RunRecorder, syncer UserSyncer, opts CoordinatorOptions) *BatchCoordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &BatchCoordinator{users: users, runs: runs, syncer: syncer, opts: opts, logger: logger}
}

// RunBatch processes one batch without progress reporting.
func (c *BatchCoordinator) RunBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	return c.Run(ctx, nil, opts)
}

// Run processes one batch and sends progress on the optional channel without blocking.
//
// Candidate ids are selected once, then loaded and synced in chunks of BatchSize.
// A failing user is recorded in [BatchResult.PerUserErrors] and never stops the batch.
// An error is returned only when users cannot be selected or loaded.
func (c *BatchCoordinator) Run(ctx context.Context, progress chan<- ProgressUpdate, opts BatchOptions) (*BatchResult, error) {
	opts = opts.normalized()
	if c.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Deadline)
		defer cancel()
	}

	now := c.opts.Now()
	result := &BatchResult{}
	run := models.NewSyncRun(opts.Trigger, opts.BatchSize, opts.Offset, opts.MaxUsers)
	if c.runs != nil {
		if err := c.runs.Create(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to record sync run: %w", err)
		}
		result.RunID = run.ID()
	}

	logger := c.logger.With("trigger", opts.Trigger, "offset", opts.Offset)
	err := c.process(ctx, logger, progress, opts, now, result)
	result.Duration = c.opts.Now().Sub(now)

	c.complete(ctx, logger, run, result, err)
	if err != nil {
		return result, err
	}

	sendProgress(progress, batchCompleteUpdate(result))
	logger.Info("Batch complete",
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"new_scrobbles", result.NewScrobbles,
		"next_offset", result.NextOffset,
	)
	return result, nil
}

func (c *BatchCoordinator) process(ctx context.Context, logger *log.Logger, progress chan<- ProgressUpdate, opts BatchOptions, now time.Time, result *BatchResult) error {
	ids, err := c.users.ListEligibleIDs(ctx, now, opts.MaxUsers, opts.Offset)
	if err != nil {
		return fmt.Errorf("failed to select users: %w", err)
	}

	if eligible, err := c.users.CountEligible(ctx, now); err == nil {
		result.Eligible = eligible
		c.opts.Metrics.Eligible(eligible)
	} else {
		logger.Warn("Failed to count eligible users", "error", err)
	}
	sendProgress(progress, selectUsersUpdate(len(ids), result.Eligible))

	processed := make(map[string]bool, len(ids))
	defer func() {
		result.NextOffset = c.nextOffset(ctx, logger, opts, now, ids, processed)
	}()

	chunks := (len(ids) + opts.BatchSize - 1) / opts.BatchSize
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			logger.Warn("Batch deadline reached", "remaining", len(ids)-result.Processed)
			break
		}

		chunk := ids[i*opts.BatchSize : min((i+1)*opts.BatchSize, len(ids))]
		sendProgress(progress, loadChunkUpdate(i+1, chunks, len(chunk)))

		users, err := c.users.GetMany(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to load users: %w", err)
		}
		c.syncChunk(ctx, progress, users, len(ids), processed, result)
	}
	return nil
}

// nextOffset returns where the following run resumes.
//
// A synced user leaves the eligible set, so the cursor only advances past selected users that
// were processed yet are still due. Unprocessed users keep their place at the front. Once the
// selection ran to the end of the eligible set the cursor wraps to 0.
func (c *BatchCoordinator) nextOffset(ctx context.Context, logger *log.Logger, opts BatchOptions, now time.Time, ids []string, processed map[string]bool) int {
	if len(processed) == len(ids) && len(ids) < opts.MaxUsers {
		return 0
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStoreTimeout)
	defer cancel()
	due, err := c.users.FilterEligible(rctx, now, ids)
	if err != nil {
		logger.Warn("Failed to compute resume offset", "error", err)
		return opts.Offset
	}

	skip := 0
	for _, id := range due {
		if !processed[id] {
			break
		}
		skip++
	}
	return opts.Offset + skip
}

// syncChunk runs the passes of one chunk with at most Concurrency in flight.
func (c *BatchCoordinator) syncChunk(ctx context.Context, progress chan<- ProgressUpdate, users []*models.User, total int, processed map[string]bool, result *BatchResult) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(c.opts.Concurrency)

	for _, user := range users {
		g.Go(func() error {
			res, userErr := c.syncOne(ctx, user)

			mu.Lock()
			defer mu.Unlock()

			result.Processed++
			processed[user.ID()] = true
			if res != nil {
				result.NewScrobbles += res.NewScrobbles
				result.Results = append(result.Results, res)
			}
			if userErr != nil {
				result.Failed++
				result.PerUserErrors = append(result.PerUserErrors, *userErr)
				sendProgress(progress, userFailedUpdate(result.Processed, total, *userErr))
				return nil
			}
			result.Succeeded++
			sendProgress(progress, userSyncedUpdate(result.Processed, total, res))
			return nil
		})
	}
	_ = g.Wait()
}

// syncOne runs one pass and converts failures, panics included, into a [UserError].
func (c *BatchCoordinator) syncOne(ctx context.Context, user *models.User) (res *SyncResult, userErr *UserError) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Sync pass panicked", "user", user.ID(), "panic", r)
			res = nil
			userErr = &UserError{
				UserID:   user.ID(),
				Category: shared.CategoryUnknown,
				Err:      fmt.Errorf("panic: %v", r),
			}
		}
	}()

	res, err := c.syncer.SyncUser(ctx, user)
	if err != nil {
		return res, &UserError{UserID: user.ID(), Category: shared.Categorize(err), Err: err}
	}
	return res, nil
}

// complete closes the audit row. It runs detached so a deadline still records the outcome.
func (c *BatchCoordinator) complete(ctx context.Context, logger *log.Logger, run *models.SyncRun, result *BatchResult, runErr error) {
	status := models.SyncRunCompleted
	if runErr != nil {
		status = models.SyncRunFailed
		run.ErrorMessage = runErr.Error()
	}
	c.opts.Metrics.Batch(run.Trigger, string(status), result.Succeeded, result.Failed, result.Duration)

	if c.runs == nil {
		return
	}

	run.Status = status
	run.Processed = result.Processed
	run.Succeeded = result.Succeeded
	run.Failed = result.Failed
	run.NewScrobbles = result.NewScrobbles
	run.NextOffset = result.NextOffset

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultStoreTimeout)
	defer cancel()
	if err := c.runs.Complete(wctx, run); err != nil {
		logger.Error("Failed to complete sync run", "run", run.ID(), "error", err)
	}
}
