// Package daemon runs the batch coordinator on an interval under a suture supervisor.
//
// The supervisor restarts a crashed scheduler or HTTP listener with backoff. Only
// single-tenant deployments need it: hosted deployments trigger `batch run` from an
// external timer instead.
package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytscrobble/internal/server"
	"github.com/desertthunder/ytscrobble/internal/tasks"
	"github.com/thejerf/suture/v4"
)

const (
	defaultInterval = 5 * time.Minute
	minInterval     = 10 * time.Second
)

// BatchRunner runs one batch. Implemented by [tasks.BatchCoordinator].
type BatchRunner interface {
	Run(ctx context.Context, progress chan<- tasks.ProgressUpdate, opts tasks.BatchOptions) (*tasks.BatchResult, error)
}

// Scheduler runs a batch immediately and then on every tick, carrying NextOffset between runs.
type Scheduler struct {
	runner   BatchRunner
	interval time.Duration
	opts     tasks.BatchOptions
	logger   *log.Logger
}

// NewScheduler creates a [Scheduler]. Intervals under ten seconds are raised to that minimum.
func NewScheduler(runner BatchRunner, interval time.Duration, opts tasks.BatchOptions, logger *log.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	interval = max(interval, minInterval)
	if opts.Trigger == "" {
		opts.Trigger = "daemon"
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Scheduler{runner: runner, interval: interval, opts: opts, logger: logger}
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)
	offset := s.opts.Offset
	for {
		offset = s.tick(ctx, offset)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one batch and returns the offset for the next one.
func (s *Scheduler) tick(ctx context.Context, offset int) int {
	opts := s.opts
	opts.Offset = offset

	res, err := s.runner.Run(ctx, nil, opts)
	if err != nil {
		s.logger.Error("scheduled batch failed", "offset", offset, "error", err)
		return 0
	}
	return res.NextOffset
}

func (s *Scheduler) String() string {
	return "batch-scheduler"
}

// Options configure the supervisor tree built by [New].
type Options struct {
	Interval time.Duration
	Batch    tasks.BatchOptions
	// Addr and Handler enable the HTTP listener for /healthz and /metrics. Empty Addr disables it.
	Addr    string
	Handler http.Handler
	Logger  *log.Logger
}

// New builds the supervisor with the scheduler and, when configured, the HTTP listener.
func New(runner BatchRunner, opts Options) *suture.Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	sup := suture.New("ytscrobble", suture.Spec{
		EventHook:        eventHook(logger),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	sup.Add(NewScheduler(runner, opts.Interval, opts.Batch, logger.With("service", "scheduler")))
	if opts.Addr != "" && opts.Handler != nil {
		sup.Add(server.New("http-server", opts.Addr, opts.Handler))
	}
	return sup
}

// eventHook reports supervisor events (panics, restarts, backoff) through logger.
func eventHook(logger *log.Logger) suture.EventHook {
	return func(e suture.Event) {
		kv := make([]any, 0, 2*len(e.Map()))
		for k, v := range e.Map() {
			kv = append(kv, k, v)
		}
		logger.Warn(fmt.Sprintf("supervisor: %s", e), kv...)
	}
}
