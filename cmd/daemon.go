package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/desertthunder/ytscrobble/internal/daemon"
	"github.com/desertthunder/ytscrobble/internal/metrics"
	"github.com/desertthunder/ytscrobble/internal/server"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/desertthunder/ytscrobble/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Daemon runs batches on an interval until interrupted.
//
// It is the persistent scheduler for single-tenant setups and serves /healthz, plus
// /metrics when [daemon] metrics is enabled.
func (r *Runner) Daemon(ctx context.Context, cmd *cli.Command) error {
	if r.config.Daemon.Metrics && r.metrics == nil {
		r.metrics = metrics.New()
	}
	if err := r.open(); err != nil {
		return err
	}

	interval := r.config.Daemon.Interval.Duration
	if cmd.IsSet("interval") {
		interval = cmd.Duration("interval")
	}

	opts := daemon.Options{
		Interval: interval,
		Batch: tasks.BatchOptions{
			BatchSize: r.config.Batch.Size,
			MaxUsers:  r.config.Batch.MaxUsers,
			Trigger:   "daemon",
		},
		Logger: r.logger.With("component", "daemon"),
	}

	if !cmd.Bool("no-http") {
		opts.Addr = r.config.Server.Addr()
		if cmd.IsSet("addr") {
			opts.Addr = cmd.String("addr")
		}
		opts.Handler = r.daemonHandler()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.logger.Info("daemon starting", "interval", interval, "addr", opts.Addr, "metrics", r.metrics != nil)

	err := daemon.New(r.coordinator, opts).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		r.logger.Info("daemon stopped")
		return nil
	}
	return err
}

// healthHandler reports on the database, the upstream breakers and the run log.
func (r *Runner) healthHandler() *server.HealthHandler {
	var breakers []server.BreakerReporter
	for _, svc := range []any{r.fetcher, r.submitter} {
		if b, ok := svc.(server.BreakerReporter); ok {
			breakers = append(breakers, b)
		}
	}

	pingTimeout := max(r.config.Sync.StoreTimeout.Duration, time.Second)
	return server.NewHealthHandler(server.HealthOptions{
		Ping: func(ctx context.Context) error {
			return shared.PingDatabase(ctx, r.db, pingTimeout)
		},
		Breakers: breakers,
		Runs:     r.runs,
	})
}

// daemonHandler serves /healthz and, when metrics are enabled, /metrics.
func (r *Runner) daemonHandler() http.Handler {
	var metricsHandler http.Handler
	if r.metrics != nil {
		metricsHandler = r.metrics.Handler()
	}
	return server.NewDaemonRouter(r.logger.With("component", "http"), r.healthHandler(), metricsHandler)
}
