package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytscrobble/internal/metrics"
	"github.com/desertthunder/ytscrobble/internal/shared"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Defaults used when a [GuardOptions] field is zero.
const (
	defaultBreakerFailures  uint32 = 5
	defaultBreakerOpenDelay        = time.Minute
)

// GuardOptions configure the rate limiter and circuit breaker in front of an upstream.
type GuardOptions struct {
	RequestsPerSecond float64 // 0 disables rate limiting
	BreakerFailures   uint32  // consecutive transient failures before the breaker opens
	BreakerOpenDelay  time.Duration
	Logger            *log.Logger
	Metrics           *metrics.Recorder
}

// guard serializes access to one upstream through a token bucket and a circuit breaker.
//
// Only transient failures count against the breaker: an auth error or a rejected
// scrobble says nothing about the health of the service.
type guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	metrics *metrics.Recorder
}

func newGuard(name string, opts GuardOptions) *guard {
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = defaultBreakerFailures
	}
	openDelay := opts.BreakerOpenDelay
	if openDelay <= 0 {
		openDelay = defaultBreakerOpenDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	g := &guard{name: name, metrics: opts.Metrics}
	if opts.RequestsPerSecond > 0 {
		burst := max(int(opts.RequestsPerSecond), 1)
		g.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || shared.Categorize(err) != shared.CategoryTransient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			opts.Metrics.BreakerState(name, breakerStateValue(to))
		},
	})

	return g
}

// do waits for the limiter and runs fn through the breaker.
//
// An open breaker is reported as [shared.ErrUpstreamUnavailable] without calling fn.
func (g *guard) do(ctx context.Context, fn func() error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.metrics.Upstream(g.name, "throttled")
			return fmt.Errorf("%w: %s rate limiter: %v", shared.ErrTimeout, g.name, err)
		}
	}

	_, err := g.breaker.Execute(func() (any, error) {
		return nil, fn()
	})

	switch {
	case err == nil:
		g.metrics.Upstream(g.name, "ok")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.metrics.Upstream(g.name, "breaker_open")
		return fmt.Errorf("%w: %s circuit open", shared.ErrUpstreamUnavailable, g.name)
	default:
		g.metrics.Upstream(g.name, string(shared.Categorize(err)))
	}
	return err
}

// State reports the breaker state, mainly for health checks.
func (g *guard) State() gobreaker.State {
	return g.breaker.State()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// transportError maps a failed round trip to the upstream taxonomy.
func transportError(ctx context.Context, service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", shared.ErrTimeout, service, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", shared.ErrTimeout, service, err)
	}
	return fmt.Errorf("%w: %s: %v", shared.ErrUpstreamUnavailable, service, err)
}
