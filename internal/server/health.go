package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytscrobble/internal/models"
	"github.com/desertthunder/ytscrobble/internal/shared"
)

// BreakerReporter exposes an upstream client's circuit breaker state.
type BreakerReporter interface {
	Name() string
	BreakerState() string
}

// RunSource returns the most recent batch run.
type RunSource interface {
	Latest(ctx context.Context) (*models.SyncRun, error)
}

// HealthOptions configure a [HealthHandler]. Nil fields are left out of the report.
type HealthOptions struct {
	Ping     func(ctx context.Context) error
	Breakers []BreakerReporter
	Runs     RunSource
	Timeout  time.Duration
}

// HealthStatus is the JSON body served at /healthz.
type HealthStatus struct {
	Status   string            `json:"status"`
	Database string            `json:"database,omitempty"`
	Breakers map[string]string `json:"breakers,omitempty"`
	LastRun  *models.SyncRun   `json:"last_run,omitempty"`
}

// HealthHandler reports database reachability, breaker states and the latest batch run.
//
// It answers 503 only when the database is unreachable: an open breaker is reported as
// degraded since batches keep running and skip the affected upstream.
type HealthHandler struct {
	opts HealthOptions
}

func NewHealthHandler(opts HealthOptions) *HealthHandler {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	return &HealthHandler{opts: opts}
}

func (h *HealthHandler) Routes() []string {
	return []string{"/healthz"}
}

// Check builds the current [HealthStatus].
func (h *HealthHandler) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	status := HealthStatus{Status: "ok"}

	if h.opts.Ping != nil {
		status.Database = "ok"
		if err := h.opts.Ping(ctx); err != nil {
			status.Database = err.Error()
			status.Status = "unavailable"
		}
	}

	if len(h.opts.Breakers) > 0 {
		status.Breakers = make(map[string]string, len(h.opts.Breakers))
		for _, b := range h.opts.Breakers {
			state := b.BreakerState()
			status.Breakers[b.Name()] = state
			if state != "closed" && status.Status == "ok" {
				status.Status = "degraded"
			}
		}
	}

	if h.opts.Runs != nil {
		run, err := h.opts.Runs.Latest(ctx)
		if err == nil {
			status.LastRun = run
		} else if !errors.Is(err, shared.ErrRecordNotFound) {
			log.Debug("failed to load latest run", "error", err)
		}
	}
	return status
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	code := http.StatusOK
	if status.Status == "unavailable" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// NewDaemonRouter serves /healthz and, when metrics is non-nil, /metrics.
func NewDaemonRouter(logger *log.Logger, health *HealthHandler, metrics http.Handler) *BasicRouter {
	router := NewBasicRouter()
	router.Use(RequestLogger(logger))
	router.Handler(health)
	if metrics != nil {
		router.Handle(http.MethodGet, "/metrics", metrics)
	}
	return router
}
