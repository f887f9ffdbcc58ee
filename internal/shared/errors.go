package shared

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidSettings    = fmt.Errorf("invalid settings")

	// Authentication errors
	ErrAuthFailed     = fmt.Errorf("authentication failed")
	ErrTokenExpired   = fmt.Errorf("access token expired")
	ErrRefreshFailed  = fmt.Errorf("token refresh failed")
	ErrNoRefreshToken = fmt.Errorf("no refresh token available")

	// Upstream service errors
	ErrTimeout             = fmt.Errorf("operation timed out")
	ErrRateLimited         = fmt.Errorf("rate limited by upstream")
	ErrUpstreamUnavailable = fmt.Errorf("upstream service unavailable")
	ErrSubmitRejected      = fmt.Errorf("scrobble rejected")
	ErrAPIRequest          = fmt.Errorf("API request failed")

	// Persistence errors
	ErrStoreUnavailable = fmt.Errorf("dedup store unavailable")
	ErrRecordNotFound   = fmt.Errorf("record not found")
	ErrUserNotFound     = fmt.Errorf("user not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ErrorCategory classifies a sync failure by how the system reacts to it.
type ErrorCategory string

const (
	CategoryNone      ErrorCategory = ""
	CategoryTransient ErrorCategory = "transient_upstream"
	CategoryAuth      ErrorCategory = "auth"
	CategoryStore     ErrorCategory = "store_unavailable"
	CategoryRejected  ErrorCategory = "submit_rejected"
	CategoryUnknown   ErrorCategory = "unknown"
)

// Categorize maps err onto an [ErrorCategory].
//
// Transient upstream failures are retried on the next scheduled pass, auth failures flag the user,
// store failures abort the pass and rejections are isolated to the track that caused them.
func Categorize(err error) ErrorCategory {
	switch {
	case err == nil:
		return CategoryNone
	case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrRefreshFailed), errors.Is(err, ErrNoRefreshToken),
		errors.Is(err, ErrMissingCredentials), errors.Is(err, ErrInvalidCredentials):
		return CategoryAuth
	case errors.Is(err, ErrStoreUnavailable):
		return CategoryStore
	case errors.Is(err, ErrSubmitRejected):
		return CategoryRejected
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	default:
		return CategoryUnknown
	}
}

// IsStopCondition reports whether err means no further submissions can succeed during the current pass.
func IsStopCondition(err error) bool {
	switch Categorize(err) {
	case CategoryAuth:
		return true
	default:
		return errors.Is(err, ErrRateLimited)
	}
}
