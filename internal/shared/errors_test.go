package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCategorize(t *testing.T) {
	tc := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{name: "nil", err: nil, want: CategoryNone},
		{name: "rate limited", err: fmt.Errorf("%w: retry later", ErrRateLimited), want: CategoryTransient},
		{name: "upstream down", err: fmt.Errorf("%w: status 503", ErrUpstreamUnavailable), want: CategoryTransient},
		{name: "timeout", err: ErrTimeout, want: CategoryTransient},
		{name: "deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded), want: CategoryTransient},
		{name: "auth", err: fmt.Errorf("%w: invalid session key", ErrAuthFailed), want: CategoryAuth},
		{name: "missing credentials", err: ErrMissingCredentials, want: CategoryAuth},
		{name: "store", err: fmt.Errorf("%w: database is locked", ErrStoreUnavailable), want: CategoryStore},
		{name: "rejected", err: fmt.Errorf("%w: ignored by last.fm", ErrSubmitRejected), want: CategoryRejected},
		{name: "anything else", err: errors.New("boom"), want: CategoryUnknown},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.want {
				t.Errorf("Categorize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsStopCondition(t *testing.T) {
	if !IsStopCondition(fmt.Errorf("%w: code 9", ErrAuthFailed)) {
		t.Error("auth failures should stop the pass")
	}
	if !IsStopCondition(ErrRateLimited) {
		t.Error("rate limiting should stop the pass")
	}
	if IsStopCondition(ErrSubmitRejected) {
		t.Error("a rejected track should not stop the pass")
	}
	if IsStopCondition(ErrUpstreamUnavailable) {
		t.Error("an unavailable upstream should not stop the pass")
	}
}
