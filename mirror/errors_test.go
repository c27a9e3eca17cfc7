package mirror

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFailureCauseString(t *testing.T) {
	tests := []struct {
		cause FailureCause
		want  string
	}{
		{CauseUnknown, "unknown"},
		{CauseFetch, "fetch"},
		{CauseStore, "store"},
		{CauseCanceled, "canceled"},
		{FailureCause(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.cause.String(); got != tt.want {
			t.Errorf("FailureCause(%d).String() = %q, want %q", tt.cause, got, tt.want)
		}
	}
}

func TestRefineFailure(t *testing.T) {
	tests := []struct {
		name  string
		cause FailureCause
		err   error
		want  FailureCause
	}{
		{"plain fetch error", CauseFetch, errors.New("api down"), CauseFetch},
		{"plain store error", CauseStore, errors.New("disk full"), CauseStore},
		{"wrapped cancellation", CauseStore, fmt.Errorf("persist: %w", context.Canceled), CauseCanceled},
		{"wrapped deadline", CauseFetch, fmt.Errorf("fetch: %w", context.DeadlineExceeded), CauseCanceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := refineFailure(tt.cause, tt.err); got != tt.want {
				t.Errorf("refineFailure = %v, want %v", got, tt.want)
			}
		})
	}
}
