package mirror

import (
	"context"
	"errors"
)

// ErrChannelFailed is returned by operations on a channel that has entered
// the failed state. The worker accepts no further work until restart.
var ErrChannelFailed = errors.New("mirror: channel sync failed")

// FailureCause buckets terminal sync failures for logging and metrics.
type FailureCause int

const (
	CauseUnknown FailureCause = iota
	// CauseFetch covers remote history fetch errors during backfill.
	CauseFetch
	// CauseStore covers persistence errors during flush or lookup.
	CauseStore
	// CauseCanceled covers context cancellation and deadline expiry.
	CauseCanceled
)

func (c FailureCause) String() string {
	switch c {
	case CauseFetch:
		return "fetch"
	case CauseStore:
		return "store"
	case CauseCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// refineFailure upgrades a cause to CauseCanceled when the underlying error
// is a context error, keeping shutdown noise out of fetch/store failure
// counts.
func refineFailure(cause FailureCause, err error) FailureCause {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CauseCanceled
	}
	return cause
}
