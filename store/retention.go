package store

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/beltheas/scrollback/telemetry"
)

// RetentionPolicy controls background pruning of aged-out history.
type RetentionPolicy struct {
	// MaxAge: records older than this are pruned (0 = retention disabled).
	MaxAge time.Duration
	// Interval: how often the prune job runs.
	Interval time.Duration
}

// LoadRetentionPolicy reads retention configuration from environment
// variables. RETENTION_MAX_AGE and RETENTION_INTERVAL take Go duration
// strings ("720h", "15m").
func LoadRetentionPolicy() RetentionPolicy {
	policy := RetentionPolicy{
		Interval: 6 * time.Hour,
	}
	if s := os.Getenv("RETENTION_MAX_AGE"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			policy.MaxAge = d
		}
	}
	if s := os.Getenv("RETENTION_INTERVAL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			policy.Interval = d
		}
	}
	return policy
}

// StartRetentionJob runs a background loop that prunes records older than
// the policy's MaxAge. It runs once immediately, then on every Interval
// tick, until ctx is canceled. Returns without starting anything when the
// policy is disabled.
func StartRetentionJob(ctx context.Context, st Store, policy RetentionPolicy) {
	if policy.MaxAge <= 0 {
		slog.Info("retention job disabled (no max age configured)")
		return
	}

	slog.Info("retention job starting",
		slog.Duration("max_age", policy.MaxAge),
		slog.Duration("interval", policy.Interval))

	go func() {
		runRetentionPrune(ctx, st, policy)

		ticker := time.NewTicker(policy.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("retention job stopped")
				return
			case <-ticker.C:
				runRetentionPrune(ctx, st, policy)
			}
		}
	}()
}

// runRetentionPrune performs a single prune cycle.
func runRetentionPrune(ctx context.Context, st Store, policy RetentionPolicy) {
	logger := slog.Default().With(slog.String("component", "retention"))

	cutoff := time.Now().UTC().Add(-policy.MaxAge)
	pruned, err := st.PruneOlderThan(ctx, cutoff)
	if err != nil {
		logger.Warn("retention prune failed", slog.Any("err", err))
		return
	}
	telemetry.CountPruned(pruned)
	if pruned > 0 {
		logger.Info("retention prune completed",
			slog.Int64("pruned", pruned),
			slog.Time("cutoff", cutoff))
	}
}
