// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsIngested       prometheus.Counter
	EventsRejected       prometheus.Counter // non-assignee senders
	EventsDiscarded      prometheus.Counter // failed or stopped channels
	RecordsPersisted     prometheus.Counter
	RecordsExpired       prometheus.Counter // older than retention window at flush
	RecordsPruned        prometheus.Counter
	BackfillPages        prometheus.Counter
	SyncFailures         prometheus.Counter
	NotificationsDropped prometheus.Counter
	RateLimited          prometheus.Counter

	// Histograms (seconds / batch sizes)
	FlushDuration    prometheus.Observer
	BackfillDuration prometheus.Observer
	FlushBatchSize   prometheus.Observer

	// Gauges
	ChannelsSyncing prometheus.Gauge
	ChannelsSynced  prometheus.Gauge
	ChannelsFailed  prometheus.Gauge
	BufferBacklog   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_events_ingested_total", Help: "Live events accepted into a channel buffer"})
		EventsRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_events_rejected_total", Help: "Live events dropped because the sender is not the channel assignee"})
		EventsDiscarded = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_events_discarded_total", Help: "Live events dropped because the channel is failed or the service is stopping"})
		RecordsPersisted = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_records_persisted_total", Help: "Message records written to the store"})
		RecordsExpired = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_records_expired_total", Help: "Buffered events dropped at flush for exceeding the retention window"})
		RecordsPruned = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_records_pruned_total", Help: "Records removed by the retention job"})
		BackfillPages = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_backfill_pages_total", Help: "History pages fetched from remote sources"})
		SyncFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_sync_failures_total", Help: "Channels that transitioned to the failed state"})
		NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_notifications_dropped_total", Help: "Notifications dropped on slow subscribers"})
		RateLimited = promauto.NewCounter(prometheus.CounterOpts{Name: "scrollback_rate_limited_total", Help: "HTTP requests rejected by the per-IP rate limiter"})
		FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "scrollback_flush_duration_seconds", Help: "Flush cycle duration seconds", Buckets: prometheus.DefBuckets})
		BackfillDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "scrollback_backfill_duration_seconds", Help: "Initialization backfill duration seconds", Buckets: prometheus.DefBuckets})
		FlushBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{Name: "scrollback_flush_batch_size", Help: "Records per flush batch", Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500}})
		ChannelsSyncing = promauto.NewGauge(prometheus.GaugeOpts{Name: "scrollback_channels_syncing", Help: "Channels currently initializing"})
		ChannelsSynced = promauto.NewGauge(prometheus.GaugeOpts{Name: "scrollback_channels_synced", Help: "Channels fully synced"})
		ChannelsFailed = promauto.NewGauge(prometheus.GaugeOpts{Name: "scrollback_channels_failed", Help: "Channels in the terminal failed state"})
		BufferBacklog = promauto.NewGauge(prometheus.GaugeOpts{Name: "scrollback_buffer_backlog", Help: "Live events buffered and not yet flushed, across all channels"})
	})
}

// Counter helpers guard against use before Init (unit tests exercise the
// core without registering metrics).

func CountEventIngested() {
	if EventsIngested != nil {
		EventsIngested.Inc()
	}
}

func CountEventRejected() {
	if EventsRejected != nil {
		EventsRejected.Inc()
	}
}

func CountEventDiscarded() {
	if EventsDiscarded != nil {
		EventsDiscarded.Inc()
	}
}

func CountPersisted(n int) {
	if RecordsPersisted != nil && n > 0 {
		RecordsPersisted.Add(float64(n))
	}
}

func CountExpired(n int) {
	if RecordsExpired != nil && n > 0 {
		RecordsExpired.Add(float64(n))
	}
}

func CountPruned(n int64) {
	if RecordsPruned != nil && n > 0 {
		RecordsPruned.Add(float64(n))
	}
}

func CountBackfillPage() {
	if BackfillPages != nil {
		BackfillPages.Inc()
	}
}

func CountSyncFailure() {
	if SyncFailures != nil {
		SyncFailures.Inc()
	}
}

func CountNotificationDropped() {
	if NotificationsDropped != nil {
		NotificationsDropped.Inc()
	}
}

func CountRateLimited() {
	if RateLimited != nil {
		RateLimited.Inc()
	}
}

// AddBufferBacklog adjusts the global backlog gauge by delta.
func AddBufferBacklog(delta int) {
	if BufferBacklog != nil {
		BufferBacklog.Add(float64(delta))
	}
}

// TrackChannelStatus moves a channel between status gauges. Empty prev means
// the channel was just created.
func TrackChannelStatus(prev, next string) {
	adjust := func(status string, delta float64) {
		switch status {
		case "syncing":
			if ChannelsSyncing != nil {
				ChannelsSyncing.Add(delta)
			}
		case "synced":
			if ChannelsSynced != nil {
				ChannelsSynced.Add(delta)
			}
		case "failed":
			if ChannelsFailed != nil {
				ChannelsFailed.Add(delta)
			}
		}
	}
	if prev != "" {
		adjust(prev, -1)
	}
	adjust(next, 1)
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// ObserveFlush records one flush cycle's duration and batch size.
func ObserveFlush(d time.Duration, batch int) {
	if FlushDuration != nil {
		FlushDuration.Observe(d.Seconds())
	}
	if FlushBatchSize != nil {
		FlushBatchSize.Observe(float64(batch))
	}
}

// ObserveBackfill records an initialization backfill duration.
func ObserveBackfill(d time.Duration) {
	if BackfillDuration != nil {
		BackfillDuration.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
