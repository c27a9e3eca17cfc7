package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func writeMetric(t *testing.T, m prometheus.Metric) *dto.Metric {
	t.Helper()
	out := &dto.Metric{}
	if err := m.Write(out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	return writeMetric(t, c).GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	return writeMetric(t, g).GetGauge().GetValue()
}

func histogramCount(t *testing.T, obs prometheus.Observer) uint64 {
	t.Helper()
	h, ok := obs.(prometheus.Histogram)
	if !ok {
		t.Fatalf("observer is %T, want prometheus.Histogram", obs)
	}
	return writeMetric(t, h).GetHistogram().GetSampleCount()
}

func TestInitRegistersMetrics(t *testing.T) {
	Init()
	// Idempotent: a second call must not re-register (promauto panics on
	// duplicates).
	Init()

	if EventsIngested == nil {
		t.Error("EventsIngested counter not initialized")
	}
	if RecordsPersisted == nil {
		t.Error("RecordsPersisted counter not initialized")
	}
	if FlushDuration == nil {
		t.Error("FlushDuration histogram not initialized")
	}
	if BufferBacklog == nil {
		t.Error("BufferBacklog gauge not initialized")
	}
	if ChannelsFailed == nil {
		t.Error("ChannelsFailed gauge not initialized")
	}
}

func TestCounterHelpersIncrement(t *testing.T) {
	Init()

	tests := []struct {
		name    string
		counter func() prometheus.Counter
		inc     func()
		want    float64
	}{
		{"ingested", func() prometheus.Counter { return EventsIngested }, CountEventIngested, 1},
		{"rejected", func() prometheus.Counter { return EventsRejected }, CountEventRejected, 1},
		{"discarded", func() prometheus.Counter { return EventsDiscarded }, CountEventDiscarded, 1},
		{"backfill page", func() prometheus.Counter { return BackfillPages }, CountBackfillPage, 1},
		{"sync failure", func() prometheus.Counter { return SyncFailures }, CountSyncFailure, 1},
		{"rate limited", func() prometheus.Counter { return RateLimited }, CountRateLimited, 1},
		{"persisted batch", func() prometheus.Counter { return RecordsPersisted }, func() { CountPersisted(4) }, 4},
		{"expired batch", func() prometheus.Counter { return RecordsExpired }, func() { CountExpired(2) }, 2},
		{"pruned batch", func() prometheus.Counter { return RecordsPruned }, func() { CountPruned(7) }, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := counterValue(t, tt.counter())
			tt.inc()
			if got := counterValue(t, tt.counter()); got != before+tt.want {
				t.Errorf("counter = %v, want %v", got, before+tt.want)
			}
		})
	}
}

func TestBatchCountersIgnoreNonPositive(t *testing.T) {
	Init()

	before := counterValue(t, RecordsPersisted)
	CountPersisted(0)
	CountPersisted(-3)
	if got := counterValue(t, RecordsPersisted); got != before {
		t.Errorf("RecordsPersisted = %v, want unchanged %v", got, before)
	}

	beforePruned := counterValue(t, RecordsPruned)
	CountPruned(0)
	if got := counterValue(t, RecordsPruned); got != beforePruned {
		t.Errorf("RecordsPruned = %v, want unchanged %v", got, beforePruned)
	}
}

func TestHelpersNilSafe(t *testing.T) {
	// Before Init the globals are nil; the helpers must be callable anyway
	// because the sync core counts events in unit tests that never register
	// metrics. Simulate by clearing one of each kind.
	savedCounter, savedGauge, savedHist := EventsIngested, BufferBacklog, FlushDuration
	EventsIngested, BufferBacklog, FlushDuration = nil, nil, nil
	defer func() {
		EventsIngested, BufferBacklog, FlushDuration = savedCounter, savedGauge, savedHist
	}()

	CountEventIngested()
	AddBufferBacklog(3)
	ObserveFlush(time.Second, 10)
	TrackChannelStatus("", "syncing")
}

func TestAddBufferBacklog(t *testing.T) {
	Init()

	before := gaugeValue(t, BufferBacklog)
	AddBufferBacklog(5)
	if got := gaugeValue(t, BufferBacklog); got != before+5 {
		t.Errorf("backlog after +5 = %v, want %v", got, before+5)
	}
	AddBufferBacklog(-5)
	if got := gaugeValue(t, BufferBacklog); got != before {
		t.Errorf("backlog after -5 = %v, want %v", got, before)
	}
}

func TestTrackChannelStatus(t *testing.T) {
	Init()

	syncingBefore := gaugeValue(t, ChannelsSyncing)
	syncedBefore := gaugeValue(t, ChannelsSynced)
	failedBefore := gaugeValue(t, ChannelsFailed)

	// A channel's life: created syncing, then synced, then failed.
	TrackChannelStatus("", "syncing")
	if got := gaugeValue(t, ChannelsSyncing); got != syncingBefore+1 {
		t.Errorf("syncing after create = %v, want %v", got, syncingBefore+1)
	}

	TrackChannelStatus("syncing", "synced")
	if got := gaugeValue(t, ChannelsSyncing); got != syncingBefore {
		t.Errorf("syncing after transition = %v, want %v", got, syncingBefore)
	}
	if got := gaugeValue(t, ChannelsSynced); got != syncedBefore+1 {
		t.Errorf("synced = %v, want %v", got, syncedBefore+1)
	}

	TrackChannelStatus("synced", "failed")
	if got := gaugeValue(t, ChannelsSynced); got != syncedBefore {
		t.Errorf("synced after failure = %v, want %v", got, syncedBefore)
	}
	if got := gaugeValue(t, ChannelsFailed); got != failedBefore+1 {
		t.Errorf("failed = %v, want %v", got, failedBefore+1)
	}

	// Unknown statuses are ignored rather than panicking.
	TrackChannelStatus("failed", "unknown")
	if got := gaugeValue(t, ChannelsFailed); got != failedBefore {
		t.Errorf("failed after leaving = %v, want %v", got, failedBefore)
	}
}

func TestObserveFlush(t *testing.T) {
	Init()

	durBefore := histogramCount(t, FlushDuration)
	batchBefore := histogramCount(t, FlushBatchSize)

	ObserveFlush(50*time.Millisecond, 3)

	if got := histogramCount(t, FlushDuration); got != durBefore+1 {
		t.Errorf("FlushDuration samples = %d, want %d", got, durBefore+1)
	}
	if got := histogramCount(t, FlushBatchSize); got != batchBefore+1 {
		t.Errorf("FlushBatchSize samples = %d, want %d", got, batchBefore+1)
	}
}

func TestObserveBackfill(t *testing.T) {
	Init()

	before := histogramCount(t, BackfillDuration)
	ObserveBackfill(2 * time.Second)
	if got := histogramCount(t, BackfillDuration); got != before+1 {
		t.Errorf("BackfillDuration samples = %d, want %d", got, before+1)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	// An unregistered histogram is enough; Observe and Write work without
	// a registry.
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}
	if got := histogramCount(t, testHistogram); got != 1 {
		t.Errorf("histogram samples = %d, want 1", got)
	}

	// Nil observer still measures.
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Errorf("TimeFunc with nil observer = %v, want >= 0", d)
	}
}
