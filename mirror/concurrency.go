package mirror

import (
	"context"
	"os"
	"strconv"
	"sync"
)

// defaultHistoryConcurrency caps how many history fetches run at once across
// all channels when HISTORY_FETCH_CONCURRENCY is unset.
const defaultHistoryConcurrency = 4

var (
	historySlots     chan struct{}
	historySlotsOnce sync.Once
)

func historyConcurrency() int {
	raw := os.Getenv("HISTORY_FETCH_CONCURRENCY")
	if raw == "" {
		return defaultHistoryConcurrency
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultHistoryConcurrency
	}
	return n
}

// acquireHistorySlot blocks until a history fetch slot is free or ctx is
// done. Callers must release the slot with releaseHistorySlot.
func acquireHistorySlot(ctx context.Context) error {
	historySlotsOnce.Do(func() {
		historySlots = make(chan struct{}, historyConcurrency())
	})
	select {
	case historySlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func releaseHistorySlot() {
	<-historySlots
}
