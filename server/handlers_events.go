package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// eventsHeartbeat is how often an idle stream emits a comment line so
// proxies keep the connection open.
const eventsHeartbeat = 15 * time.Second

// HandleEvents streams sync lifecycle notifications as server-sent events:
// channel readiness, persisted batches, edits, deletions, and sync failures.
// Delivery is best-effort; a consumer that cannot keep up loses events
// rather than slowing the sync path.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The stream outlives the server's write timeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	// Subscribe before the headers go out: once a client sees the response
	// start, events published afterwards are guaranteed to reach it.
	events, cancel := h.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(eventsHeartbeat)
	defer heartbeat.Stop()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if _, err := fmt.Fprint(w, "data: "); err != nil {
				return
			}
			// Encode appends the newline that terminates the data line.
			if err := enc.Encode(ev); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
