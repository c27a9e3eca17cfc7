package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/beltheas/scrollback/mirror"
)

// HandleHealthz reports liveness: the process is up and the store answers a
// ping. Readiness is the stronger signal; this one drives restart decisions.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.st.Ping(ctx); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports readiness to serve traffic. The store must be
// reachable and the sync engine must be doing useful work: a deployment
// whose every channel sits in the terminal failed state only serves stale
// reads and should be rotated out.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"store", h.checkStore},
		{"sync", h.checkSync},
	}

	for _, check := range checks {
		if err := check.fn(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (h *Handlers) checkStore(ctx context.Context) error {
	return h.st.Ping(ctx)
}

// checkSync fails only when every known channel has failed. No channels at
// all is fine: the deployment may simply be idle.
func (h *Handlers) checkSync(context.Context) error {
	states := h.reg.Snapshot()
	if len(states) == 0 {
		return nil
	}
	failed := 0
	for _, s := range states {
		if s.Status == mirror.StatusFailed {
			failed++
		}
	}
	if failed == len(states) {
		return fmt.Errorf("all %d channels failed", failed)
	}
	return nil
}
