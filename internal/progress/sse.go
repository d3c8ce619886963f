package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/kausalhq/kausal/internal/logging"
)

// SSEHub broadcasts progress updates to web clients over server-sent
// events. Each job has its own set of subscribers; slow subscribers are
// dropped rather than allowed to block delivery.
type SSEHub struct {
	logger *logging.Logger

	mu   sync.RWMutex
	subs map[string]map[chan Update]struct{} // jobID -> subscribers
}

// NewSSEHub creates an empty hub.
func NewSSEHub(logger *logging.Logger) *SSEHub {
	if logger == nil {
		logger = logging.GetLogger("progress.sse")
	}
	return &SSEHub{
		logger: logger,
		subs:   make(map[string]map[chan Update]struct{}),
	}
}

// Report implements Reporter by broadcasting to all subscribers of the
// update's job. A full subscriber buffer drops the update for that
// subscriber only.
func (h *SSEHub) Report(_ context.Context, u Update) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[u.JobID] {
		select {
		case ch <- u:
		default:
			h.logger.Debug("dropping progress update for slow subscriber: job=%s stage=%s", u.JobID, u.Stage)
		}
	}
	return nil
}

// Subscribe registers a new subscriber for jobID. The returned cancel
// function must be called when the subscriber goes away.
func (h *SSEHub) Subscribe(jobID string) (<-chan Update, func()) {
	ch := make(chan Update, 16)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Update]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[jobID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// ServeHTTP streams updates for the job named in the "job_id" query
// parameter as server-sent events until the client disconnects or the
// job's terminal update arrives.
func (h *SSEHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "missing job_id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates, cancel := h.Subscribe(jobID)
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case u := <-updates:
			payload, err := json.Marshal(u)
			if err != nil {
				h.logger.ErrorWithErr("marshal progress update", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if u.Done {
				return
			}
		}
	}
}
