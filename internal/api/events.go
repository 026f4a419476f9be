package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"
)

// keepAlive is the comment interval that stops proxies closing idle streams.
var keepAlive = 25 * time.Second

type viewerCount struct {
	mu stdsync.Mutex
	n  int
}

// add applies d and reports the new count to notify under the same lock, so
// observers see counts in the order they happened.
func (v *viewerCount) add(d int, notify func(int)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.n += d
	notify(v.n)
}

func (v *viewerCount) get() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.n
}

// handleEvents streams "data-changed" server-sent events for as long as the
// client stays connected.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	events, cancel := s.deps.Cache.Subscribe()
	defer cancel()
	s.viewers.add(1, s.setViewers)
	defer s.viewers.add(-1, s.setViewers)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: data-changed\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) setViewers(n int) {
	if s.deps.Visibility != nil {
		s.deps.Visibility.SetVisible(n)
	}
}
