package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/history"
)

// heartbeatInterval is how often an idle stream gets a comment line.
const heartbeatInterval = 20 * time.Second

// handleStream handles GET /api/v1/stream (SSE). Each history change is
// sent with its type as the event name. Reconnecting clients re-query the
// history; nothing is replayed.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case ch, ok := <-sub.Changes():
			if !ok {
				return
			}
			if err := writeSSEChange(w, ch); err != nil {
				s.logger.Debug("stream write failed", "error", err)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()

		case <-ctx.Done():
			return

		case <-sub.Done():
			return
		}
	}
}

// writeSSEChange writes one change as an SSE event.
func writeSSEChange(w io.Writer, ch *history.Change) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ch.Type, data)
	return err
}
