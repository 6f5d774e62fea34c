// internal/stream/sse.go
package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultKeepalive is the interval between inert comment frames on a
// downstream stream.
const DefaultKeepalive = 30 * time.Second

// Serve writes the subscriber's frames to w as a server-sent event stream
// until the client disconnects or a write fails. Keepalive comments are
// interleaved so conforming readers can detect a stalled stream; the ticker
// is stopped exactly once when Serve returns.
func Serve(w http.ResponseWriter, r *http.Request, m *Manager, sub *Subscriber, keepalive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("streaming not supported by response writer")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		m.Unsubscribe(sub)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()
	defer m.Unsubscribe(sub)

	for {
		select {
		case data := <-sub.Frames():
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				slog.Debug("subscriber write failed",
					"session_id", string(sub.Session), "subscriber_id", string(sub.ID))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				slog.Debug("subscriber keepalive failed",
					"session_id", string(sub.Session), "subscriber_id", string(sub.ID))
				return
			}
			flusher.Flush()
		case <-sub.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}
