package httpapi

import (
	"bufio"
	"errors"
	"net/http"

	"supporthub/internal/sse"
)

// handleEventStream is the long-lived SSE endpoint. It admits the verified
// identity into the registry and then does nothing but drain the
// connection's frame channel onto the wire; routing, heartbeats, and
// eviction all happen behind the channel.
func (s server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "User context required for SSE connection"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	conn, err := s.admitter.Admit(identity)
	if errors.Is(err, sse.ErrMissingIdentity) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "User context required for SSE connection"})
		return
	}
	if errors.Is(err, sse.ErrTooManyStreams) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many concurrent streams"})
		return
	}
	if err != nil {
		logError(r.Context(), "sse admission failed", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "admission failed"})
		return
	}
	defer s.admitter.Dismiss(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	bw := bufio.NewWriterSize(w, 16*1024)

	for {
		select {
		case <-ctx.Done():
			// Client closed or server shutting down.
			return
		case <-conn.Done():
			// Dismissed elsewhere (reaper eviction, delivery failure).
			return
		case f := <-conn.Frames():
			if err := writeFrame(bw, f); err != nil {
				logError(ctx, "sse write failed", err)
				return
			}
			if err := bw.Flush(); err != nil {
				logError(ctx, "sse flush failed", err)
				return
			}
			flusher.Flush()
			conn.Touch()
		}
	}
}

// writeFrame serializes one frame; the zero frame is the keep-alive comment.
func writeFrame(w *bufio.Writer, f sse.Frame) error {
	if f.KeepAlive() {
		_, err := w.WriteString(": keepalive\n\n")
		return err
	}
	if _, err := w.WriteString("event: " + f.Event + "\n"); err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}
	_, err := w.WriteString("\n\n")
	return err
}

// handleStreamStats serves the registry snapshot for operational monitoring.
func (s server) handleStreamStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Stats())
}
