package streaming

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// SSEWriter serializes events onto an HTTP response as server-sent events
// ("data: <json>\n\n" records). It flushes after every event so the single
// client sees tokens as they arrive.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter wraps w. When w implements http.Flusher each write is flushed
// immediately.
func NewSSEWriter(w io.Writer) *SSEWriter {
	sw := &SSEWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// Send writes one event. A write error means the client disconnected; the
// caller should stop the request and tear down producers.
func (s *SSEWriter) Send(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("streaming: marshal event %s: %w", e.Type, err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
