// Package push writes live snapshots to viewers as server-sent events.
// One stream per (entity, viewer); no replay across reconnects, a fresh
// stream always starts from the current snapshot.
package push

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/valyala/bytebufferpool"

	"chatspace/pkg/telemetry"
)

// Wants reports whether the request asked for a live stream instead of a
// one-shot snapshot.
func Wants(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// Stream is one open event-stream connection.
type Stream struct {
	w    http.ResponseWriter
	fl   http.Flusher
	kind string
}

// NewStream prepares w as an SSE response and flushes the headers. kind
// labels the frame counter ("chat" or "workspace").
func NewStream(w http.ResponseWriter, kind string) (*Stream, error) {
	fl, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fl.Flush()
	return &Stream{w: w, fl: fl, kind: kind}, nil
}

// Send writes one frame carrying v as JSON. A write error means the
// viewer is gone; the caller must tear the subscription down.
func (s *Stream) Send(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString("data: ")
	_, _ = buf.Write(payload)
	_, _ = buf.WriteString("\n\n")
	if _, err := s.w.Write(buf.B); err != nil {
		return err
	}
	s.fl.Flush()
	telemetry.FramesTotal.WithLabelValues(s.kind).Inc()
	return nil
}
