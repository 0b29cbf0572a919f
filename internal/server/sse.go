package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/contestfeed/internal/feed"
)

// wantsSSE reports whether the client asked for a server-sent event stream
// instead of NDJSON.
func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// lineWriter writes to a streaming response with a deadline per write and
// flushes after each one.
type lineWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func newLineWriter(w http.ResponseWriter, timeout time.Duration) *lineWriter {
	return &lineWriter{w: w, rc: http.NewResponseController(w), timeout: timeout}
}

func (lw *lineWriter) write(b []byte) error {
	if lw.timeout > 0 {
		// Not every writer supports deadlines (httptest.ResponseRecorder).
		_ = lw.rc.SetWriteDeadline(time.Now().Add(lw.timeout))
	}
	if _, err := lw.w.Write(b); err != nil {
		return err
	}
	return lw.rc.Flush()
}

// ndjsonSink writes one JSON record per line; a keepalive is an empty line.
type ndjsonSink struct {
	*lineWriter
}

func (s ndjsonSink) Send(r feed.Record) error {
	line, err := r.MarshalLine()
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	return s.write(line)
}

func (s ndjsonSink) Keepalive() error {
	return s.write([]byte("\n"))
}

// sseSink writes records as server-sent events. The event id is the feed
// event id, so a reconnecting EventSource resumes via Last-Event-ID.
type sseSink struct {
	*lineWriter
}

func (s sseSink) Send(r feed.Record) error {
	line, err := r.MarshalLine()
	if err != nil {
		return fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "id:%s\n", r.ID)
	fmt.Fprintf(&buf, "event:%s\n", r.Type)
	fmt.Fprintf(&buf, "data:%s\n\n", bytes.TrimSuffix(line, []byte("\n")))
	return s.write(buf.Bytes())
}

func (s sseSink) Keepalive() error {
	return s.write([]byte(":keepalive\n\n"))
}

// setStreamHeaders prepares a streaming response of the given content type.
func setStreamHeaders(w http.ResponseWriter, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
}
