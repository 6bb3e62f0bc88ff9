package broadcast

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sink receives push-protocol frames for one connection.
type Sink interface {
	Comment(text string) error
	Event(id string, data []byte) error
	Flush() error
}

var ErrStreamingUnsupported = errors.New("response writer does not support flushing")

// SSEWriter formats Server-Sent Events onto an HTTP response.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	buf     bytes.Buffer
}

// NewSSEWriter fails when the writer cannot flush, since frames would sit
// in a buffer until the connection closed.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &SSEWriter{w: w, flusher: f}, nil
}

// SetHeaders disables proxy buffering and caching for the stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func (s *SSEWriter) Comment(text string) error {
	s.buf.Reset()
	s.buf.WriteString(": ")
	s.buf.WriteString(strings.ReplaceAll(text, "\n", " "))
	s.buf.WriteString("\n\n")
	return s.write()
}

// Event writes one data frame. data must be a single line.
func (s *SSEWriter) Event(id string, data []byte) error {
	if bytes.ContainsAny(data, "\r\n") {
		return fmt.Errorf("event %s: data contains a line break", id)
	}
	s.buf.Reset()
	if id != "" {
		s.buf.WriteString("id: ")
		s.buf.WriteString(id)
		s.buf.WriteByte('\n')
	}
	s.buf.WriteString("data: ")
	s.buf.Write(data)
	s.buf.WriteString("\n\n")
	return s.write()
}

func (s *SSEWriter) Flush() error {
	s.flusher.Flush()
	return nil
}

func (s *SSEWriter) write() error {
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
