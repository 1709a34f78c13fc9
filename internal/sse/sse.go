// Package sse implements the text/event-stream framing used by the live replication stream.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// MaxFrameSize bounds a single data frame on the reading side.
const MaxFrameSize = 4 << 20

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Writer writes SSE frames and flushes after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares w for streaming: sets the event-stream headers and status 200.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &Writer{w: w, flusher: flusher}, nil
}

// Comment writes a comment frame (": text"), used for the greeting and heartbeats.
func (s *Writer) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("failed to write comment: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// JSON writes v as a single data frame.
func (s *Writer) JSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return s.Data(payload)
}

// Data writes payload as a data frame. Multi-line payloads are split over several data lines.
func (s *Writer) Data(payload []byte) error {
	var buf bytes.Buffer
	for _, line := range bytes.Split(payload, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Reader splits an event stream into data payloads, skipping comments and
// fields other than data.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	return &Reader{scanner: sc}
}

// Next returns the payload of the next data frame. It returns io.EOF when the
// stream ends cleanly between frames and io.ErrUnexpectedEOF when it ends mid-frame.
func (r *Reader) Next() ([]byte, error) {
	var data [][]byte
	pending := false

	for r.scanner.Scan() {
		line := r.scanner.Bytes()

		if len(line) == 0 {
			if len(data) > 0 {
				return bytes.Join(data, []byte("\n")), nil
			}
			pending = false
			continue
		}
		pending = true

		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		if string(field) != "data" {
			continue
		}
		value = bytes.TrimPrefix(value, []byte(" "))
		data = append(data, bytes.Clone(value))
	}

	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	if pending || len(data) > 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return nil, io.EOF
}
