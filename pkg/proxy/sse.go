package proxy

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// sseEvent is one server-sent event. Data holds the joined payload of all
// data lines; Event and ID are passed through untouched.
type sseEvent struct {
	Event string
	ID    string
	Data  string
}

// sseReader yields complete events from an upstream SSE stream. Comment
// lines and unknown fields are dropped, multi-line data is joined with
// newlines per the SSE spec.
type sseReader struct {
	scanner *bufio.Scanner
	err     error
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: scanner}
}

// Next returns the next event, or io.EOF when the stream ends. A stream
// that ends mid-event still yields the partial event before EOF.
func (r *sseReader) Next() (*sseEvent, error) {
	if r.err != nil {
		return nil, r.err
	}

	var (
		event     sseEvent
		dataLines []string
		sawField  bool
	)

	flush := func() *sseEvent {
		if !sawField {
			return nil
		}
		event.Data = strings.Join(dataLines, "\n")
		return &event
	}

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if ev := flush(); ev != nil {
				return ev, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, trimFieldValue(line[5:]))
			sawField = true
		case strings.HasPrefix(line, "event:"):
			event.Event = trimFieldValue(line[6:])
			sawField = true
		case strings.HasPrefix(line, "id:"):
			event.ID = trimFieldValue(line[3:])
			sawField = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		r.err = err
	} else {
		r.err = io.EOF
	}
	if ev := flush(); ev != nil {
		return ev, nil
	}
	return nil, r.err
}

// trimFieldValue removes the single optional space after the field colon.
func trimFieldValue(v string) string {
	if len(v) > 0 && v[0] == ' ' {
		return v[1:]
	}
	return v
}

// encodeSSEEvent serializes an event including its terminating blank line.
func encodeSSEEvent(ev *sseEvent) []byte {
	var buf bytes.Buffer
	if ev.Event != "" {
		buf.WriteString("event: ")
		buf.WriteString(ev.Event)
		buf.WriteByte('\n')
	}
	if ev.ID != "" {
		buf.WriteString("id: ")
		buf.WriteString(ev.ID)
		buf.WriteByte('\n')
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
