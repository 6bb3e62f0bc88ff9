package dashboard

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const maxFrameLine = 1024 * 1024

// frameReader splits an event stream into data frames. Comment lines
// (": keepalive") and unknown fields are skipped.
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	return &frameReader{scanner: sc}
}

// Next returns the next frame that carries data. It returns io.EOF when the
// stream ends cleanly.
func (f *frameReader) Next() (Event, error) {
	var (
		ev      Event
		data    bytes.Buffer
		hasData bool
	)
	for f.scanner.Scan() {
		line := f.scanner.Text()
		if line == "" {
			if hasData {
				ev.Data = append([]byte(nil), data.Bytes()...)
				return ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			ev.ID = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}
	}
	if err := f.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
