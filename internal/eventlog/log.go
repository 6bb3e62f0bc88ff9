package eventlog

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"listing_feed/internal/domain"
)

// CursorNow starts a tailer at the end of the log.
const CursorNow = "$"

// CursorStart is the ID before any entry.
const CursorStart = "0-0"

// ErrNoEntries is returned by Log.Read when the block timeout elapsed
// without new entries.
var ErrNoEntries = errors.New("no new entries")

// Log is read-only access to the event log plus the producer-side append.
type Log interface {
	// Read returns up to count entries with IDs greater than after,
	// blocking up to block for the first one.
	Read(ctx context.Context, after string, count int64, block time.Duration) ([]domain.LogEntry, error)
	// LastID returns the ID of the newest entry, or CursorStart if the log is empty.
	LastID(ctx context.Context) (string, error)
	Append(ctx context.Context, values map[string]any) (string, error)
}

var idPattern = regexp.MustCompile(`^\d+(-\d+)?$`)

// ParseCursor validates a client supplied resumption ID. Empty and "$"
// mean "now"; anything that is not a stream ID is rejected.
func ParseCursor(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == CursorNow {
		return CursorNow, true
	}
	if !idPattern.MatchString(s) {
		return "", false
	}
	// both parts must fit in 64 bits or the server rejects the read
	ms, seq, _ := strings.Cut(s, "-")
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return "", false
	}
	if seq != "" {
		if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
			return "", false
		}
	}
	return s, true
}

// CompareIDs orders two stream IDs. Malformed parts compare as zero.
func CompareIDs(a, b string) int {
	am, as := splitID(a)
	bm, bs := splitID(b)
	switch {
	case am < bm:
		return -1
	case am > bm:
		return 1
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

func splitID(id string) (uint64, uint64) {
	ms, seq, _ := strings.Cut(id, "-")
	m, _ := strconv.ParseUint(ms, 10, 64)
	s, _ := strconv.ParseUint(seq, 10, 64)
	return m, s
}
