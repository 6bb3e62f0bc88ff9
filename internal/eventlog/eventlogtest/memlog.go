// Package eventlogtest provides an in-memory eventlog.Log for tests.
package eventlogtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"listing_feed/internal/domain"
	"listing_feed/internal/eventlog"
)

// MemoryLog is an append-only log with blocking reads. IDs are "<n>-0"
// with n starting at 1.
type MemoryLog struct {
	mu       sync.Mutex
	entries  []domain.LogEntry
	seq      uint64
	notify   chan struct{}
	failures []error
	reads    int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{notify: make(chan struct{})}
}

// FailNext makes the next len(errs) reads return the given errors in order.
func (m *MemoryLog) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Reads returns how many Read calls were made.
func (m *MemoryLog) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *MemoryLog) Read(ctx context.Context, after string, count int64, block time.Duration) ([]domain.LogEntry, error) {
	m.mu.Lock()
	m.reads++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()

	timer := time.NewTimer(block)
	defer timer.Stop()

	for {
		m.mu.Lock()
		out := m.after(after, count)
		wait := m.notify
		m.mu.Unlock()

		if len(out) > 0 {
			return out, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, eventlog.ErrNoEntries
		case <-wait:
		}
	}
}

func (m *MemoryLog) after(after string, count int64) []domain.LogEntry {
	var out []domain.LogEntry
	for _, e := range m.entries {
		if eventlog.CompareIDs(e.ID, after) <= 0 {
			continue
		}
		out = append(out, e)
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out
}

func (m *MemoryLog) LastID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return eventlog.CursorStart, nil
	}
	return m.entries[len(m.entries)-1].ID, nil
}

// Append JSON encodes non-string values, like the Redis implementation.
func (m *MemoryLog) Append(ctx context.Context, values map[string]any) (string, error) {
	raw := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			raw[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		raw[k] = string(b)
	}
	return m.AppendRaw(raw), nil
}

// AppendRaw stores values exactly as given, so malformed JSON can be injected.
func (m *MemoryLog) AppendRaw(values map[string]string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := fmt.Sprintf("%d-0", m.seq)
	fields := make(map[string]domain.Field, len(values))
	for k, v := range values {
		fields[k] = domain.DecodeField(v)
	}
	m.entries = append(m.entries, domain.LogEntry{ID: id, Fields: fields})

	close(m.notify)
	m.notify = make(chan struct{})
	return id
}
