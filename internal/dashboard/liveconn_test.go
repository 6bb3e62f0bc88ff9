package dashboard

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream hands out one pipe per dial.
type fakeStream struct {
	mu      sync.Mutex
	writers []*io.PipeWriter
	dials   chan *io.PipeWriter
	failN   int
}

func newFakeStream() *fakeStream {
	return &fakeStream{dials: make(chan *io.PipeWriter, 16)}
}

func (f *fakeStream) dial(ctx context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return nil, errors.New("connection refused")
	}
	r, w := io.Pipe()
	f.writers = append(f.writers, w)
	f.dials <- w
	return r, nil
}

func (f *fakeStream) next(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case w := <-f.dials:
		return w
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
		return nil
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
}

func (s *stateLog) record(st ConnState, _ error) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *stateLog) get() []ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnState(nil), s.states...)
}

func newTestConn(dial Dialer) *LiveConn {
	c := NewLiveConn(dial, LiveConnConfig{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, testLogger())
	return c
}

func TestLiveConn_DeliversEventsInOrder(t *testing.T) {
	stream := newFakeStream()
	conn := newTestConn(stream.dial)

	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx, func(e Event) { events <- e }) }()

	w := stream.next(t)
	_, err := io.WriteString(w, ": connected\n\nid: 1-0\ndata: {\"n\":1}\n\n: keepalive\n\nid: 2-0\ndata: {\"n\":2}\n\n")
	require.NoError(t, err)

	for _, want := range []string{"1-0", "2-0"} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.ID)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}

	state, _ := conn.State()
	assert.Equal(t, ConnOpen, state)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	state, _ = conn.State()
	assert.Equal(t, ConnClosed, state)
}

func TestLiveConn_ReconnectsAfterDrop(t *testing.T) {
	stream := newFakeStream()
	conn := newTestConn(stream.dial)
	states := &stateLog{}
	conn.OnStateChange(states.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Run(ctx, func(Event) {}) }()

	first := stream.next(t)
	first.CloseWithError(errors.New("connection reset"))

	second := stream.next(t)
	assert.NotSame(t, first, second)

	assert.Eventually(t, func() bool {
		st, _ := conn.State()
		return st == ConnOpen
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []ConnState{ConnConnecting, ConnOpen, ConnBackingOff, ConnConnecting, ConnOpen}, states.get())
}

func TestLiveConn_BacksOffWhenDialFails(t *testing.T) {
	stream := newFakeStream()
	stream.failN = 2
	conn := newTestConn(stream.dial)

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	conn.wait = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = conn.Run(ctx, func(Event) {}) }()

	stream.next(t)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, 5*time.Millisecond+5*time.Millisecond/2)
	}
}

func TestLiveConn_CancelDuringBackoff(t *testing.T) {
	conn := newTestConn(func(context.Context) (io.ReadCloser, error) {
		return nil, errors.New("down")
	})
	conn.wait = func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx, func(Event) {}) }()

	assert.Eventually(t, func() bool {
		st, _ := conn.State()
		return st == ConnBackingOff
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
