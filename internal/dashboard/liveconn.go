package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ConnState is the state of the live stream connection.
type ConnState int

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnBackingOff
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "live"
	case ConnBackingOff:
		return "reconnecting"
	case ConnClosed:
		return "closed"
	}
	return "unknown"
}

// Dialer opens the event stream.
type Dialer func(ctx context.Context) (io.ReadCloser, error)

type LiveConnConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var errStreamEnded = errors.New("stream ended")

// LiveConn keeps one stream connection open, reconnecting with exponential
// backoff after drops. Transitions:
//
//	Connecting -> Open | BackingOff
//	Open       -> BackingOff
//	BackingOff -> Connecting
//	any        -> Closed (context cancelled)
//
// Entries appended while disconnected are not replayed; every connection
// starts at the end of the log.
type LiveConn struct {
	dial   Dialer
	cfg    LiveConnConfig
	logger *slog.Logger

	// wait blocks for d or until ctx is done; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	state   ConnState
	lastErr error
	onState func(ConnState, error)
}

func NewLiveConn(dial Dialer, cfg LiveConnConfig, logger *slog.Logger) *LiveConn {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &LiveConn{
		dial:   dial,
		cfg:    cfg,
		logger: logger.With("component", "liveconn"),
		wait:   sleepContext,
		state:  ConnClosed,
	}
}

// OnStateChange registers fn to be called after every transition. It must
// be set before Run.
func (c *LiveConn) OnStateChange(fn func(ConnState, error)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *LiveConn) State() (ConnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Run delivers stream events to onEvent until ctx is cancelled. onEvent is
// called from the Run goroutine, one event at a time, in stream order.
func (c *LiveConn) Run(ctx context.Context, onEvent func(Event)) error {
	b := c.newBackOff()
	defer c.setState(ConnClosed, nil)

	for {
		c.setState(ConnConnecting, nil)

		err := c.session(ctx, b, onEvent)
		if ctx.Err() != nil {
			return nil
		}

		delay := b.NextBackOff()
		c.setState(ConnBackingOff, err)
		c.logger.Warn("stream connection lost", "error", err, "retry_in", delay)

		if err := c.wait(ctx, delay); err != nil {
			return nil
		}
	}
}

func (c *LiveConn) session(ctx context.Context, b backoff.BackOff, onEvent func(Event)) error {
	body, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-stop:
		}
	}()
	defer body.Close()

	c.setState(ConnOpen, nil)
	b.Reset()
	c.logger.Info("stream connected")

	frames := newFrameReader(body)
	for {
		ev, err := frames.Next()
		if errors.Is(err, io.EOF) {
			return errStreamEnded
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		onEvent(ev)
	}
}

func (c *LiveConn) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (c *LiveConn) setState(state ConnState, err error) {
	c.mu.Lock()
	if c.state == state && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.lastErr = err
	fn := c.onState
	c.mu.Unlock()

	if fn != nil {
		fn(state, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
