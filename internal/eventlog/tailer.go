package eventlog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"listing_feed/internal/domain"
)

type TailerConfig struct {
	Start          string // CursorNow, or an entry ID to resume after
	Count          int64
	Block          time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Batch is the result of one Next call. Timeout is set when the block
// window elapsed with nothing new.
type Batch struct {
	Entries []domain.LogEntry
	Cursor  string
	Timeout bool
}

// Tailer is a pull iterator over the log. It is owned by a single
// goroutine and issues at most one read at a time.
type Tailer struct {
	log    Log
	cfg    TailerConfig
	cursor string
	err    error
	logger *slog.Logger
}

func NewTailer(log Log, cfg TailerConfig, logger *slog.Logger) *Tailer {
	if cfg.Start == "" {
		cfg.Start = CursorNow
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Tailer{
		log:    log,
		cfg:    cfg,
		cursor: cfg.Start,
		logger: logger,
	}
}

// Cursor returns the ID of the last entry handed out, or CursorNow if
// the start position has not been resolved yet.
func (t *Tailer) Cursor() string {
	return t.cursor
}

// Next blocks for about one read window and returns the next batch.
// Transient errors are retried for up to one window before Next gives up
// with a timeout batch. Once a permanent error or cancellation is returned
// the tailer is finished and keeps returning that error.
func (t *Tailer) Next(ctx context.Context) (Batch, error) {
	if t.err != nil {
		return Batch{}, t.err
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, t.fail(err)
	}

	// "$" is resolved to a concrete ID once, otherwise anything appended
	// between two reads would be skipped.
	if t.cursor == CursorNow {
		last, err := retry(ctx, t, "resolve cursor", func() (string, error) {
			return t.log.LastID(ctx)
		})
		if err != nil {
			return t.idle(ctx, err)
		}
		t.cursor = last
		t.logger.Debug("resolved start cursor", "cursor", last)
	}

	entries, err := retry(ctx, t, "read", func() ([]domain.LogEntry, error) {
		entries, err := t.log.Read(ctx, t.cursor, t.cfg.Count, t.cfg.Block)
		if errors.Is(err, ErrNoEntries) {
			return nil, nil
		}
		return entries, err
	})
	if err != nil {
		return t.idle(ctx, err)
	}

	if len(entries) == 0 {
		return Batch{Cursor: t.cursor, Timeout: true}, nil
	}

	t.cursor = entries[len(entries)-1].ID
	return Batch{Entries: entries, Cursor: t.cursor}, nil
}

// idle turns a transient failure that outlasted one read window into a
// timeout batch, so the caller can keep its connection alive and call
// Next again. Permanent errors and cancellation finish the tailer.
func (t *Tailer) idle(ctx context.Context, err error) (Batch, error) {
	if ctx.Err() != nil || IsPermanent(err) {
		return Batch{}, t.fail(err)
	}
	t.logger.Warn("log still unavailable after read window", "cursor", t.cursor, "error", err)
	return Batch{Cursor: t.cursor, Timeout: true}, nil
}

func (t *Tailer) fail(err error) error {
	t.err = err
	return err
}

func (t *Tailer) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.InitialBackoff
	bo.MaxInterval = t.cfg.MaxBackoff
	bo.MaxElapsedTime = t.cfg.Block
	bo.Reset()
	return bo
}

func retry[T any](ctx context.Context, t *Tailer, what string, op func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return v, backoff.Permanent(ctxErr)
		}
		if IsPermanent(err) {
			return v, backoff.Permanent(&PermanentError{Err: err})
		}
		return v, err
	}, backoff.WithContext(t.newBackOff(), ctx), func(err error, wait time.Duration) {
		t.logger.Warn("log "+what+" failed, retrying",
			"cursor", t.cursor,
			"backoff", wait,
			"error", err,
		)
	})
}
