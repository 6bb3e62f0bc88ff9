package broadcast

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"

	"listing_feed/internal/eventlog"
)

const (
	commentConnected = "connected"
	commentKeepalive = "keepalive"
)

var (
	metrics         = expvar.NewMap("broadcast")
	activeSessions  = new(expvar.Int)
	sessionsTotal   = new(expvar.Int)
	eventsSent      = new(expvar.Int)
	keepalivesSent  = new(expvar.Int)
	permanentErrors = new(expvar.Int)
)

func init() {
	metrics.Set("active_sessions", activeSessions)
	metrics.Set("sessions_total", sessionsTotal)
	metrics.Set("events_sent", eventsSent)
	metrics.Set("keepalives_sent", keepalivesSent)
	metrics.Set("permanent_errors", permanentErrors)
}

// Session bridges one client connection to one Tailer. Frames are written
// in log order; the session never reorders or merges entries.
type Session struct {
	tailer *eventlog.Tailer
	logger *slog.Logger
}

func NewSession(tailer *eventlog.Tailer, logger *slog.Logger) *Session {
	return &Session{tailer: tailer, logger: logger}
}

// Serve writes frames to sink until ctx is cancelled, a write fails or the
// tailer reports a permanent error. A cancelled context is a normal
// disconnect and returns nil.
func (s *Session) Serve(ctx context.Context, sink Sink) error {
	if err := s.comment(sink, commentConnected); err != nil {
		return err
	}

	for {
		batch, err := s.tailer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tail log: %w", err)
		}

		if batch.Timeout {
			if err := s.comment(sink, commentKeepalive); err != nil {
				return err
			}
			keepalivesSent.Add(1)
			continue
		}

		for _, entry := range batch.Entries {
			data, err := entry.FlatEvent()
			if err != nil {
				s.logger.Warn("skipping unencodable entry", "id", entry.ID, "error", err)
				continue
			}
			if err := sink.Event(entry.ID, data); err != nil {
				return err
			}
			eventsSent.Add(1)
		}
		if err := sink.Flush(); err != nil {
			return err
		}

		s.logger.Debug("sent batch", "count", len(batch.Entries), "cursor", batch.Cursor)
	}
}

func (s *Session) comment(sink Sink, text string) error {
	if err := sink.Comment(text); err != nil {
		return err
	}
	return sink.Flush()
}

// Broadcaster opens one Session per incoming connection. Sessions share
// nothing but the read-only log.
type Broadcaster struct {
	log    eventlog.Log
	cfg    eventlog.TailerConfig
	logger *slog.Logger
}

func NewBroadcaster(log eventlog.Log, cfg eventlog.TailerConfig, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{log: log, cfg: cfg, logger: logger}
}

// Serve runs a session for one connection. lastEventID is the client's
// resumption marker; when it is empty or invalid the session starts at
// the end of the log.
func (b *Broadcaster) Serve(ctx context.Context, sink Sink, lastEventID string, logger *slog.Logger) error {
	if logger == nil {
		logger = b.logger
	}

	cfg := b.cfg
	start, ok := eventlog.ParseCursor(lastEventID)
	if !ok {
		logger.Warn("ignoring invalid Last-Event-ID", "last_event_id", lastEventID)
		start = eventlog.CursorNow
	}
	cfg.Start = start

	activeSessions.Add(1)
	sessionsTotal.Add(1)
	defer activeSessions.Add(-1)

	logger.Info("stream session opened", "start", start)
	err := NewSession(eventlog.NewTailer(b.log, cfg, logger), logger).Serve(ctx, sink)

	var pe *eventlog.PermanentError
	if errors.As(err, &pe) {
		permanentErrors.Add(1)
	}
	if err != nil {
		logger.Error("stream session closed", "error", err)
		return err
	}
	logger.Info("stream session closed")
	return nil
}

// ActiveSessions reports the number of open sessions in this process.
func ActiveSessions() int64 {
	return activeSessions.Value()
}
