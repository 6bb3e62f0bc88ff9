// Package api exposes the listing feed over HTTP: the live event stream,
// snapshot pages and pipeline status updates.
package api

import (
	"context"
	"expvar"
	"log/slog"
	"net/http"

	"listing_feed/internal/broadcast"
	"listing_feed/internal/domain"
)

const headerOrganization = "X-Organization-ID"

type Streamer interface {
	Serve(ctx context.Context, sink broadcast.Sink, lastEventID string, logger *slog.Logger) error
}

type Snapshots interface {
	Fresh(ctx context.Context, q domain.SnapshotQuery) (*domain.SnapshotPage, error)
	Available(ctx context.Context, q domain.SnapshotQuery) (*domain.SnapshotPage, error)
}

type Statuses interface {
	SetStatus(ctx context.Context, organizationID, listingID, status string) (*domain.StatusChange, error)
	History(ctx context.Context, organizationID, listingID string, limit int) ([]domain.StatusChange, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	stream              Streamer
	snapshots           Snapshots
	statuses            Statuses
	checks              map[string]HealthCheck
	defaultOrganization string
	logger              *slog.Logger
}

type Options struct {
	Stream              Streamer
	Snapshots           Snapshots
	Statuses            Statuses
	HealthChecks        map[string]HealthCheck
	DefaultOrganization string
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	return &Server{
		stream:              opts.Stream,
		snapshots:           opts.Snapshots,
		statuses:            opts.Statuses,
		checks:              opts.HealthChecks,
		defaultOrganization: opts.DefaultOrganization,
		logger:              logger.With("component", "api"),
	}
}

// Handler registers the routes and wraps them with request ID and access
// log middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/listings/stream", s.streamHandler)
	mux.HandleFunc("GET /api/listings/fresh", s.freshHandler)
	mux.HandleFunc("GET /api/listings/available", s.availableHandler)
	mux.HandleFunc("PATCH /api/pipeline/{id}", s.setStatusHandler)
	mux.HandleFunc("GET /api/pipeline/{id}/history", s.historyHandler)
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.Handle("GET /debug/vars", expvar.Handler())
	return WithRequestID(WithLogging(s.logger)(mux))
}

func (s *Server) organization(r *http.Request) string {
	if org := r.Header.Get(headerOrganization); org != "" {
		return org
	}
	return s.defaultOrganization
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return s.logger.With("request_id", RequestIDFromContext(r.Context()))
}
