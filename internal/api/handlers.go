package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"listing_feed/internal/broadcast"
	"listing_feed/internal/domain"
	"listing_feed/internal/service"
)

const healthTimeout = 2 * time.Second

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	sink, err := broadcast.NewSSEWriter(w)
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "streaming_unsupported", err.Error())
		return
	}
	broadcast.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	// the session logs its own outcome; headers are already sent
	_ = s.stream.Serve(r.Context(), sink, r.Header.Get("Last-Event-ID"), s.requestLogger(r))
}

func (s *Server) freshHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.snapshotQuery(r, "max_hours")
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	page, err := s.snapshots.Fresh(r.Context(), q)
	if err != nil {
		s.snapshotError(w, r, err, "Failed to fetch fresh listings")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) availableHandler(w http.ResponseWriter, r *http.Request) {
	q, err := s.snapshotQuery(r, "min_hours")
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	page, err := s.snapshots.Available(r.Context(), q)
	if err != nil {
		s.snapshotError(w, r, err, "Failed to fetch available listings")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) snapshotError(w http.ResponseWriter, r *http.Request, err error, message string) {
	if errors.Is(err, service.ErrInvalidQuery) {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	s.requestLogger(r).Error(message, "error", err)
	WriteJSONError(w, http.StatusInternalServerError, message, "")
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type setStatusResponse struct {
	OK     bool          `json:"ok"`
	Status domain.Status `json:"status"`
}

func (s *Server) setStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	change, err := s.statuses.SetStatus(r.Context(), s.organization(r), r.PathValue("id"), req.Status)
	switch {
	case errors.Is(err, service.ErrMissingOrganization):
		WriteJSONError(w, http.StatusBadRequest, "No organization", "")
		return
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, service.ErrInvalidListing):
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	case err != nil:
		s.requestLogger(r).Error("failed to update pipeline status", "listing_id", r.PathValue("id"), "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to update pipeline status", "")
		return
	}

	writeJSON(w, http.StatusOK, setStatusResponse{OK: true, Status: change.Status})
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit")
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	changes, err := s.statuses.History(r.Context(), s.organization(r), r.PathValue("id"), limit)
	switch {
	case errors.Is(err, service.ErrMissingOrganization):
		WriteJSONError(w, http.StatusBadRequest, "No organization", "")
		return
	case err != nil:
		s.requestLogger(r).Error("failed to load pipeline history", "error", err)
		WriteJSONError(w, http.StatusInternalServerError, "Failed to load pipeline history", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": changes})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := http.StatusOK
	result := map[string]string{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}

	writeJSON(w, status, map[string]any{
		"status":          http.StatusText(status),
		"checks":          result,
		"active_sessions": broadcast.ActiveSessions(),
	})
}

func (s *Server) snapshotQuery(r *http.Request, windowParam string) (domain.SnapshotQuery, error) {
	values := r.URL.Query()
	q := domain.SnapshotQuery{OrganizationID: s.organization(r)}

	window, err := intParam(values, windowParam)
	if err != nil {
		return q, err
	}
	if windowParam == "max_hours" {
		q.MaxHours = window
	} else {
		q.MinHours = window
	}

	if q.Page, err = intParam(values, "page"); err != nil {
		return q, err
	}
	if q.PageSize, err = intParam(values, "page_size"); err != nil {
		return q, err
	}

	f := &q.Filter
	f.Location = strings.TrimSpace(values.Get("location"))
	if f.MinPrice, err = floatParam(values, "min_price"); err != nil {
		return q, err
	}
	if f.MaxPrice, err = floatParam(values, "max_price"); err != nil {
		return q, err
	}
	if f.MinBeds, err = intParam(values, "min_beds"); err != nil {
		return q, err
	}
	if f.MinSqm, err = floatParam(values, "min_sqm"); err != nil {
		return q, err
	}
	if f.MaxSqm, err = floatParam(values, "max_sqm"); err != nil {
		return q, err
	}
	if raw := values.Get("status"); raw != "" && !strings.EqualFold(raw, "all") {
		if f.Status, err = domain.ParseStatus(raw); err != nil {
			return q, fmt.Errorf("status: %w", err)
		}
	}
	return q, nil
}

func intParam(values url.Values, name string) (int, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func floatParam(values url.Values, name string) (float64, error) {
	raw := values.Get(name)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return f, nil
}
