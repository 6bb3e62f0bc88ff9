package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"listing_feed/internal/config"
	"listing_feed/internal/domain"
)

var ErrInvalidQuery = errors.New("invalid query")

const maxWindowHours = 24 * 365

// SnapshotService serves age-windowed pages of buy listings merged with
// each organization's pipeline status.
type SnapshotService struct {
	listings ListingStore
	statuses StatusStore
	logger   *slog.Logger
	config   config.SnapshotConfig
	now      func() time.Time
}

func NewSnapshotService(
	listings ListingStore,
	statuses StatusStore,
	logger *slog.Logger,
	cfg config.SnapshotConfig,
) *SnapshotService {
	return &SnapshotService{
		listings: listings,
		statuses: statuses,
		logger:   logger.With("component", "snapshot"),
		config:   cfg,
		now:      time.Now,
	}
}

// Fresh returns listings first seen within the last q.MaxHours hours,
// newest first.
func (s *SnapshotService) Fresh(ctx context.Context, q domain.SnapshotQuery) (*domain.SnapshotPage, error) {
	maxHours := q.MaxHours
	if maxHours == 0 {
		maxHours = s.config.FreshMaxHours
	}
	if maxHours < 0 || maxHours > maxWindowHours {
		return nil, fmt.Errorf("%w: max_hours must be between 1 and %d", ErrInvalidQuery, maxWindowHours)
	}

	size, err := pageSize(q.PageSize, s.config.FreshLimit)
	if err != nil {
		return nil, err
	}
	if q.Page < 0 {
		return nil, fmt.Errorf("%w: page must not be negative", ErrInvalidQuery)
	}

	now := s.now()
	lq := domain.ListingQuery{
		TransactionType: domain.TransactionBuy,
		FirstSeenAfter:  now.Add(-time.Duration(maxHours) * time.Hour),
		Filter:          q.Filter,
		Skip:            q.Page * size,
		Limit:           size,
	}

	page, err := s.page(ctx, q.OrganizationID, lq, now)
	if err != nil {
		return nil, fmt.Errorf("fresh listings: %w", err)
	}
	page.MaxHours = maxHours
	page.Page = q.Page

	s.logger.Debug("served fresh snapshot",
		"max_hours", maxHours,
		"page", q.Page,
		"count", len(page.Listings),
		"total", page.Total,
	)
	return page, nil
}

// Available returns listings older than q.MinHours, so a listing shows up
// in either the fresh or the available view but not both.
func (s *SnapshotService) Available(ctx context.Context, q domain.SnapshotQuery) (*domain.SnapshotPage, error) {
	minHours := q.MinHours
	if minHours == 0 {
		minHours = s.config.AvailableMinHours
	}
	if minHours < 0 || minHours > maxWindowHours {
		return nil, fmt.Errorf("%w: min_hours must be between 1 and %d", ErrInvalidQuery, maxWindowHours)
	}

	size, err := pageSize(q.PageSize, s.config.PageSize)
	if err != nil {
		return nil, err
	}
	if q.Page < 0 {
		return nil, fmt.Errorf("%w: page must not be negative", ErrInvalidQuery)
	}

	now := s.now()
	lq := domain.ListingQuery{
		TransactionType: domain.TransactionBuy,
		FirstSeenBefore: now.Add(-time.Duration(minHours) * time.Hour),
		Filter:          q.Filter,
		Skip:            q.Page * size,
		Limit:           size,
	}

	page, err := s.page(ctx, q.OrganizationID, lq, now)
	if err != nil {
		return nil, fmt.Errorf("available listings: %w", err)
	}
	page.MinHours = minHours
	page.Page = q.Page
	return page, nil
}

func (s *SnapshotService) page(ctx context.Context, orgID string, lq domain.ListingQuery, now time.Time) (*domain.SnapshotPage, error) {
	records, err := s.listings.Find(ctx, lq)
	if err != nil {
		return nil, fmt.Errorf("find listings: %w", err)
	}

	total, err := s.listings.Count(ctx, lq)
	if err != nil {
		return nil, fmt.Errorf("count listings: %w", err)
	}

	statuses := s.loadStatuses(ctx, orgID, records)

	listings := make([]domain.Listing, 0, len(records))
	for _, r := range records {
		status, ok := statuses[r.Ref()]
		if !ok {
			status = domain.StatusNew
		}
		if lq.Filter.Status != "" && status != lq.Filter.Status {
			continue
		}
		listings = append(listings, r.ToListing(status, now))
	}

	return &domain.SnapshotPage{Listings: listings, Total: total}, nil
}

// loadStatuses never fails the snapshot: without annotations every
// listing is shown as New.
func (s *SnapshotService) loadStatuses(ctx context.Context, orgID string, records []domain.ListingRecord) map[string]domain.Status {
	if orgID == "" || len(records) == 0 {
		return nil
	}

	refs := make([]string, 0, len(records))
	for _, r := range records {
		refs = append(refs, r.Ref())
	}

	statuses, err := s.statuses.GetStatuses(ctx, orgID, refs)
	if err != nil {
		s.logger.Warn("failed to load pipeline statuses",
			"organization_id", orgID,
			"listings", len(refs),
			"error", err,
		)
		return nil
	}
	return statuses
}

func pageSize(requested, limit int) (int, error) {
	if requested < 0 {
		return 0, fmt.Errorf("%w: page_size must not be negative", ErrInvalidQuery)
	}
	if requested == 0 || requested > limit {
		return limit, nil
	}
	return requested, nil
}
