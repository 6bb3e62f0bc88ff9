package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"listing_feed/internal/domain"
)

var (
	ErrMissingOrganization = errors.New("organization is required")
	ErrInvalidListing      = errors.New("listing id is required")
)

// StatusService records pipeline status changes. Repeating the same call
// leaves the stored status unchanged.
type StatusService struct {
	statuses  StatusStore
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewStatusService(
	statuses StatusStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
) *StatusService {
	return &StatusService{
		statuses:  statuses,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("component", "status"),
		now:       time.Now,
	}
}

func (s *StatusService) SetStatus(ctx context.Context, organizationID, listingID, status string) (*domain.StatusChange, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, ErrMissingOrganization
	}
	if strings.TrimSpace(listingID) == "" {
		return nil, ErrInvalidListing
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, status)
	}

	change := &domain.StatusChange{
		OrganizationID: organizationID,
		ListingID:      listingID,
		Status:         st,
		ChangedAt:      s.now().UTC(),
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.statuses.Upsert(txCtx, change); err != nil {
			return fmt.Errorf("upsert status: %w", err)
		}
		if err := s.statuses.AppendHistory(txCtx, change); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.PublishStatusChange(ctx, change); err != nil {
			s.logger.Warn("failed to publish status change",
				"listing_id", listingID,
				"status", st,
				"error", err,
			)
		}
	}

	s.logger.Info("pipeline status updated",
		"organization_id", organizationID,
		"listing_id", listingID,
		"status", st,
	)
	return change, nil
}

// History returns the recorded status changes of a listing, newest first.
func (s *StatusService) History(ctx context.Context, organizationID, listingID string, limit int) ([]domain.StatusChange, error) {
	if strings.TrimSpace(organizationID) == "" {
		return nil, ErrMissingOrganization
	}
	if strings.TrimSpace(listingID) == "" {
		return nil, ErrInvalidListing
	}

	changes, err := s.statuses.History(ctx, organizationID, listingID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if changes == nil {
		changes = []domain.StatusChange{}
	}
	return changes, nil
}
