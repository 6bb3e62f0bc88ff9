package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"listing_feed/internal/domain"
)

type ListingStore interface {
	Find(ctx context.Context, q domain.ListingQuery) ([]domain.ListingRecord, error)
	Count(ctx context.Context, q domain.ListingQuery) (int64, error)
}

type StatusStore interface {
	GetStatuses(ctx context.Context, organizationID string, listingIDs []string) (map[string]domain.Status, error)
	Upsert(ctx context.Context, change *domain.StatusChange) error
	AppendHistory(ctx context.Context, change *domain.StatusChange) error
	History(ctx context.Context, organizationID, listingID string, limit int) ([]domain.StatusChange, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishStatusChange(ctx context.Context, change *domain.StatusChange) error
	Close() error
}
