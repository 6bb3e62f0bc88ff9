package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"listing_feed/internal/domain"
)

// PipelineStore keeps the per-organization pipeline status of listings.
type PipelineStore struct {
	db *sqlx.DB
}

func NewPipelineStore(db *sqlx.DB) *PipelineStore {
	return &PipelineStore{db: db}
}

// Upsert sets the current status. Writing the same status twice leaves one
// row with that status.
func (s *PipelineStore) Upsert(ctx context.Context, change *domain.StatusChange) error {
	query := `
		INSERT INTO listing_pipeline (organization_id, listing_id, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, listing_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		change.OrganizationID,
		change.ListingID,
		change.Status.Stored(),
		change.ChangedAt,
	)
	return err
}

func (s *PipelineStore) GetStatuses(ctx context.Context, organizationID string, listingIDs []string) (map[string]domain.Status, error) {
	if len(listingIDs) == 0 {
		return make(map[string]domain.Status), nil
	}

	query := `SELECT listing_id, status FROM listing_pipeline WHERE organization_id = $1 AND listing_id = ANY($2)`

	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, query, organizationID, pq.Array(listingIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Status, len(listingIDs))
	for rows.Next() {
		var listingID, status string
		if err := rows.Scan(&listingID, &status); err != nil {
			return nil, err
		}
		result[listingID] = domain.StatusFromStored(status)
	}

	return result, rows.Err()
}
