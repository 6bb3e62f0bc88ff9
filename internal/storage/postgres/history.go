package postgres

import (
	"context"

	"listing_feed/internal/domain"
)

const defaultHistoryLimit = 50

func (s *PipelineStore) AppendHistory(ctx context.Context, change *domain.StatusChange) error {
	query := `
		INSERT INTO listing_pipeline_history (organization_id, listing_id, status, changed_at)
		VALUES ($1, $2, $3, $4)`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		change.OrganizationID,
		change.ListingID,
		change.Status.Stored(),
		change.ChangedAt,
	)
	return err
}

// History returns the most recent status changes of a listing, newest first.
func (s *PipelineStore) History(ctx context.Context, organizationID, listingID string, limit int) ([]domain.StatusChange, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT organization_id, listing_id, status, changed_at
		FROM listing_pipeline_history
		WHERE organization_id = $1 AND listing_id = $2
		ORDER BY changed_at DESC, id DESC
		LIMIT $3`

	rows, err := GetExecutor(ctx, s.db).QueryxContext(ctx, query, organizationID, listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []domain.StatusChange
	for rows.Next() {
		var (
			change domain.StatusChange
			status string
		)
		if err := rows.Scan(&change.OrganizationID, &change.ListingID, &status, &change.ChangedAt); err != nil {
			return nil, err
		}
		change.Status = domain.StatusFromStored(status)
		changes = append(changes, change)
	}

	return changes, rows.Err()
}
