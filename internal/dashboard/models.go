package dashboard

import "listing_feed/internal/domain"

// snapshotResponse is the body of GET /api/listings/fresh.
type snapshotResponse struct {
	Listings []domain.Listing `json:"listings"`
	MaxHours int              `json:"maxHours"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Event is one data frame received from the listing stream.
type Event struct {
	ID   string
	Data []byte
}
