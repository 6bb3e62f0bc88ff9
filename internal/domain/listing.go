package domain

import "time"

// Listing is a buy listing as shown on the dashboard.
type Listing struct {
	ID              string             `json:"id"` // listing reference, stable across snapshot and stream
	Photo           string             `json:"photo,omitempty"`
	Address         string             `json:"address"`
	Location        string             `json:"location"`
	Price           float64            `json:"price"`
	Beds            int                `json:"beds"`
	SurfaceM2       float64            `json:"sqm"`
	DaysOnMarket    int                `json:"daysOnMarket"`
	Status          Status             `json:"status"`
	AIScore         *float64           `json:"airbnbScore"`
	AIBreakdown     []AIScoreDimension `json:"aiBreakdown"`
	Source          string             `json:"source"`
	TransactionType string             `json:"transaction_type"`
	ListingURL      string             `json:"listing_url,omitempty"`
	FirstSeen       time.Time          `json:"first_seen"`
}

type AIScoreDimension struct {
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// ListingRecord is a scraped listing as stored by the ingestion pipeline.
type ListingRecord struct {
	ID              string
	ListingRef      string
	TransactionType string
	Location        string
	SalePrice       *float64
	RentPrice       *float64
	Bedrooms        *float64
	SurfaceM2       *float64
	ImageURLs       []string
	Source          string
	ListingURL      string
	AIScore         *float64
	AIBreakdown     []AIScoreDimension
	FirstSeen       time.Time
}

// Ref returns the key used for pipeline status and deduplication.
func (r ListingRecord) Ref() string {
	if r.ListingRef != "" {
		return r.ListingRef
	}
	return r.ID
}

// ToListing builds a dashboard row; age is measured against now.
func (r ListingRecord) ToListing(status Status, now time.Time) Listing {
	l := Listing{
		ID:              r.Ref(),
		Address:         r.Location,
		Location:        r.Location,
		Status:          status,
		AIScore:         r.AIScore,
		AIBreakdown:     r.AIBreakdown,
		Source:          r.Source,
		TransactionType: r.TransactionType,
		ListingURL:      r.ListingURL,
		FirstSeen:       r.FirstSeen,
	}
	if l.AIBreakdown == nil {
		l.AIBreakdown = []AIScoreDimension{}
	}
	if len(r.ImageURLs) > 0 {
		l.Photo = r.ImageURLs[0]
	}
	switch {
	case r.SalePrice != nil:
		l.Price = *r.SalePrice
	case r.RentPrice != nil:
		l.Price = *r.RentPrice
	}
	if r.Bedrooms != nil {
		l.Beds = int(*r.Bedrooms)
	}
	if r.SurfaceM2 != nil {
		l.SurfaceM2 = *r.SurfaceM2
	}
	firstSeen := r.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	if hours := int(now.Sub(firstSeen).Hours()); hours > 0 {
		l.DaysOnMarket = hours / 24
	}
	return l
}

// StatusChange is a pipeline status update for one organization.
type StatusChange struct {
	OrganizationID string    `json:"organization_id" db:"organization_id"`
	ListingID      string    `json:"listing_id" db:"listing_id"`
	Status         Status    `json:"status" db:"status"`
	ChangedAt      time.Time `json:"changed_at" db:"updated_at"`
}
