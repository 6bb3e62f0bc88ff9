package domain

import "time"

// ListingFilter narrows a snapshot query. Zero values mean "no bound".
type ListingFilter struct {
	Location string
	MinPrice float64
	MaxPrice float64
	MinBeds  int
	MinSqm   float64
	MaxSqm   float64
	Status   Status
}

// SnapshotQuery selects a page of listings in an age window.
type SnapshotQuery struct {
	OrganizationID string
	MaxHours       int // fresh: first seen within the last MaxHours
	MinHours       int // available: first seen more than MinHours ago
	Page           int
	PageSize       int
	Filter         ListingFilter
}

// SnapshotPage is the result of a snapshot query.
type SnapshotPage struct {
	Listings []Listing `json:"listings"`
	MaxHours int       `json:"maxHours,omitempty"`
	MinHours int       `json:"minHours,omitempty"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
}

// RefreshStats summarises one snapshot refresh on the client side.
type RefreshStats struct {
	Fetched  int
	Added    int
	Replaced int
	Duration time.Duration
}

// ListingQuery is what the service asks the listing store for.
type ListingQuery struct {
	TransactionType string
	FirstSeenAfter  time.Time // zero: unbounded
	FirstSeenBefore time.Time // zero: unbounded
	Filter          ListingFilter
	Skip            int
	Limit           int
}
