package dashboard

import (
	"strings"

	"listing_feed/internal/domain"
)

// Filter narrows the displayed listings. It never changes the Store.
type Filter struct {
	Location string
	MinScore float64
	MinBeds  int
	MinSqm   float64
	MaxSqm   float64
	MinPrice float64
	MaxPrice float64
	Status   domain.Status // empty: all
}

func (f Filter) Match(l domain.Listing) bool {
	if f.Location != "" && !strings.Contains(strings.ToLower(l.Location), strings.ToLower(f.Location)) {
		return false
	}
	if f.MinScore > 0 {
		score := 0.0
		if l.AIScore != nil {
			score = *l.AIScore
		}
		if score < f.MinScore {
			return false
		}
	}
	if f.MinBeds > 0 && l.Beds < f.MinBeds {
		return false
	}
	if f.MinSqm > 0 && l.SurfaceM2 < f.MinSqm {
		return false
	}
	if f.MaxSqm > 0 && l.SurfaceM2 > f.MaxSqm {
		return false
	}
	if f.MinPrice > 0 && l.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && l.Price > f.MaxPrice {
		return false
	}
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	return true
}

func (f Filter) Apply(listings []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		if f.Match(l) {
			out = append(out, l)
		}
	}
	return out
}

// NewTodayCount counts untouched listings first seen less than a day ago.
func NewTodayCount(listings []domain.Listing) int {
	n := 0
	for _, l := range listings {
		if l.Status == domain.StatusNew && l.DaysOnMarket == 0 {
			n++
		}
	}
	return n
}
