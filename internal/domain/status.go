package domain

import (
	"errors"
	"strings"
)

// Status is the acquisition pipeline stage of a listing.
type Status string

const (
	StatusNew       Status = "New"
	StatusReviewing Status = "Reviewing"
	StatusContacted Status = "Contacted"
	StatusViewing   Status = "Viewing"
	StatusPassed    Status = "Passed"
	StatusAcquired  Status = "Acquired"
)

var ErrInvalidStatus = errors.New("invalid status")

// Statuses lists every stage in pipeline order.
var Statuses = []Status{
	StatusNew,
	StatusReviewing,
	StatusContacted,
	StatusViewing,
	StatusPassed,
	StatusAcquired,
}

// ParseStatus accepts any casing ("reviewing", "Reviewing").
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", ErrInvalidStatus
}

// StatusFromStored maps a stored value to a Status, defaulting to New.
func StatusFromStored(s string) Status {
	st, err := ParseStatus(s)
	if err != nil {
		return StatusNew
	}
	return st
}

// Stored is the lower-case form persisted in listing_pipeline.
func (s Status) Stored() string {
	return strings.ToLower(string(s))
}

// Next returns the following stage, wrapping around.
func (s Status) Next() Status {
	for i, st := range Statuses {
		if st == s {
			return Statuses[(i+1)%len(Statuses)]
		}
	}
	return StatusNew
}
