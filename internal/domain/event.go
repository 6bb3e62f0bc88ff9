package domain

import (
	"encoding/json"
	"time"
)

const (
	OperationInsert = "insert"
	TransactionBuy  = "buy"
	TransactionRent = "rent"
)

// ListingEvent is the typed form of a log entry written by the scraper.
// Optional fields are nil when absent or not decodable.
type ListingEvent struct {
	Operation       string   `json:"operation"`
	TransactionType string   `json:"transaction_type"`
	ListingID       string   `json:"listing_id"`
	Location        *string  `json:"location,omitempty"`
	SalePrice       *float64 `json:"sale_price,omitempty"`
	RentPrice       *float64 `json:"rent_price,omitempty"`
	Bedrooms        *float64 `json:"bedrooms,omitempty"`
	SurfaceM2       *float64 `json:"surface_m2,omitempty"`
	ImageURLs       []string `json:"image_urls,omitempty"`
	Source          *string  `json:"source,omitempty"`
	ListingURL      *string  `json:"listing_url,omitempty"`
}

// ParseListingEvent builds a ListingEvent from decoded log fields.
// It never fails: unknown or mistyped values are left unset.
func ParseListingEvent(fields map[string]Field) ListingEvent {
	var ev ListingEvent
	ev.Operation = stringField(fields, "operation")
	ev.TransactionType = stringField(fields, "transaction_type")
	ev.ListingID = idField(fields, "listing_id")
	ev.Location = optString(fields, "location")
	ev.SalePrice = optNumber(fields, "sale_price")
	ev.RentPrice = optNumber(fields, "rent_price")
	ev.Bedrooms = optNumber(fields, "bedrooms")
	ev.SurfaceM2 = optNumber(fields, "surface_m2")
	if f, ok := fields["image_urls"]; ok {
		ev.ImageURLs, _ = f.Strings()
	}
	ev.Source = optString(fields, "source")
	ev.ListingURL = optString(fields, "listing_url")
	return ev
}

// DecodeListingEvent parses the flat JSON object carried by a stream data frame.
func DecodeListingEvent(data []byte) (ListingEvent, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ListingEvent{}, err
	}
	fields := make(map[string]Field, len(raw))
	for k, v := range raw {
		fields[k] = DecodeField(string(v))
	}
	return ParseListingEvent(fields), nil
}

// Tracked reports whether the event is a new buy listing, the only kind the
// acquisition dashboard shows.
func (e ListingEvent) Tracked() bool {
	return e.Operation == OperationInsert &&
		e.TransactionType == TransactionBuy &&
		e.ListingID != ""
}

// ListingFromEvent converts a streamed insert into a dashboard row.
func ListingFromEvent(e ListingEvent, now time.Time) Listing {
	l := Listing{
		ID:              e.ListingID,
		Status:          StatusNew,
		DaysOnMarket:    0,
		TransactionType: e.TransactionType,
		FirstSeen:       now,
	}
	if e.Location != nil {
		l.Location = *e.Location
		l.Address = *e.Location
	}
	switch {
	case e.SalePrice != nil:
		l.Price = *e.SalePrice
	case e.RentPrice != nil:
		l.Price = *e.RentPrice
	}
	if e.Bedrooms != nil {
		l.Beds = int(*e.Bedrooms)
	}
	if e.SurfaceM2 != nil {
		l.SurfaceM2 = *e.SurfaceM2
	}
	if len(e.ImageURLs) > 0 {
		l.Photo = e.ImageURLs[0]
	}
	if e.Source != nil {
		l.Source = *e.Source
	}
	if e.ListingURL != nil {
		l.ListingURL = *e.ListingURL
	}
	return l
}

func stringField(fields map[string]Field, key string) string {
	f, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := f.String()
	return s
}

// idField accepts numeric identifiers as well as strings.
func idField(fields map[string]Field, key string) string {
	f, ok := fields[key]
	if !ok {
		return ""
	}
	if s, ok := f.String(); ok {
		return s
	}
	if n, ok := f.Value.(json.Number); ok {
		return n.String()
	}
	return f.Raw
}

func optString(fields map[string]Field, key string) *string {
	f, ok := fields[key]
	if !ok {
		return nil
	}
	s, ok := f.String()
	if !ok {
		return nil
	}
	return &s
}

func optNumber(fields map[string]Field, key string) *float64 {
	f, ok := fields[key]
	if !ok {
		return nil
	}
	n, ok := f.Number()
	if !ok {
		return nil
	}
	return &n
}
