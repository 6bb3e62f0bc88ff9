package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"listing_feed/internal/domain"
)

// firstSeenLayout matches the ISO-8601 strings the scrapers write.
const firstSeenLayout = "2006-01-02T15:04:05.000000+00:00"

type listingDocument struct {
	ID              primitive.ObjectID `bson:"_id"`
	ListingRef      string             `bson:"listing_ref"`
	ListingURL      string             `bson:"listing_url"`
	Source          string             `bson:"source"`
	TransactionType string             `bson:"transaction_type"`
	FirstSeen       bson.RawValue      `bson:"first_seen"`
	Location        string             `bson:"location"`
	SalePrice       bson.RawValue      `bson:"sale_price"`
	RentPrice       bson.RawValue      `bson:"rent_price"`
	Bedrooms        bson.RawValue      `bson:"bedrooms"`
	SurfaceM2       bson.RawValue      `bson:"surface_m2"`
	ImageURLs       bson.RawValue      `bson:"image_urls"`
	AIScore         bson.RawValue      `bson:"ai_score"`
	AIBreakdown     bson.RawValue      `bson:"ai_breakdown"`
}

type aiDimension struct {
	Label     string  `bson:"label"`
	Score     float64 `bson:"score"`
	Reasoning string  `bson:"reasoning"`
}

// ListingStore reads scraped listings. The collection is owned by the
// scrapers; this store never writes to it.
type ListingStore struct {
	collection *mongo.Collection
}

func NewListingStore(collection *mongo.Collection) *ListingStore {
	return &ListingStore{collection: collection}
}

// Connect opens a client and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

func (s *ListingStore) Find(ctx context.Context, q domain.ListingQuery) ([]domain.ListingRecord, error) {
	pipeline := append(buildPipeline(q), bson.D{{Key: "$sort", Value: bson.D{
		{Key: firstSeenKeyField, Value: -1},
		{Key: "_id", Value: -1},
	}}})
	if q.Skip > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$skip", Value: int64(q.Skip)}})
	}
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(q.Limit)}})
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []domain.ListingRecord
	for cursor.Next(ctx) {
		var doc listingDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		records = append(records, doc.record())
	}
	return records, cursor.Err()
}

func (s *ListingStore) Count(ctx context.Context, q domain.ListingQuery) (int64, error) {
	pipeline := append(buildPipeline(q), bson.D{{Key: "$count", Value: "total"}})

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var result struct {
		Total int64 `bson:"total"`
	}
	if cursor.Next(ctx) {
		if err := cursor.Decode(&result); err != nil {
			return 0, fmt.Errorf("decode count: %w", err)
		}
	}
	return result.Total, cursor.Err()
}

// firstSeenKeyField holds first_seen rendered in firstSeenLayout. Scrapers
// store either the string form or a native date; the key lets both kinds
// be windowed and sorted together.
const firstSeenKeyField = "first_seen_key"

var firstSeenKey = bson.D{{Key: "$cond", Value: bson.A{
	bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$first_seen"}}, "date"}}},
	bson.D{{Key: "$dateToString", Value: bson.D{
		{Key: "date", Value: "$first_seen"},
		{Key: "format", Value: "%Y-%m-%dT%H:%M:%S.%L000+00:00"},
		{Key: "timezone", Value: "UTC"},
	}}},
	"$first_seen",
}}}

func buildPipeline(q domain.ListingQuery) mongo.Pipeline {
	var pipeline mongo.Pipeline
	if filter := buildFilter(q); len(filter) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: filter}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$addFields", Value: bson.D{
		{Key: firstSeenKeyField, Value: firstSeenKey},
	}}})
	if r := firstSeenRange(q); len(r) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{
			{Key: firstSeenKeyField, Value: r},
		}}})
	}
	return pipeline
}

func firstSeenRange(q domain.ListingQuery) bson.D {
	r := bson.D{}
	if !q.FirstSeenAfter.IsZero() {
		r = append(r, bson.E{Key: "$gte", Value: formatFirstSeen(q.FirstSeenAfter)})
	}
	if !q.FirstSeenBefore.IsZero() {
		r = append(r, bson.E{Key: "$lt", Value: formatFirstSeen(q.FirstSeenBefore)})
	}
	return r
}

// buildFilter matches the plain document fields. The first_seen window is
// applied by buildPipeline.
func buildFilter(q domain.ListingQuery) bson.D {
	filter := bson.D{}
	if q.TransactionType != "" {
		filter = append(filter, bson.E{Key: "transaction_type", Value: q.TransactionType})
	}

	f := q.Filter
	if f.Location != "" {
		filter = append(filter, bson.E{Key: "location", Value: primitive.Regex{
			Pattern: regexp.QuoteMeta(f.Location),
			Options: "i",
		}})
	}
	if r := numberRange(f.MinPrice, f.MaxPrice); len(r) > 0 {
		filter = append(filter, bson.E{Key: "sale_price", Value: r})
	}
	if f.MinBeds > 0 {
		filter = append(filter, bson.E{Key: "bedrooms", Value: bson.D{{Key: "$gte", Value: f.MinBeds}}})
	}
	if r := numberRange(f.MinSqm, f.MaxSqm); len(r) > 0 {
		filter = append(filter, bson.E{Key: "surface_m2", Value: r})
	}
	return filter
}

func numberRange(min, max float64) bson.D {
	r := bson.D{}
	if min > 0 {
		r = append(r, bson.E{Key: "$gte", Value: min})
	}
	if max > 0 {
		r = append(r, bson.E{Key: "$lte", Value: max})
	}
	return r
}

func formatFirstSeen(t time.Time) string {
	return t.UTC().Format(firstSeenLayout)
}

// parseFirstSeen accepts both the ISO strings written by the scrapers and
// native BSON dates.
func parseFirstSeen(v bson.RawValue) time.Time {
	switch v.Type {
	case bsontype.String:
		t, err := time.Parse(time.RFC3339Nano, v.StringValue())
		if err != nil {
			return time.Time{}
		}
		return t.UTC()
	case bsontype.DateTime:
		return v.Time().UTC()
	}
	return time.Time{}
}

// number reads a numeric field that older scrapers sometimes stored as a
// string. Anything else is unknown.
func number(v bson.RawValue) *float64 {
	var f float64
	switch v.Type {
	case bsontype.Double:
		f = v.Double()
	case bsontype.Int32:
		f = float64(v.Int32())
	case bsontype.Int64:
		f = float64(v.Int64())
	case bsontype.String:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.StringValue()), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// stringList reads an array of strings, or a JSON encoded array stored as a
// string.
func stringList(v bson.RawValue) []string {
	switch v.Type {
	case bsontype.Array:
		values, err := v.Array().Values()
		if err != nil {
			return nil
		}
		out := make([]string, 0, len(values))
		for _, item := range values {
			if str, ok := item.StringValueOK(); ok {
				out = append(out, str)
			}
		}
		return out
	case bsontype.String:
		var out []string
		if err := json.Unmarshal([]byte(v.StringValue()), &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}

func (d listingDocument) record() domain.ListingRecord {
	r := domain.ListingRecord{
		ID:              d.ID.Hex(),
		ListingRef:      d.ListingRef,
		TransactionType: d.TransactionType,
		Location:        d.Location,
		SalePrice:       number(d.SalePrice),
		RentPrice:       number(d.RentPrice),
		Bedrooms:        number(d.Bedrooms),
		SurfaceM2:       number(d.SurfaceM2),
		ImageURLs:       stringList(d.ImageURLs),
		Source:          d.Source,
		ListingURL:      d.ListingURL,
		AIScore:         number(d.AIScore),
		FirstSeen:       parseFirstSeen(d.FirstSeen),
	}
	var dims []aiDimension
	if d.AIBreakdown.Type == bsontype.Array {
		_ = d.AIBreakdown.Unmarshal(&dims)
	}
	for _, dim := range dims {
		r.AIBreakdown = append(r.AIBreakdown, domain.AIScoreDimension{
			Label:     dim.Label,
			Score:     dim.Score,
			Reasoning: dim.Reasoning,
		})
	}
	return r
}
