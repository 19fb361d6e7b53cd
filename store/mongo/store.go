package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/record"
)

// Collection name constants.
const colPriceEntries = "price_entries"

var _ record.Store = (*Store)(nil)

// Store implements record.Store on a MongoDB database. The caller owns the
// database lifecycle; Store never disconnects the client.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a MongoDB record store.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database for advanced usage.
func (s *Store) DB() *mongod.Database { return s.db }

func (s *Store) col() *mongod.Collection { return s.db.Collection(colPriceEntries) }

// Migrate creates the query indexes of the price_entries collection.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.col().Indexes().CreateMany(ctx, migrationIndexes()); err != nil {
		return fmt.Errorf("storemesh/mongo: migrate %s indexes: %w", colPriceEntries, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return fmt.Errorf("storemesh/mongo: ping: %w", err)
	}
	return nil
}

// Insert stores r. A document with the same ID returns
// storemesh.ErrDuplicate.
func (s *Store) Insert(ctx context.Context, r *record.Record) (id.RecordID, error) {
	if _, err := s.col().InsertOne(ctx, toRecordModel(r)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return r.ID, fmt.Errorf("%w: record %s", storemesh.ErrDuplicate, r.ID)
		}
		return r.ID, fmt.Errorf("storemesh/mongo: insert record: %w", err)
	}
	return r.ID, nil
}

// Query returns the records matching f, newest first, ties broken by ID.
func (s *Store) Query(ctx context.Context, f record.Filter) ([]*record.Record, error) {
	opts := options.Find().
		SetSort(bson.D{
			{Key: "timestamp", Value: -1},
			{Key: "_id", Value: 1},
		}).
		SetSkip(int64(f.Offset))
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.col().Find(ctx, queryFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("storemesh/mongo: query records: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var models []recordModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("storemesh/mongo: decode records: %w", err)
	}

	out := make([]*record.Record, 0, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			s.logger.Warn("skipping malformed price entry",
				slog.String("id", models[i].ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func queryFilter(f record.Filter) bson.D {
	filter := bson.D{}
	if f.ItemID > 0 {
		filter = append(filter, bson.E{Key: "itemId", Value: f.ItemID})
	}
	if f.RegionID > 0 {
		filter = append(filter, bson.E{Key: "location.region_id", Value: f.RegionID})
	}
	if f.ShopID > 0 {
		filter = append(filter, bson.E{Key: "shopId", Value: f.ShopID})
	}
	if !f.Since.IsZero() {
		filter = append(filter, bson.E{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: f.Since}}})
	}
	return filter
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// Get returns a single record by ID.
func (s *Store) Get(ctx context.Context, recordID id.RecordID) (*record.Record, error) {
	var m recordModel
	err := s.col().FindOne(ctx, bson.D{{Key: "_id", Value: recordID.String()}}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, fmt.Errorf("%w: record %s", storemesh.ErrNotFound, recordID)
		}
		return nil, fmt.Errorf("storemesh/mongo: get record: %w", err)
	}
	return fromRecordModel(&m)
}

// migrationIndexes returns the index definitions for price_entries.
func migrationIndexes() []mongod.IndexModel {
	return []mongod.IndexModel{
		// Item listing, newest first.
		{Keys: bson.D{
			{Key: "itemId", Value: 1},
			{Key: "timestamp", Value: -1},
			{Key: "_id", Value: 1},
		}},
		// Item within a region.
		{Keys: bson.D{
			{Key: "itemId", Value: 1},
			{Key: "location.region_id", Value: 1},
			{Key: "timestamp", Value: -1},
		}},
		// Shop history.
		{
			Keys:    bson.D{{Key: "shopId", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetSparse(true),
		},
		// Unfiltered feed.
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: 1}}},
	}
}
