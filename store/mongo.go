package store

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// Store is the MongoDB persistence gateway.
type Store struct {
	client        *mongo.Client
	db            *mongo.Database
	readings      *mongo.Collection
	notifications *mongo.Collection
	livestock     *mongo.Collection
	receivers     *mongo.Collection

	location *time.Location
	logger   *slog.Logger
}

// Options tunes store construction.
type Options struct {
	// Location is the reporting timezone for aggregate bucketing.
	Location *time.Location
	Logger   *slog.Logger
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Connect", "dial mongodb")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.WrapTransient(err, "Store", "Connect", "ping mongodb")
	}

	return client, nil
}

// New creates a Store over an existing client.
func New(client *mongo.Client, database string, opts Options) *Store {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	db := client.Database(database)
	return &Store{
		client:        client,
		db:            db,
		readings:      db.Collection(readingsCollection),
		notifications: db.Collection(notificationsCollection),
		livestock:     db.Collection(livestockCollection),
		receivers:     db.Collection(receiverCollection),
		location:      opts.Location,
		logger:        opts.Logger,
	}
}

// EnsureIndexes creates the indexes the query surface depends on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	readingIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "deviceId", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	}
	if _, err := s.readings.Indexes().CreateMany(ctx, readingIndexes); err != nil {
		return errors.WrapTransient(err, "Store", "EnsureIndexes", "create reading indexes")
	}

	notificationIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "read", Value: 1}}},
	}
	if _, err := s.notifications.Indexes().CreateMany(ctx, notificationIndexes); err != nil {
		return errors.WrapTransient(err, "Store", "EnsureIndexes", "create notification indexes")
	}

	livestockIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "deviceId", Value: 1}}},
	}
	if _, err := s.livestock.Indexes().CreateMany(ctx, livestockIndexes); err != nil {
		return errors.WrapTransient(err, "Store", "EnsureIndexes", "create livestock indexes")
	}

	return nil
}

// Location returns the reporting timezone used for aggregation.
func (s *Store) Location() *time.Location {
	return s.location
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return errors.WrapTransient(err, "Store", "Ping", "ping mongodb")
	}
	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "Store", "Close", "disconnect mongodb")
	}
	return nil
}
