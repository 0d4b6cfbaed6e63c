package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// AppendReading persists one evaluated reading. Callers treat failures as
// best-effort: the pipeline logs and moves on, it never blocks fan-out.
func (s *Store) AppendReading(ctx context.Context, reading StoredReading) error {
	if _, err := s.readings.InsertOne(ctx, reading); err != nil {
		return errors.WrapTransient(err, "Store", "AppendReading", "insert reading")
	}
	return nil
}

// LatestPerDevice returns the most recent stored reading for every device.
func (s *Store) LatestPerDevice(ctx context.Context) ([]StoredReading, error) {
	pipeline := []bson.M{
		{"$sort": bson.M{"timestamp": -1}},
		{"$group": bson.M{
			"_id": "$deviceId",
			"doc": bson.M{"$first": "$$ROOT"},
		}},
		{"$replaceRoot": bson.M{"newRoot": "$doc"}},
		{"$sort": bson.M{"deviceId": 1}},
	}

	cursor, err := s.readings.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "LatestPerDevice", "aggregate latest readings")
	}
	defer cursor.Close(ctx)

	var results []StoredReading
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.WrapTransient(err, "Store", "LatestPerDevice", "decode latest readings")
	}
	return results, nil
}

// LatestForDevice returns the newest stored reading for one device, or
// ErrNotFound when the device has no history.
func (s *Store) LatestForDevice(ctx context.Context, deviceID int) (*StoredReading, error) {
	opts := options.FindOne().SetSort(bson.M{"timestamp": -1})

	var reading StoredReading
	err := s.readings.FindOne(ctx, bson.M{"deviceId": deviceID}, opts).Decode(&reading)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "Store", "LatestForDevice", "find latest reading")
	}
	return &reading, nil
}

// ReadingsInRange returns a device's readings within [from, to], ascending
// by timestamp.
func (s *Store) ReadingsInRange(ctx context.Context, deviceID int, from, to time.Time) ([]StoredReading, error) {
	filter := bson.M{
		"deviceId": deviceID,
		"timestamp": bson.M{
			"$gte": from,
			"$lte": to,
		},
	}
	opts := options.Find().SetSort(bson.M{"timestamp": 1})

	cursor, err := s.readings.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ReadingsInRange", "find readings")
	}
	defer cursor.Close(ctx)

	var results []StoredReading
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.WrapTransient(err, "Store", "ReadingsInRange", "decode readings")
	}
	return results, nil
}
