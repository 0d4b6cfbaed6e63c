package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// Aggregates returns per-bucket vital averages for one device over [from,
// to]. Buckets are truncated in the reporting timezone; non-positive
// samples are excluded from averages, and a bucket with no valid samples
// reports nil averages rather than zero. Temperature rounds to 1 decimal,
// heart rate to the nearest integer. Rows are sorted by bucket start.
func (s *Store) Aggregates(ctx context.Context, deviceID int, granularity Granularity, from, to time.Time) ([]AggregateRow, error) {
	pipeline, err := s.buildAggregatePipeline(deviceID, granularity, from, to)
	if err != nil {
		return nil, err
	}

	cursor, err := s.readings.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Aggregates", "run aggregation")
	}
	defer cursor.Close(ctx)

	var rows []AggregateRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, errors.WrapTransient(err, "Store", "Aggregates", "decode aggregation")
	}

	for i := range rows {
		roundRow(&rows[i])
	}
	return rows, nil
}

// roundRow applies the reporting rounding rules. Mongo's $round rounds half
// to even, which disagrees with the reporting convention (72.5 -> 73), so
// rounding happens here.
func roundRow(row *AggregateRow) {
	if row.AvgHeartRate != nil {
		v := math.Round(*row.AvgHeartRate)
		row.AvgHeartRate = &v
	}
	if row.AvgTemperature != nil {
		v := math.Round(*row.AvgTemperature*10) / 10
		row.AvgTemperature = &v
	}
}

// buildAggregatePipeline assembles the aggregation stages. Split out so the
// pipeline shape is unit-testable without a database.
func (s *Store) buildAggregatePipeline(deviceID int, granularity Granularity, from, to time.Time) ([]bson.M, error) {
	unit, ok := granularity.truncUnit()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: granularity %q", errors.ErrValueOutOfRange, granularity),
			"Store", "Aggregates", "validate granularity")
	}

	matchStage := bson.M{
		"deviceId": deviceID,
		"timestamp": bson.M{
			"$gte": from,
			"$lte": to,
		},
	}

	// $avg skips nulls, so conditioning invalid samples to null both
	// excludes them and yields null for buckets with no valid sample.
	validOrNull := func(field string) bson.M {
		return bson.M{"$cond": bson.A{
			bson.M{"$gt": bson.A{field, 0}},
			field,
			nil,
		}}
	}

	groupStage := bson.M{
		"_id": bson.M{"$dateTrunc": bson.M{
			"date":     "$timestamp",
			"unit":     unit,
			"timezone": s.location.String(),
		}},
		"avgHeartRate":   bson.M{"$avg": validOrNull("$heartRate")},
		"avgTemperature": bson.M{"$avg": validOrNull("$temperature")},
		"count":          bson.M{"$sum": 1},
	}

	projectStage := bson.M{
		"_id":            0,
		"bucket":         "$_id",
		"avgHeartRate":   1,
		"avgTemperature": 1,
		"count":          1,
	}

	return []bson.M{
		{"$match": matchStage},
		{"$group": groupStage},
		{"$project": projectStage},
		{"$sort": bson.M{"bucket": 1}},
	}, nil
}
