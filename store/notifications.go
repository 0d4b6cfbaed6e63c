package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// InsertNotification persists a new notification.
func (s *Store) InsertNotification(ctx context.Context, n Notification) error {
	if _, err := s.notifications.InsertOne(ctx, n); err != nil {
		return errors.WrapTransient(err, "Store", "InsertNotification", "insert notification")
	}
	return nil
}

// ListNotifications returns notifications newest first. A limit of 0 means
// no limit.
func (s *Store) ListNotifications(ctx context.Context, limit int64) ([]Notification, error) {
	opts := options.Find().SetSort(bson.M{"timestamp": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.notifications.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListNotifications", "find notifications")
	}
	defer cursor.Close(ctx)

	var results []Notification
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListNotifications", "decode notifications")
	}
	return results, nil
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount(ctx context.Context) (int64, error) {
	count, err := s.notifications.CountDocuments(ctx, bson.M{"read": false})
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "UnreadCount", "count unread")
	}
	return count, nil
}

// MarkRead flags one notification as read. Unknown IDs yield ErrNotFound.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	result, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return errors.WrapTransient(err, "Store", "MarkRead", "update notification")
	}
	if result.MatchedCount == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// MarkAllRead flags every unread notification as read and returns how many
// were updated.
func (s *Store) MarkAllRead(ctx context.Context) (int64, error) {
	result, err := s.notifications.UpdateMany(ctx,
		bson.M{"read": false},
		bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "MarkAllRead", "update notifications")
	}
	return result.ModifiedCount, nil
}

// DeleteNotification removes one notification. Unknown IDs yield
// ErrNotFound.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	result, err := s.notifications.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.WrapTransient(err, "Store", "DeleteNotification", "delete notification")
	}
	if result.DeletedCount == 0 {
		return errors.ErrNotFound
	}
	return nil
}

// ClearNotifications removes every notification and returns how many were
// deleted.
func (s *Store) ClearNotifications(ctx context.Context) (int64, error) {
	result, err := s.notifications.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, errors.WrapTransient(err, "Store", "ClearNotifications", "delete notifications")
	}
	return result.DeletedCount, nil
}

// GetNotification fetches one notification by ID.
func (s *Store) GetNotification(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	err := s.notifications.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "Store", "GetNotification", "find notification")
	}
	return &n, nil
}
