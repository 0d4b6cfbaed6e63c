package store

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// BindingForDevice returns the livestock binding for a device, or nil when
// the device is unbound. Absence is a normal condition, not an error.
func (s *Store) BindingForDevice(ctx context.Context, deviceID int) (*LivestockBinding, error) {
	var binding LivestockBinding
	err := s.livestock.FindOne(ctx, bson.M{"deviceId": deviceID}).Decode(&binding)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "Store", "BindingForDevice", "find binding")
	}
	return &binding, nil
}

// ListBindings returns every livestock binding.
func (s *Store) ListBindings(ctx context.Context) ([]LivestockBinding, error) {
	cursor, err := s.livestock.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListBindings", "find bindings")
	}
	defer cursor.Close(ctx)

	var results []LivestockBinding
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListBindings", "decode bindings")
	}
	return results, nil
}

// ReceiverConfigs returns the zone-to-receiver mapping.
func (s *Store) ReceiverConfigs(ctx context.Context) ([]ReceiverConfig, error) {
	cursor, err := s.receivers.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ReceiverConfigs", "find receiver configs")
	}
	defer cursor.Close(ctx)

	var results []ReceiverConfig
	if err := cursor.All(ctx, &results); err != nil {
		return nil, errors.WrapTransient(err, "Store", "ReceiverConfigs", "decode receiver configs")
	}
	return results, nil
}
