// Package query is the function-level read surface the web layer consumes.
// It merges the in-memory latest-state cache with the persistence gateway
// and exposes notification and configuration operations.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/statecache"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/store"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// Storage is the persistence surface the service reads through; satisfied
// by *store.Store.
type Storage interface {
	LatestPerDevice(ctx context.Context) ([]store.StoredReading, error)
	LatestForDevice(ctx context.Context, deviceID int) (*store.StoredReading, error)
	ReadingsInRange(ctx context.Context, deviceID int, from, to time.Time) ([]store.StoredReading, error)
	Aggregates(ctx context.Context, deviceID int, granularity store.Granularity, from, to time.Time) ([]store.AggregateRow, error)
	ListBindings(ctx context.Context) ([]store.LivestockBinding, error)
	BindingForDevice(ctx context.Context, deviceID int) (*store.LivestockBinding, error)
	ListNotifications(ctx context.Context, limit int64) ([]store.Notification, error)
	GetNotification(ctx context.Context, id string) (*store.Notification, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) (int64, error)
	ReceiverConfigs(ctx context.Context) ([]store.ReceiverConfig, error)
}

// ConfigAdmin is the runtime configuration surface; satisfied by
// *thresholdstore.Store.
type ConfigAdmin interface {
	Thresholds() safety.ThresholdConfig
	Zones() []safety.Zone
	SetThresholds(ctx context.Context, cfg safety.ThresholdConfig) error
	PutZone(ctx context.Context, zone safety.Zone) error
	DeleteZone(ctx context.Context, name string) error
}

// DeviceSnapshot is the merged latest view of one collar.
type DeviceSnapshot struct {
	DeviceID    int                     `json:"deviceId"`
	HeartRate   float64                 `json:"heartRate"`
	Temperature float64                 `json:"temperature"`
	GPS         *telemetry.GPSLocation  `json:"gpsLocation,omitempty"`
	ZoneID      string                  `json:"zoneId,omitempty"`
	Status      safety.Status           `json:"status"`
	Vitals      safety.Status           `json:"vitalStatus"`
	Location    safety.Status           `json:"locationStatus"`
	Cattle      *store.LivestockBinding `json:"cattle"`
	LastSeen    time.Time               `json:"lastSeen"`
}

// Options configures the query service.
type Options struct {
	// ReportingInterval is the expected collar send cadence. A device whose
	// newest reading is older than twice this interval reports NO_DATA.
	ReportingInterval time.Duration

	Logger *slog.Logger
	// Now is overridable for tests.
	Now func() time.Time
}

// Service serves merged reads over the cache and store.
type Service struct {
	cache   *statecache.Cache
	storage Storage
	configs ConfigAdmin

	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds the query surface.
func NewService(cache *statecache.Cache, storage Storage, configs ConfigAdmin, opts Options) *Service {
	if opts.ReportingInterval <= 0 {
		opts.ReportingInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		cache:      cache,
		storage:    storage,
		configs:    configs,
		staleAfter: 2 * opts.ReportingInterval,
		logger:     opts.Logger,
		now:        opts.Now,
	}
}

// LatestSnapshot returns the merged latest view of every known device,
// sorted by device id. Cache entries win; devices only present in storage
// are filled in from their newest persisted reading. Stale devices report
// NO_DATA.
func (s *Service) LatestSnapshot(ctx context.Context) ([]DeviceSnapshot, error) {
	bindings, err := s.storage.ListBindings(ctx)
	if err != nil {
		s.logger.Warn("binding list unavailable, snapshots unattributed", "error", err)
		bindings = nil
	}
	byDevice := make(map[int]*store.LivestockBinding, len(bindings))
	for i := range bindings {
		if bindings[i].DeviceID != nil {
			byDevice[*bindings[i].DeviceID] = &bindings[i]
		}
	}

	snapshots := make(map[int]DeviceSnapshot)
	for deviceID, entry := range s.cache.Snapshot() {
		snapshots[deviceID] = s.fromCacheEntry(deviceID, entry, byDevice[deviceID])
	}

	stored, err := s.storage.LatestPerDevice(ctx)
	if err != nil {
		if len(snapshots) == 0 {
			return nil, errors.WrapTransient(err, "Service", "LatestSnapshot", "load persisted latest")
		}
		s.logger.Warn("persisted latest unavailable, serving cache only", "error", err)
	}
	for _, reading := range stored {
		if _, ok := snapshots[reading.DeviceID]; ok {
			continue
		}
		snapshots[reading.DeviceID] = s.fromStoredReading(reading, byDevice[reading.DeviceID])
	}

	out := make([]DeviceSnapshot, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// Latest returns the merged latest view of one device.
func (s *Service) Latest(ctx context.Context, deviceID int) (DeviceSnapshot, error) {
	binding, err := s.storage.BindingForDevice(ctx, deviceID)
	if err != nil {
		binding = nil
	}

	if entry, ok := s.cache.Get(deviceID); ok {
		return s.fromCacheEntry(deviceID, entry, binding), nil
	}

	reading, err := s.storage.LatestForDevice(ctx, deviceID)
	if err != nil {
		return DeviceSnapshot{}, errors.Wrap(err, "Service", "Latest",
			fmt.Sprintf("load latest for device %d", deviceID))
	}
	return s.fromStoredReading(*reading, binding), nil
}

func (s *Service) fromCacheEntry(deviceID int, entry statecache.Entry, binding *store.LivestockBinding) DeviceSnapshot {
	snap := DeviceSnapshot{
		DeviceID:    deviceID,
		HeartRate:   entry.Reading.HeartRate,
		Temperature: entry.Reading.Temperature,
		GPS:         entry.Reading.GPS,
		ZoneID:      entry.Reading.ZoneID,
		Status:      entry.Evaluation.Overall,
		Vitals:      entry.Evaluation.Vitals,
		Location:    entry.Evaluation.Location,
		Cattle:      binding,
		LastSeen:    entry.UpdatedAt,
	}
	if s.isStale(entry.UpdatedAt) {
		snap.Status = safety.StatusNoData
	}
	return snap
}

func (s *Service) fromStoredReading(reading store.StoredReading, binding *store.LivestockBinding) DeviceSnapshot {
	snap := DeviceSnapshot{
		DeviceID:    reading.DeviceID,
		HeartRate:   reading.HeartRate,
		Temperature: reading.Temperature,
		GPS:         reading.GPS,
		ZoneID:      reading.ZoneID,
		Status:      reading.Status,
		Cattle:      binding,
		LastSeen:    reading.Timestamp,
	}
	if s.isStale(reading.Timestamp) {
		snap.Status = safety.StatusNoData
	}
	return snap
}

func (s *Service) isStale(lastSeen time.Time) bool {
	return s.now().Sub(lastSeen) > s.staleAfter
}

// History returns persisted readings for a device within [from, to].
func (s *Service) History(ctx context.Context, deviceID int, from, to time.Time) ([]store.StoredReading, error) {
	if !to.After(from) {
		return nil, errors.WrapInvalid(errors.ErrValueOutOfRange, "Service", "History", "range end must follow start")
	}
	return s.storage.ReadingsInRange(ctx, deviceID, from, to)
}

// Aggregates returns bucketed averages for a device.
func (s *Service) Aggregates(ctx context.Context, deviceID int, granularity store.Granularity, from, to time.Time) ([]store.AggregateRow, error) {
	if !to.After(from) {
		return nil, errors.WrapInvalid(errors.ErrValueOutOfRange, "Service", "Aggregates", "range end must follow start")
	}
	return s.storage.Aggregates(ctx, deviceID, granularity, from, to)
}

// Notifications lists stored notifications, newest first. A zero limit
// returns all.
func (s *Service) Notifications(ctx context.Context, limit int64) ([]store.Notification, error) {
	return s.storage.ListNotifications(ctx, limit)
}

// Notification fetches one notification by id.
func (s *Service) Notification(ctx context.Context, id string) (*store.Notification, error) {
	return s.storage.GetNotification(ctx, id)
}

// UnreadCount reports the number of unread notifications.
func (s *Service) UnreadCount(ctx context.Context) (int64, error) {
	return s.storage.UnreadCount(ctx)
}

// MarkNotificationRead marks one notification read.
func (s *Service) MarkNotificationRead(ctx context.Context, id string) error {
	return s.storage.MarkRead(ctx, id)
}

// MarkAllNotificationsRead marks every notification read and reports how
// many changed.
func (s *Service) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	return s.storage.MarkAllRead(ctx)
}

// DeleteNotification removes one notification.
func (s *Service) DeleteNotification(ctx context.Context, id string) error {
	return s.storage.DeleteNotification(ctx, id)
}

// ClearNotifications removes all notifications and reports how many were
// deleted.
func (s *Service) ClearNotifications(ctx context.Context) (int64, error) {
	return s.storage.ClearNotifications(ctx)
}

// ReceiverConfigs lists the zone-to-receiver mapping owned by the CRUD
// layer.
func (s *Service) ReceiverConfigs(ctx context.Context) ([]store.ReceiverConfig, error) {
	return s.storage.ReceiverConfigs(ctx)
}

// Thresholds returns the current threshold snapshot.
func (s *Service) Thresholds() safety.ThresholdConfig {
	return s.configs.Thresholds()
}

// UpdateThresholds validates and stores a new threshold configuration.
// Last write wins.
func (s *Service) UpdateThresholds(ctx context.Context, cfg safety.ThresholdConfig) error {
	if err := validateThresholds(cfg); err != nil {
		return err
	}
	return s.configs.SetThresholds(ctx, cfg)
}

// validateThresholds rejects configurations whose resolved bounds are
// inverted or whose geofence margin is negative.
func validateThresholds(cfg safety.ThresholdConfig) error {
	hrMin, hrMax := cfg.HeartRateBounds()
	if hrMin >= hrMax {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Service", "UpdateThresholds",
			fmt.Sprintf("heart rate bounds inverted [%v, %v]", hrMin, hrMax))
	}
	tMin, tMax := cfg.TemperatureBounds()
	if tMin >= tMax {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Service", "UpdateThresholds",
			fmt.Sprintf("temperature bounds inverted [%v, %v]", tMin, tMax))
	}
	if cfg.Geofence.Threshold < 0 {
		return errors.WrapInvalid(errors.ErrValueOutOfRange, "Service", "UpdateThresholds",
			"geofence margin must not be negative")
	}
	return nil
}

// Zones returns the current zone snapshot.
func (s *Service) Zones() []safety.Zone {
	return s.configs.Zones()
}

// PutZone creates or replaces a zone by name.
func (s *Service) PutZone(ctx context.Context, zone safety.Zone) error {
	return s.configs.PutZone(ctx, zone)
}

// DeleteZone removes a zone by name.
func (s *Service) DeleteZone(ctx context.Context, name string) error {
	return s.configs.DeleteZone(ctx, name)
}
