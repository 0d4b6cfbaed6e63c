// Package thresholdstore keeps the global ThresholdConfig and the Zone set
// in JetStream KV buckets, with local snapshots swapped atomically so
// evaluation never observes a half-updated configuration.
package thresholdstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/natsclient"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
)

// ThresholdKey is the singleton key for the global threshold document.
const ThresholdKey = "global"

// KV is the bucket surface the store needs. *natsclient.KVStore satisfies
// it; tests substitute an in-memory fake.
type KV interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Watch(ctx context.Context, pattern string) (jetstream.KeyWatcher, error)
}

// Store provides read-mostly access to thresholds and zones. Reads are
// lock-free snapshot loads; writes go to KV (last write wins) and update
// the snapshot immediately rather than waiting for the watch echo.
type Store struct {
	thresholdKV KV
	zoneKV      KV
	logger      *slog.Logger

	thresholds atomic.Value // safety.ThresholdConfig
	zones      atomic.Value // []safety.Zone

	zoneMu sync.Mutex // serializes zone snapshot rebuilds

	watchers []jetstream.KeyWatcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Store over the two buckets. Snapshots start at the
// defaults; call Load before serving evaluations.
func New(thresholdKV, zoneKV KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		thresholdKV: thresholdKV,
		zoneKV:      zoneKV,
		logger:      logger,
	}
	s.thresholds.Store(safety.DefaultThresholds())
	s.zones.Store([]safety.Zone{})
	return s
}

// Thresholds returns the current threshold snapshot.
func (s *Store) Thresholds() safety.ThresholdConfig {
	return s.thresholds.Load().(safety.ThresholdConfig)
}

// Zones returns the current zone snapshot. Callers must not mutate it.
func (s *Store) Zones() []safety.Zone {
	return s.zones.Load().([]safety.Zone)
}

// Load reads both buckets into the local snapshots. A missing threshold
// document is not an error; the defaults stay in place.
func (s *Store) Load(ctx context.Context) error {
	entry, err := s.thresholdKV.Get(ctx, ThresholdKey)
	switch {
	case err == nil:
		var cfg safety.ThresholdConfig
		if jsonErr := json.Unmarshal(entry.Value, &cfg); jsonErr != nil {
			return errors.WrapInvalid(jsonErr, "ThresholdStore", "Load", "decode thresholds")
		}
		s.thresholds.Store(cfg)
	case natsclient.IsKVNotFoundError(err):
		s.logger.Info("no stored thresholds, using defaults")
	default:
		return errors.WrapTransient(err, "ThresholdStore", "Load", "read thresholds")
	}

	if err := s.reloadZones(ctx); err != nil {
		return err
	}

	return nil
}

// reloadZones rebuilds the zone snapshot from every key in the zone bucket.
func (s *Store) reloadZones(ctx context.Context) error {
	s.zoneMu.Lock()
	defer s.zoneMu.Unlock()

	keys, err := s.zoneKV.Keys(ctx)
	if err != nil {
		return errors.WrapTransient(err, "ThresholdStore", "reloadZones", "list zones")
	}

	zones := make([]safety.Zone, 0, len(keys))
	for _, key := range keys {
		entry, err := s.zoneKV.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue // deleted between Keys and Get
			}
			return errors.WrapTransient(err, "ThresholdStore", "reloadZones", "read zone")
		}

		var zone safety.Zone
		if err := json.Unmarshal(entry.Value, &zone); err != nil {
			s.logger.Warn("skipping undecodable zone", "key", key, "error", err)
			continue
		}
		zones = append(zones, zone)
	}

	sort.Slice(zones, func(i, j int) bool { return zones[i].Name < zones[j].Name })
	s.zones.Store(zones)
	return nil
}

// SetThresholds stores a full threshold document. Last write wins; there is
// no optimistic concurrency on the singleton.
func (s *Store) SetThresholds(ctx context.Context, cfg safety.ThresholdConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapInvalid(err, "ThresholdStore", "SetThresholds", "encode thresholds")
	}

	if _, err := s.thresholdKV.Put(ctx, ThresholdKey, data); err != nil {
		return errors.WrapTransient(err, "ThresholdStore", "SetThresholds", "store thresholds")
	}

	s.thresholds.Store(cfg)
	return nil
}

// PutZone creates or replaces a zone, keyed by its unique name.
func (s *Store) PutZone(ctx context.Context, zone safety.Zone) error {
	if zone.Name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: zone name", errors.ErrMissingField),
			"ThresholdStore", "PutZone", "validate zone")
	}
	if zone.Type != safety.ZoneSafe && zone.Type != safety.ZoneDanger {
		return errors.WrapInvalid(
			fmt.Errorf("%w: zone type %q", errors.ErrValueOutOfRange, zone.Type),
			"ThresholdStore", "PutZone", "validate zone")
	}
	if zone.Radius <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: radius %v", errors.ErrValueOutOfRange, zone.Radius),
			"ThresholdStore", "PutZone", "validate zone")
	}

	data, err := json.Marshal(zone)
	if err != nil {
		return errors.WrapInvalid(err, "ThresholdStore", "PutZone", "encode zone")
	}

	if _, err := s.zoneKV.Put(ctx, zone.Name, data); err != nil {
		return errors.WrapTransient(err, "ThresholdStore", "PutZone", "store zone")
	}

	return s.reloadZones(ctx)
}

// DeleteZone removes a zone by name. Deleting an unknown zone is not an
// error.
func (s *Store) DeleteZone(ctx context.Context, name string) error {
	if err := s.zoneKV.Delete(ctx, name); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "ThresholdStore", "DeleteZone", "delete zone")
	}
	return s.reloadZones(ctx)
}

// Watch starts KV watchers that keep the snapshots current when another
// process writes the buckets. Stop cancels them.
func (s *Store) Watch(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	tw, err := s.thresholdKV.Watch(watchCtx, ThresholdKey)
	if err != nil {
		cancel()
		return errors.WrapTransient(err, "ThresholdStore", "Watch", "watch thresholds")
	}
	zw, err := s.zoneKV.Watch(watchCtx, ">")
	if err != nil {
		_ = tw.Stop()
		cancel()
		return errors.WrapTransient(err, "ThresholdStore", "Watch", "watch zones")
	}
	s.watchers = []jetstream.KeyWatcher{tw, zw}

	s.wg.Add(2)
	go s.runThresholdWatch(watchCtx, tw)
	go s.runZoneWatch(watchCtx, zw)

	return nil
}

func (s *Store) runThresholdWatch(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue // end of initial replay marker
			}
			if entry.Operation() != jetstream.KeyValuePut {
				continue
			}

			var cfg safety.ThresholdConfig
			if err := json.Unmarshal(entry.Value(), &cfg); err != nil {
				s.logger.Warn("ignoring undecodable threshold update", "error", err)
				continue
			}
			s.thresholds.Store(cfg)
			s.logger.Debug("thresholds updated from KV", "revision", entry.Revision())
		}
	}
}

func (s *Store) runZoneWatch(ctx context.Context, watcher jetstream.KeyWatcher) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}

			// Any put or delete invalidates the snapshot; rebuild from
			// the bucket rather than patching incrementally.
			if err := s.reloadZones(ctx); err != nil {
				s.logger.Warn("zone snapshot reload failed", "error", err)
			}
		}
	}
}

// Stop halts the watchers and waits for their goroutines to exit.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	for _, w := range s.watchers {
		_ = w.Stop()
	}
	s.wg.Wait()
}
