// Package statecache holds the most recent evaluated reading per device.
//
// The cache is the fast path for "where is every animal right now" queries.
// It is intentionally unbounded and never evicts: the key set equals the
// devices seen since process start, and durable history lives in the store.
package statecache

import (
	"sync"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// Entry is one device's latest state. Entries are immutable snapshots;
// Upsert replaces the whole value, never mutates in place.
type Entry struct {
	Reading    telemetry.Reading `json:"reading"`
	Evaluation safety.Evaluation `json:"evaluation"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Cache is the latest-state store keyed by device ID. Entries are stored
// as immutable values in a sync.Map, so a replace on one device never
// contends with reads or writes on another.
type Cache struct {
	entries sync.Map // int -> Entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{}
}

// Upsert replaces the entry for the reading's device. It is the only
// mutator; later calls for the same device win.
func (c *Cache) Upsert(reading telemetry.Reading, eval safety.Evaluation) {
	c.entries.Store(reading.DeviceID, Entry{
		Reading:    reading,
		Evaluation: eval,
		UpdatedAt:  reading.ReceivedAt,
	})
}

// Get returns the entry for a device, or false if the device has not
// reported since process start.
func (c *Cache) Get(deviceID int) (Entry, bool) {
	value, ok := c.entries.Load(deviceID)
	if !ok {
		return Entry{}, false
	}
	return value.(Entry), true
}

// Snapshot returns a copy of every entry. Each entry is internally
// consistent; upserts racing the walk may or may not be included.
func (c *Cache) Snapshot() map[int]Entry {
	out := make(map[int]Entry)
	c.entries.Range(func(key, value any) bool {
		out[key.(int)] = value.(Entry)
		return true
	})
	return out
}

// Len returns the number of devices seen since start.
func (c *Cache) Len() int {
	count := 0
	c.entries.Range(func(any, any) bool {
		count++
		return true
	})
	return count
}
