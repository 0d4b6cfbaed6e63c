package thresholdstore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/natsclient"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
)

// fakeKV is an in-memory KV bucket.
type fakeKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	revision uint64
	watcher  *fakeWatcher
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(_ context.Context, key string) (*natsclient.KVEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, ok := f.data[key]
	if !ok {
		return nil, natsclient.ErrKVKeyNotFound
	}
	return &natsclient.KVEntry{Key: key, Value: value, Revision: f.revision}, nil
}

func (f *fakeKV) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.revision++
	f.data[key] = append([]byte(nil), value...)
	return f.revision, nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.data[key]; !ok {
		return natsclient.ErrKVKeyNotFound
	}
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Keys(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeKV) Watch(_ context.Context, _ string) (jetstream.KeyWatcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.watcher = &fakeWatcher{updates: make(chan jetstream.KeyValueEntry, 16)}
	return f.watcher, nil
}

// emit pushes a watch event as if another process wrote the bucket.
func (f *fakeKV) emit(entry jetstream.KeyValueEntry) {
	f.mu.Lock()
	w := f.watcher
	f.mu.Unlock()
	if w != nil {
		w.updates <- entry
	}
}

type fakeWatcher struct {
	updates chan jetstream.KeyValueEntry
	once    sync.Once
}

func (w *fakeWatcher) Updates() <-chan jetstream.KeyValueEntry { return w.updates }

func (w *fakeWatcher) Stop() error {
	w.once.Do(func() { close(w.updates) })
	return nil
}

type fakeEntry struct {
	key   string
	value []byte
	rev   uint64
	op    jetstream.KeyValueOp
}

func (e *fakeEntry) Bucket() string                  { return "fake" }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return e.rev }
func (e *fakeEntry) Created() time.Time              { return time.Now() }
func (e *fakeEntry) Delta() uint64                   { return 0 }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newStore(t *testing.T) (*Store, *fakeKV, *fakeKV) {
	t.Helper()
	thresholdKV := newFakeKV()
	zoneKV := newFakeKV()
	return New(thresholdKV, zoneKV, nil), thresholdKV, zoneKV
}

func TestLoadWithEmptyBucketsKeepsDefaults(t *testing.T) {
	s, _, _ := newStore(t)

	require.NoError(t, s.Load(context.Background()))

	min, max := s.Thresholds().HeartRateBounds()
	assert.Equal(t, safety.DefaultHeartRateMin, min)
	assert.Equal(t, safety.DefaultHeartRateMax, max)
	assert.Empty(t, s.Zones())
}

func TestSetThresholdsRoundTrip(t *testing.T) {
	s, thresholdKV, _ := newStore(t)
	ctx := context.Background()

	cfg := safety.ThresholdConfig{
		HeartRate:   safety.Range{Mode: "custom", Min: 55, Max: 95},
		Temperature: safety.Range{Mode: "hot"},
		Geofence:    safety.Geofence{Threshold: 10},
	}
	require.NoError(t, s.SetThresholds(ctx, cfg))

	// Local snapshot updated immediately
	assert.Equal(t, cfg, s.Thresholds())

	// And durably stored: a fresh store loads the same config
	s2 := New(thresholdKV, newFakeKV(), nil)
	require.NoError(t, s2.Load(ctx))
	assert.Equal(t, cfg, s2.Thresholds())
}

func TestPutZoneValidation(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	assert.Error(t, s.PutZone(ctx, safety.Zone{Type: safety.ZoneSafe, Radius: 50}))
	assert.Error(t, s.PutZone(ctx, safety.Zone{Name: "z", Type: "WEIRD", Radius: 50}))
	assert.Error(t, s.PutZone(ctx, safety.Zone{Name: "z", Type: safety.ZoneSafe, Radius: 0}))
}

func TestPutAndDeleteZone(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutZone(ctx, safety.Zone{
		Name: "Safe1", Type: safety.ZoneSafe,
		Latitude: 6.90, Longitude: 80.80, Radius: 50,
	}))
	require.NoError(t, s.PutZone(ctx, safety.Zone{
		Name: "Danger1", Type: safety.ZoneDanger,
		Latitude: 6.95, Longitude: 80.85, Radius: 100,
	}))

	zones := s.Zones()
	require.Len(t, zones, 2)
	// Sorted by name
	assert.Equal(t, "Danger1", zones[0].Name)
	assert.Equal(t, "Safe1", zones[1].Name)

	require.NoError(t, s.DeleteZone(ctx, "Danger1"))
	zones = s.Zones()
	require.Len(t, zones, 1)
	assert.Equal(t, "Safe1", zones[0].Name)

	// Unknown name is not an error
	assert.NoError(t, s.DeleteZone(ctx, "nope"))
}

func TestWatchAppliesRemoteThresholdUpdate(t *testing.T) {
	s, thresholdKV, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Watch(ctx))
	defer s.Stop()

	remote := safety.ThresholdConfig{
		HeartRate: safety.Range{Mode: "custom", Min: 40, Max: 120},
	}
	data := mustJSON(t, remote)
	thresholdKV.emit(&fakeEntry{key: ThresholdKey, value: data, rev: 2, op: jetstream.KeyValuePut})

	require.Eventually(t, func() bool {
		min, _ := s.Thresholds().HeartRateBounds()
		return min == 40
	}, time.Second, 5*time.Millisecond)
}

func TestWatchRebuildsZonesOnRemoteChange(t *testing.T) {
	s, _, zoneKV := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Load(ctx))
	require.NoError(t, s.Watch(ctx))
	defer s.Stop()

	// Simulate another process writing the bucket directly.
	zone := safety.Zone{Name: "Remote1", Type: safety.ZoneSafe, Latitude: 1, Longitude: 2, Radius: 30}
	_, err := zoneKV.Put(ctx, zone.Name, mustJSON(t, zone))
	require.NoError(t, err)
	zoneKV.emit(&fakeEntry{key: zone.Name, value: mustJSON(t, zone), rev: 1, op: jetstream.KeyValuePut})

	require.Eventually(t, func() bool {
		return len(s.Zones()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Remote1", s.Zones()[0].Name)
}

func TestConcurrentGetDuringSetIsNeverTorn(t *testing.T) {
	s, _, _ := newStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cfg := safety.ThresholdConfig{
				HeartRate: safety.Range{Mode: "custom", Min: float64(i), Max: float64(i) + 40},
			}
			_ = s.SetThresholds(ctx, cfg)
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
			cfg := s.Thresholds()
			if cfg.HeartRate.Mode == "custom" {
				// Min and Max always move together; a torn read would
				// break the fixed spread.
				assert.Equal(t, cfg.HeartRate.Min+40, cfg.HeartRate.Max)
			}
		}
	}
}
