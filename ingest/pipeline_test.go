package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/statecache"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/store"
)

// fakeSubscriber captures the handler so tests can inject deliveries.
type fakeSubscriber struct {
	mu      sync.Mutex
	handler func(context.Context, string, []byte)
}

func (f *fakeSubscriber) SubscribeMsg(_ context.Context, _ string,
	handler func(context.Context, string, []byte)) error {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) deliver(subject string, data []byte) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	handler(context.Background(), subject, data)
}

// fakePersister records appended readings and serves bindings. A non-nil
// appendGate stalls every append until the gate closes.
type fakePersister struct {
	mu            sync.Mutex
	readings      []store.StoredReading
	notifications []store.Notification
	bindings      map[int]*store.LivestockBinding
	failAppend    bool
	appendGate    chan struct{}
}

func newFakePersister() *fakePersister {
	return &fakePersister{bindings: make(map[int]*store.LivestockBinding)}
}

func (f *fakePersister) AppendReading(_ context.Context, reading store.StoredReading) error {
	f.mu.Lock()
	gate := f.appendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return assert.AnError
	}
	f.readings = append(f.readings, reading)
	return nil
}

func (f *fakePersister) InsertNotification(_ context.Context, n store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakePersister) BindingForDevice(_ context.Context, deviceID int) (*store.LivestockBinding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bindings[deviceID], nil
}

func (f *fakePersister) storedReadings() []store.StoredReading {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.StoredReading(nil), f.readings...)
}

func (f *fakePersister) storedNotifications() []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Notification(nil), f.notifications...)
}

// fakeConfigs serves a fixed threshold and zone snapshot.
type fakeConfigs struct {
	thresholds safety.ThresholdConfig
	zones      []safety.Zone
}

func (f *fakeConfigs) Thresholds() safety.ThresholdConfig { return f.thresholds }
func (f *fakeConfigs) Zones() []safety.Zone               { return f.zones }

type pipelineFixture struct {
	pipeline   *Pipeline
	subscriber *fakeSubscriber
	persister  *fakePersister
	transport  *fakeTransport
	cache      *statecache.Cache
	cancel     context.CancelFunc
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	subscriber := &fakeSubscriber{}
	persister := newFakePersister()
	transport := newFakeTransport()
	cache := statecache.New()

	configs := &fakeConfigs{
		thresholds: safety.ThresholdConfig{
			HeartRate:   safety.Range{Mode: "custom", Min: 60, Max: 100},
			Temperature: safety.Range{Mode: "custom", Min: 36, Max: 39},
		},
		zones: []safety.Zone{
			{Name: "Safe1", Type: safety.ZoneSafe, Latitude: 6.90, Longitude: 80.80, Radius: 50},
		},
	}

	publisher, err := NewPublisher(transport, PublisherOptions{QueueCapacity: 64, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	notifier := NewNotifier(persister, publisher, 0, nil)

	pipeline := NewPipeline(subscriber, persister, configs,
		safety.NewEvaluator(safety.Policy{}), cache, publisher, notifier,
		Options{Shards: 4, QueueSize: 64, DownstreamTimeout: time.Second})

	require.NoError(t, pipeline.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pipeline.Start(ctx))
	t.Cleanup(func() {
		_ = pipeline.Stop(time.Second)
		cancel()
	})

	return &pipelineFixture{
		pipeline:   pipeline,
		subscriber: subscriber,
		persister:  persister,
		transport:  transport,
		cache:      cache,
		cancel:     cancel,
	}
}

func sensorEvents(t *testing.T, transport *fakeTransport) []SensorDataEvent {
	t.Helper()
	var events []SensorDataEvent
	for i, subject := range transport.publishedSubjects() {
		if subject != SubjectSensorData {
			continue
		}
		var envelope Envelope
		require.NoError(t, json.Unmarshal([]byte(transport.publishedData()[i]), &envelope))
		require.Equal(t, ChannelSensorData, envelope.Channel)

		var event SensorDataEvent
		require.NoError(t, json.Unmarshal(envelope.Data, &event))
		events = append(events, event)
	}
	return events
}

func TestPipelineSafeReading(t *testing.T) {
	f := newPipelineFixture(t)

	f.subscriber.deliver("zone.z1.7.data",
		[]byte(`{"i":"7","h":"65","t":"38.2","la":"6.90","lo":"80.80"}`))

	require.Eventually(t, func() bool {
		_, ok := f.cache.Get(7)
		return ok
	}, time.Second, 5*time.Millisecond)

	entry, _ := f.cache.Get(7)
	assert.Equal(t, safety.StatusSafe, entry.Evaluation.Overall)
	assert.Equal(t, "z1", entry.Reading.ZoneID)

	require.Eventually(t, func() bool {
		return len(f.persister.storedReadings()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, safety.StatusSafe, f.persister.storedReadings()[0].Status)

	require.Eventually(t, func() bool {
		return len(sensorEvents(t, f.transport)) == 1
	}, time.Second, 5*time.Millisecond)

	// SAFE emits no notification
	assert.Empty(t, f.persister.storedNotifications())
}

func TestPipelineDangerEmitsNotification(t *testing.T) {
	f := newPipelineFixture(t)

	f.subscriber.deliver("zone.z1.7.data",
		[]byte(`{"i":"7","h":"65","t":"38.2","la":"6.90","lo":"80.80"}`))
	f.subscriber.deliver("zone.z1.7.data",
		[]byte(`{"i":"7","h":"110","t":"38.2","la":"6.90","lo":"80.80"}`))

	require.Eventually(t, func() bool {
		return len(f.persister.storedNotifications()) == 1
	}, time.Second, 5*time.Millisecond)

	notification := f.persister.storedNotifications()[0]
	assert.Equal(t, 7, notification.DeviceID)
	assert.False(t, notification.Read)
	assert.Equal(t, string(safety.StatusDanger), notification.Status)

	entry, ok := f.cache.Get(7)
	require.True(t, ok)
	assert.Equal(t, safety.StatusDanger, entry.Evaluation.Overall)
	assert.Equal(t, 110.0, entry.Reading.HeartRate)
}

func TestPipelineUnboundDeviceHasNullAttribution(t *testing.T) {
	f := newPipelineFixture(t)

	f.subscriber.deliver("zone.z1.9.data",
		[]byte(`{"i":"9","h":"65","t":"38.2"}`))

	require.Eventually(t, func() bool {
		return len(sensorEvents(t, f.transport)) == 1
	}, time.Second, 5*time.Millisecond)

	event := sensorEvents(t, f.transport)[0]
	assert.Nil(t, event.Cattle)

	// Still cached and persisted despite the missing binding
	_, ok := f.cache.Get(9)
	assert.True(t, ok)
	assert.Len(t, f.persister.storedReadings(), 1)
}

func TestPipelineBoundDeviceCarriesAttribution(t *testing.T) {
	f := newPipelineFixture(t)
	deviceID := 7
	f.persister.bindings[7] = &store.LivestockBinding{AnimalID: "CT-42", Name: "Bella", DeviceID: &deviceID}

	f.subscriber.deliver("zone.z1.7.data", []byte(`{"i":"7","h":"65","t":"38.2"}`))

	require.Eventually(t, func() bool {
		return len(sensorEvents(t, f.transport)) == 1
	}, time.Second, 5*time.Millisecond)

	event := sensorEvents(t, f.transport)[0]
	require.NotNil(t, event.Cattle)
	assert.Equal(t, "CT-42", event.Cattle.AnimalID)
}

func TestPipelineDiscardsMalformedPayload(t *testing.T) {
	f := newPipelineFixture(t)

	f.subscriber.deliver("zone.z1.7.data", []byte(`{"h":"65"}`))
	f.subscriber.deliver("bad.subject", []byte(`{"i":"7","h":"65","t":"38"}`))

	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, f.cache.Len())
	assert.Empty(t, f.persister.storedReadings())
	assert.Empty(t, sensorEvents(t, f.transport))
}

func TestPipelinePersistFailureDoesNotBlockFanout(t *testing.T) {
	f := newPipelineFixture(t)
	f.persister.failAppend = true

	f.subscriber.deliver("zone.z1.7.data", []byte(`{"i":"7","h":"65","t":"38.2"}`))

	require.Eventually(t, func() bool {
		return len(sensorEvents(t, f.transport)) == 1
	}, time.Second, 5*time.Millisecond)

	// Cache updated even though persistence failed
	_, ok := f.cache.Get(7)
	assert.True(t, ok)
}

func TestPipelinePerDeviceOrdering(t *testing.T) {
	f := newPipelineFixture(t)

	const count = 20
	for i := 0; i < count; i++ {
		payload := fmt.Sprintf(`{"i":"7","h":"%d","t":"38.0"}`, 60+i)
		f.subscriber.deliver("zone.z1.7.data", []byte(payload))
	}

	require.Eventually(t, func() bool {
		return len(f.persister.storedReadings()) == count
	}, 2*time.Second, 5*time.Millisecond)

	readings := f.persister.storedReadings()
	for i, r := range readings {
		assert.Equal(t, float64(60+i), r.HeartRate, "reading %d out of order", i)
	}

	entry, _ := f.cache.Get(7)
	assert.Equal(t, float64(60+count-1), entry.Reading.HeartRate)
}

func TestPipelineBackpressureAbsorbsBurst(t *testing.T) {
	subscriber := &fakeSubscriber{}
	persister := newFakePersister()
	persister.appendGate = make(chan struct{})
	transport := newFakeTransport()

	publisher, err := NewPublisher(transport, PublisherOptions{QueueCapacity: 64, FlushInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	pipeline := NewPipeline(subscriber, persister, &fakeConfigs{},
		safety.NewEvaluator(safety.Policy{}), statecache.New(), publisher,
		NewNotifier(persister, publisher, 0, nil),
		Options{Shards: 1, QueueSize: 1, DownstreamTimeout: time.Second, EnqueueWait: 5 * time.Second})

	require.NoError(t, pipeline.Initialize())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pipeline.Start(ctx))
	t.Cleanup(func() {
		_ = pipeline.Stop(time.Second)
		cancel()
	})

	// One shard with a one-slot queue and a stalled persister: the burst
	// exceeds capacity, so deliveries must block rather than drop.
	const burst = 6
	var wg sync.WaitGroup
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			payload := fmt.Sprintf(`{"i":"7","h":"%d","t":"38.0"}`, 60+seq)
			subscriber.deliver("zone.z1.7.data", []byte(payload))
		}(i)
	}

	// Let the deliveries pile up against the gated persister, then release.
	time.Sleep(50 * time.Millisecond)
	close(persister.appendGate)
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(persister.storedReadings()) == burst
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pipeline.Health().ErrorCount, "no delivery should be dropped")
}

func TestPipelineCattleListUpdatedHook(t *testing.T) {
	f := newPipelineFixture(t)

	err := f.pipeline.PublishCattleListUpdated(context.Background(), CattleListUpdatedEvent{
		Action:   "removed",
		CattleID: "CT-42",
	})
	require.NoError(t, err)

	subjects := f.transport.publishedSubjects()
	require.Len(t, subjects, 1)
	assert.Equal(t, SubjectCattleListUpdated, subjects[0])

	assert.Error(t, f.pipeline.PublishCattleListUpdated(context.Background(), CattleListUpdatedEvent{}))
}

func TestPipelineLifecycle(t *testing.T) {
	subscriber := &fakeSubscriber{}
	persister := newFakePersister()
	transport := newFakeTransport()
	publisher, err := NewPublisher(transport, PublisherOptions{})
	require.NoError(t, err)

	pipeline := NewPipeline(subscriber, persister, &fakeConfigs{},
		safety.NewEvaluator(safety.Policy{}), statecache.New(), publisher,
		NewNotifier(persister, publisher, 0, nil), Options{})

	assert.Equal(t, "ingest-pipeline", pipeline.Meta().Name)

	require.NoError(t, pipeline.Initialize())
	assert.Error(t, pipeline.Initialize())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pipeline.Start(ctx))
	assert.Error(t, pipeline.Start(ctx))
	assert.True(t, pipeline.Health().Healthy)

	require.NoError(t, pipeline.Stop(time.Second))
	assert.Error(t, pipeline.Stop(time.Second))
	assert.False(t, pipeline.Health().Healthy)
}
