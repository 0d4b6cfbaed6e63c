package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/store"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// fakeSink records persisted notifications.
type fakeSink struct {
	mu            sync.Mutex
	notifications []store.Notification
	failInsert    bool
}

func (f *fakeSink) InsertNotification(_ context.Context, n store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failInsert {
		return assert.AnError
	}
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeSink) all() []store.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Notification(nil), f.notifications...)
}

func testReading(deviceID int, hr float64) *telemetry.Reading {
	return &telemetry.Reading{
		DeviceID:    deviceID,
		HeartRate:   hr,
		Temperature: 38.0,
		ReceivedAt:  time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func evalWith(overall safety.Status) safety.Evaluation {
	eval := safety.Evaluation{Overall: overall, Vitals: safety.StatusSafe, Location: safety.StatusSafe}
	if overall == safety.StatusDanger {
		eval.Vitals = safety.StatusDanger
	}
	if overall == safety.StatusWarning {
		eval.Location = safety.StatusWarning
	}
	return eval
}

func newTestNotifier(t *testing.T, interval time.Duration) (*Notifier, *fakeSink, *fakeTransport) {
	t.Helper()
	sink := &fakeSink{}
	transport := newFakeTransport()
	publisher := newTestPublisher(t, transport, time.Hour)
	return NewNotifier(sink, publisher, interval, nil), sink, transport
}

func TestTransitionIntoDangerEmitsOneNotification(t *testing.T) {
	n, sink, transport := newTestNotifier(t, 0)
	ctx := context.Background()

	n.Observe(ctx, testReading(7, 65), evalWith(safety.StatusSafe), nil)
	require.Empty(t, sink.all())

	n.Observe(ctx, testReading(7, 110), evalWith(safety.StatusDanger), nil)

	notifications := sink.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, 7, notifications[0].DeviceID)
	assert.False(t, notifications[0].Read)
	assert.Equal(t, string(safety.StatusDanger), notifications[0].Status)
	assert.NotEmpty(t, notifications[0].ID)

	require.Len(t, transport.publishedSubjects(), 1)
	assert.Equal(t, SubjectNewNotification, transport.publishedSubjects()[0])

	var envelope Envelope
	require.NoError(t, json.Unmarshal([]byte(transport.publishedData()[0]), &envelope))
	assert.Equal(t, ChannelNewNotification, envelope.Channel)
}

func TestRepeatedDangerEmitsNothing(t *testing.T) {
	n, sink, _ := newTestNotifier(t, 0)
	ctx := context.Background()

	n.Observe(ctx, testReading(7, 110), evalWith(safety.StatusDanger), nil)
	n.Observe(ctx, testReading(7, 115), evalWith(safety.StatusDanger), nil)
	n.Observe(ctx, testReading(7, 120), evalWith(safety.StatusDanger), nil)

	assert.Len(t, sink.all(), 1)
}

func TestReturnToSafeEmitsNothingButRearms(t *testing.T) {
	n, sink, _ := newTestNotifier(t, 0)
	ctx := context.Background()

	n.Observe(ctx, testReading(7, 110), evalWith(safety.StatusDanger), nil)
	n.Observe(ctx, testReading(7, 70), evalWith(safety.StatusSafe), nil)
	require.Len(t, sink.all(), 1)

	status, ok := n.LastStatus(7)
	require.True(t, ok)
	assert.Equal(t, safety.StatusSafe, status)

	// Re-entering DANGER after recovery alerts again
	n.Observe(ctx, testReading(7, 110), evalWith(safety.StatusDanger), nil)
	assert.Len(t, sink.all(), 2)
}

func TestWarningToDangerIsATransition(t *testing.T) {
	n, sink, _ := newTestNotifier(t, 0)
	ctx := context.Background()

	n.Observe(ctx, testReading(7, 70), evalWith(safety.StatusWarning), nil)
	n.Observe(ctx, testReading(7, 110), evalWith(safety.StatusDanger), nil)

	notifications := sink.all()
	require.Len(t, notifications, 2)
	assert.Equal(t, string(safety.StatusWarning), notifications[0].Status)
	assert.Equal(t, string(safety.StatusDanger), notifications[1].Status)
}

func TestFirstObservationInDangerNotifies(t *testing.T) {
	n, sink, _ := newTestNotifier(t, 0)

	n.Observe(context.Background(), testReading(7, 110), evalWith(safety.StatusDanger), nil)
	assert.Len(t, sink.all(), 1)
}

func TestRateLimitSuppressesFlapping(t *testing.T) {
	n, sink, _ := newTestNotifier(t, time.Hour)
	ctx := context.Background()

	// Flap SAFE -> DANGER repeatedly; only the first alert passes the
	// limiter.
	for i := 0; i < 5; i++ {
		n.Observe(ctx, testReading(7, 110), evalWith(safety.StatusDanger), nil)
		n.Observe(ctx, testReading(7, 70), evalWith(safety.StatusSafe), nil)
	}

	assert.Len(t, sink.all(), 1)
}

func TestNotificationCarriesAttribution(t *testing.T) {
	n, sink, _ := newTestNotifier(t, 0)

	cattle := &store.LivestockBinding{AnimalID: "CT-42", Name: "Bella"}
	n.Observe(context.Background(), testReading(7, 110), evalWith(safety.StatusDanger), cattle)

	notifications := sink.all()
	require.Len(t, notifications, 1)
	assert.Equal(t, "CT-42", notifications[0].CattleID)
}

func TestPersistFailureStillPublishes(t *testing.T) {
	sink := &fakeSink{failInsert: true}
	transport := newFakeTransport()
	publisher := newTestPublisher(t, transport, time.Hour)
	n := NewNotifier(sink, publisher, 0, nil)

	n.Observe(context.Background(), testReading(7, 110), evalWith(safety.StatusDanger), nil)

	assert.Empty(t, sink.all())
	assert.Len(t, transport.publishedSubjects(), 1)
}

func TestNotificationMessageNamesDimension(t *testing.T) {
	r := testReading(7, 120)

	vitals := safety.Evaluation{Overall: safety.StatusDanger, Vitals: safety.StatusDanger, Location: safety.StatusSafe}
	assert.Contains(t, notificationMessage(r, vitals), "vital signs")

	location := safety.Evaluation{Overall: safety.StatusDanger, Vitals: safety.StatusSafe, Location: safety.StatusDanger}
	assert.Contains(t, notificationMessage(r, location), "danger zone")

	warning := safety.Evaluation{Overall: safety.StatusWarning, Vitals: safety.StatusSafe, Location: safety.StatusWarning}
	assert.Contains(t, notificationMessage(r, warning), "unmonitored")
}
