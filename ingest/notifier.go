package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/store"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// NotificationSink persists notifications; satisfied by *store.Store.
type NotificationSink interface {
	InsertNotification(ctx context.Context, n store.Notification) error
}

// Notifier turns status transitions into durable notifications. A device
// entering WARNING or DANGER emits exactly one notification; staying there
// emits none; returning to SAFE emits none but rearms the transition.
// Per-device rate limiting caps alert storms from a flapping sensor.
type Notifier struct {
	sink      NotificationSink
	publisher *Publisher
	logger    *slog.Logger

	mu       sync.Mutex
	last     map[int]safety.Status
	limiters map[int]*rate.Limiter
	interval time.Duration
}

// NewNotifier creates a Notifier. interval is the minimum gap between
// notifications for one device; zero disables rate limiting.
func NewNotifier(sink NotificationSink, publisher *Publisher, interval time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sink:      sink,
		publisher: publisher,
		logger:    logger,
		last:      make(map[int]safety.Status),
		limiters:  make(map[int]*rate.Limiter),
		interval:  interval,
	}
}

// Observe records the device's new status and emits a notification if this
// reading transitions it into WARNING or DANGER. It reports whether a
// notification was emitted.
func (n *Notifier) Observe(ctx context.Context, reading *telemetry.Reading, eval safety.Evaluation, cattle *store.LivestockBinding) bool {
	n.mu.Lock()
	prev, seen := n.last[reading.DeviceID]
	n.last[reading.DeviceID] = eval.Overall

	alerting := eval.Overall == safety.StatusWarning || eval.Overall == safety.StatusDanger
	transition := alerting && (!seen || prev != eval.Overall)

	var allowed bool
	if transition {
		allowed = n.allowLocked(reading.DeviceID)
	}
	n.mu.Unlock()

	if !transition {
		return false
	}
	if !allowed {
		n.logger.Debug("notification suppressed by rate limit",
			"device", reading.DeviceID, "status", eval.Overall)
		return false
	}

	n.emit(ctx, reading, eval, cattle)
	return true
}

// allowLocked consults the device's rate limiter. Callers hold n.mu.
func (n *Notifier) allowLocked(deviceID int) bool {
	if n.interval <= 0 {
		return true
	}
	limiter, ok := n.limiters[deviceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(n.interval), 1)
		n.limiters[deviceID] = limiter
	}
	return limiter.Allow()
}

func (n *Notifier) emit(ctx context.Context, reading *telemetry.Reading, eval safety.Evaluation, cattle *store.LivestockBinding) {
	notification := store.Notification{
		ID:        uuid.NewString(),
		DeviceID:  reading.DeviceID,
		Message:   notificationMessage(reading, eval),
		Status:    string(eval.Overall),
		Read:      false,
		Timestamp: reading.ReceivedAt,
	}
	if cattle != nil {
		notification.CattleID = cattle.AnimalID
	}

	if err := n.sink.InsertNotification(ctx, notification); err != nil {
		n.logger.Error("failed to persist notification",
			"device", reading.DeviceID, "error", err)
		// Still publish: subscribers see the alert even if durability
		// lagged.
	}

	envelope, err := NewEnvelope(ChannelNewNotification, notification)
	if err != nil {
		n.logger.Error("failed to encode notification", "error", err)
		return
	}
	data, err := marshalEnvelope(envelope)
	if err != nil {
		n.logger.Error("failed to encode notification envelope", "error", err)
		return
	}

	n.publisher.Publish(ctx, SubjectNewNotification, data)
	n.logger.Info("notification emitted",
		"device", reading.DeviceID, "status", eval.Overall)
}

// notificationMessage names the dimension that tripped, for the operator.
func notificationMessage(reading *telemetry.Reading, eval safety.Evaluation) string {
	subject := fmt.Sprintf("Device %d", reading.DeviceID)

	switch {
	case eval.Vitals == safety.StatusDanger && eval.Location == safety.StatusDanger:
		return fmt.Sprintf("%s: vital signs out of range and inside a danger zone", subject)
	case eval.Vitals == safety.StatusDanger:
		return fmt.Sprintf("%s: vital signs out of range (heart rate %.0f bpm, temperature %.1f C)",
			subject, reading.HeartRate, reading.Temperature)
	case eval.Location == safety.StatusDanger:
		return fmt.Sprintf("%s: inside a danger zone", subject)
	default:
		return fmt.Sprintf("%s: location unmonitored or outside all known zones", subject)
	}
}

// LastStatus returns the last observed overall status for a device.
func (n *Notifier) LastStatus(deviceID int) (safety.Status, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.last[deviceID]
	return s, ok
}
