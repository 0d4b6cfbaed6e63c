// Package store is the MongoDB persistence gateway: append-only reading
// history, durable notifications, and read access to livestock bindings.
package store

import (
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// Collection names.
const (
	readingsCollection      = "sensor_data"
	notificationsCollection = "notifications"
	livestockCollection     = "cattle"
	receiverCollection      = "receiver_configs"
)

// StoredReading is the persisted form of an evaluated reading.
type StoredReading struct {
	DeviceID    int                    `bson:"deviceId" json:"deviceId"`
	HeartRate   float64                `bson:"heartRate" json:"heartRate"`
	Temperature float64                `bson:"temperature" json:"temperature"`
	GPS         *telemetry.GPSLocation `bson:"gpsLocation,omitempty" json:"gpsLocation,omitempty"`
	ZoneID      string                 `bson:"zoneId,omitempty" json:"zoneId,omitempty"`
	Status      safety.Status          `bson:"status" json:"status"`
	Timestamp   time.Time              `bson:"timestamp" json:"timestamp"`
}

// NewStoredReading builds the persisted record from a reading and its
// evaluation.
func NewStoredReading(r telemetry.Reading, eval safety.Evaluation) StoredReading {
	return StoredReading{
		DeviceID:    r.DeviceID,
		HeartRate:   r.HeartRate,
		Temperature: r.Temperature,
		GPS:         r.GPS,
		ZoneID:      r.ZoneID,
		Status:      eval.Overall,
		Timestamp:   r.ReceivedAt,
	}
}

// Notification is a durable alert raised on a transition into WARNING or
// DANGER. It outlives the live stream and carries read/unread state.
type Notification struct {
	ID        string    `bson:"_id" json:"id"`
	CattleID  string    `bson:"cattleId,omitempty" json:"cattleId,omitempty"`
	DeviceID  int       `bson:"deviceId" json:"deviceId"`
	Message   string    `bson:"message" json:"message"`
	Status    string    `bson:"status" json:"status"`
	Read      bool      `bson:"read" json:"read"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// LivestockBinding associates a collar device with an animal. Owned by the
// registry collaborator; the core only reads it for attribution.
type LivestockBinding struct {
	AnimalID string `bson:"animalId" json:"animalId"`
	Name     string `bson:"name,omitempty" json:"name,omitempty"`
	DeviceID *int   `bson:"deviceId,omitempty" json:"deviceId,omitempty"`
}

// ReceiverConfig maps a zone to its gateway receiver. CRUD-owned; exposed
// here as a read model.
type ReceiverConfig struct {
	ZoneName   string `bson:"zoneName" json:"zoneName"`
	ZoneID     string `bson:"zoneId" json:"zoneId"`
	ReceiverID string `bson:"receiverId" json:"receiverId"`
}

// Granularity selects the aggregate bucket width.
type Granularity string

const (
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// truncUnit maps a granularity to the $dateTrunc unit.
func (g Granularity) truncUnit() (string, bool) {
	switch g {
	case GranularityHourly:
		return "hour", true
	case GranularityDaily:
		return "day", true
	case GranularityWeekly:
		return "week", true
	case GranularityMonthly:
		return "month", true
	default:
		return "", false
	}
}

// AggregateRow is one bucket of averaged vitals. Averages are nil when the
// bucket holds no valid (positive) samples.
type AggregateRow struct {
	Bucket         time.Time `bson:"bucket" json:"bucket"`
	AvgHeartRate   *float64  `bson:"avgHeartRate" json:"avgHeartRate"`
	AvgTemperature *float64  `bson:"avgTemperature" json:"avgTemperature"`
	Count          int       `bson:"count" json:"count"`
}
