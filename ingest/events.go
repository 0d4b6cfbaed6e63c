package ingest

import (
	"encoding/json"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/store"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// Channel names carried in event envelopes; subscribers route on these.
const (
	ChannelSensorData        = "sensor_data"
	ChannelNewNotification   = "new_notification"
	ChannelCattleListUpdated = "cattle_list_updated"
)

// Envelope wraps every enriched event with its channel tag.
type Envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// NewEnvelope builds an envelope around a payload.
func NewEnvelope(channel string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Channel: channel, Data: data}, nil
}

// marshalEnvelope encodes an envelope for the wire.
func marshalEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// SensorDataEvent is the live per-reading event. Cattle attribution is nil
// when the device has no registered binding.
type SensorDataEvent struct {
	DeviceID    int                     `json:"deviceId"`
	HeartRate   float64                 `json:"heartRate"`
	Temperature float64                 `json:"temperature"`
	GPS         *telemetry.GPSLocation  `json:"gpsLocation,omitempty"`
	ZoneID      string                  `json:"zoneId,omitempty"`
	Status      safety.Status           `json:"status"`
	Vitals      safety.Status           `json:"vitalStatus"`
	Location    safety.Status           `json:"locationStatus"`
	Cattle      *store.LivestockBinding `json:"cattle"`
	Timestamp   time.Time               `json:"timestamp"`
}

// newSensorDataEvent assembles the live event for one evaluated reading.
func newSensorDataEvent(r *telemetry.Reading, eval safety.Evaluation, cattle *store.LivestockBinding) SensorDataEvent {
	return SensorDataEvent{
		DeviceID:    r.DeviceID,
		HeartRate:   r.HeartRate,
		Temperature: r.Temperature,
		GPS:         r.GPS,
		ZoneID:      r.ZoneID,
		Status:      eval.Overall,
		Vitals:      eval.Vitals,
		Location:    eval.Location,
		Cattle:      cattle,
		Timestamp:   r.ReceivedAt,
	}
}

// CattleListUpdatedEvent signals that the registry collaborator changed a
// livestock binding.
type CattleListUpdatedEvent struct {
	Action   string                  `json:"action"` // "added" or "removed"
	Cattle   *store.LivestockBinding `json:"cattle,omitempty"`
	CattleID string                  `json:"cattleId,omitempty"`
}
