// Package telemetry defines the canonical Reading model and the Normalizer
// that converts raw collar payloads into Readings.
package telemetry

import (
	"time"
)

// GPSLocation is a WGS84 coordinate pair reported by a collar.
type GPSLocation struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// Reading is one normalized telemetry sample. It is immutable once created;
// a newer sample for the same device supersedes it rather than mutating it.
type Reading struct {
	DeviceID    int          `json:"deviceId" bson:"deviceId"`
	HeartRate   float64      `json:"heartRate" bson:"heartRate"`
	Temperature float64      `json:"temperature" bson:"temperature"`
	GPS         *GPSLocation `json:"gpsLocation,omitempty" bson:"gpsLocation,omitempty"`
	ZoneID      string       `json:"zoneId,omitempty" bson:"zoneId,omitempty"`
	ReceivedAt  time.Time    `json:"receivedAt" bson:"receivedAt"`
}

// HasLocation reports whether the reading carries a usable coordinate pair.
func (r *Reading) HasLocation() bool {
	return r.GPS != nil
}
