package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

// rawPayload mirrors the short-keyed wire format emitted by the collar
// firmware. Values arrive as JSON strings ("t":"38.20") but some gateways
// re-encode them as native numbers, so every field accepts both.
type rawPayload struct {
	DeviceID    *flexNumber `json:"i"`
	HeartRate   *flexNumber `json:"h"`
	Temperature *flexNumber `json:"t"`
	Latitude    *flexNumber `json:"la"`
	Longitude   *flexNumber `json:"lo"`
}

// flexNumber decodes a JSON number whether it is quoted or not.
type flexNumber float64

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("empty numeric value")
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return fmt.Errorf("empty numeric string")
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		// ParseFloat accepts "NaN" and "Inf"; neither is a measurement.
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value: %q", s)
		}
		*f = flexNumber(v)
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("non-finite value: %v", v)
	}
	*f = flexNumber(v)
	return nil
}

// Normalizer converts raw transport payloads into canonical Readings.
// It is stateless and safe for concurrent use.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize parses a raw payload into a Reading. The zone identifier comes
// from the transport subject, not the payload. Rejections are returned as
// invalid-class errors; no partial Reading is produced.
func (n *Normalizer) Normalize(zoneID string, data []byte, receivedAt time.Time) (*Reading, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidPayload,
			"Normalizer", "Normalize", "parse empty payload")
	}

	var raw rawPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Normalizer", "Normalize", "decode payload")
	}

	if raw.DeviceID == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: device identifier", errors.ErrMissingField),
			"Normalizer", "Normalize", "validate payload")
	}
	deviceID := float64(*raw.DeviceID)
	if deviceID != math.Trunc(deviceID) || deviceID < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: device identifier %v", errors.ErrValueOutOfRange, deviceID),
			"Normalizer", "Normalize", "validate payload")
	}

	if raw.HeartRate == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: heart rate", errors.ErrMissingField),
			"Normalizer", "Normalize", "validate payload")
	}
	if raw.Temperature == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: temperature", errors.ErrMissingField),
			"Normalizer", "Normalize", "validate payload")
	}

	reading := &Reading{
		DeviceID:    int(deviceID),
		HeartRate:   float64(*raw.HeartRate),
		Temperature: float64(*raw.Temperature),
		ZoneID:      zoneID,
		ReceivedAt:  receivedAt,
	}

	// Coordinates must arrive as a pair; a lone latitude or longitude is
	// treated as absent rather than a rejection.
	if raw.Latitude != nil && raw.Longitude != nil {
		reading.GPS = &GPSLocation{
			Latitude:  float64(*raw.Latitude),
			Longitude: float64(*raw.Longitude),
		}
	}

	return reading, nil
}
