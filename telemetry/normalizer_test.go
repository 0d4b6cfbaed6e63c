package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/errors"
)

var now = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func TestNormalizeStringEncodedPayload(t *testing.T) {
	n := NewNormalizer()

	reading, err := n.Normalize("z1",
		[]byte(`{"i":"7","h":"65","t":"38.2","la":"6.90","lo":"80.80"}`), now)
	require.NoError(t, err)

	assert.Equal(t, 7, reading.DeviceID)
	assert.Equal(t, 65.0, reading.HeartRate)
	assert.Equal(t, 38.2, reading.Temperature)
	require.NotNil(t, reading.GPS)
	assert.Equal(t, 6.90, reading.GPS.Latitude)
	assert.Equal(t, 80.80, reading.GPS.Longitude)
	assert.Equal(t, "z1", reading.ZoneID)
	assert.Equal(t, now, reading.ReceivedAt)
}

func TestNormalizeNativeNumberPayload(t *testing.T) {
	n := NewNormalizer()

	reading, err := n.Normalize("z1",
		[]byte(`{"i":12,"h":72.5,"t":37.9}`), now)
	require.NoError(t, err)

	assert.Equal(t, 12, reading.DeviceID)
	assert.Equal(t, 72.5, reading.HeartRate)
	assert.Equal(t, 37.9, reading.Temperature)
	assert.Nil(t, reading.GPS)
}

func TestNormalizeRejectsMissingDeviceID(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize("z1", []byte(`{"h":"65","t":"38.2"}`), now)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMissingField)
}

func TestNormalizeRejectsMissingVitals(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize("z1", []byte(`{"i":"7","t":"38.2"}`), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingField)

	_, err = n.Normalize("z1", []byte(`{"i":"7","h":"65"}`), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingField)
}

func TestNormalizeRejectsNonNumericValues(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize("z1", []byte(`{"i":"7","h":"fast","t":"38.2"}`), now)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
}

func TestNormalizeRejectsNonFiniteValues(t *testing.T) {
	n := NewNormalizer()

	payloads := []string{
		`{"i":"7","h":"NaN","t":"38.2"}`,
		`{"i":"7","h":"65","t":"Inf"}`,
		`{"i":"7","h":"-Inf","t":"38.2"}`,
		`{"i":"7","h":"65","t":"38.2","la":"NaN","lo":"80.80"}`,
	}
	for _, payload := range payloads {
		_, err := n.Normalize("z1", []byte(payload), now)
		require.Error(t, err, payload)
		assert.True(t, errors.IsInvalid(err), payload)
		assert.ErrorIs(t, err, errors.ErrParsingFailed, payload)
	}
}

func TestNormalizeRejectsMalformedJSON(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize("z1", []byte(`{"i":`), now)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = n.Normalize("z1", nil, now)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidPayload)
}

func TestNormalizeRejectsFractionalDeviceID(t *testing.T) {
	n := NewNormalizer()

	_, err := n.Normalize("z1", []byte(`{"i":"7.5","h":"65","t":"38.2"}`), now)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrValueOutOfRange)
}

func TestNormalizePartialCoordinatesDropped(t *testing.T) {
	n := NewNormalizer()

	reading, err := n.Normalize("z1", []byte(`{"i":"7","h":"65","t":"38.2","la":"6.90"}`), now)
	require.NoError(t, err)
	assert.Nil(t, reading.GPS)

	reading, err = n.Normalize("z1", []byte(`{"i":"7","h":"65","t":"38.2","lo":"80.80"}`), now)
	require.NoError(t, err)
	assert.Nil(t, reading.GPS)
}

func TestReadingRoundTripPreservesValues(t *testing.T) {
	n := NewNormalizer()

	reading, err := n.Normalize("z1",
		[]byte(`{"i":"7","h":"65","t":"38.2","la":"6.90","lo":"80.80"}`), now)
	require.NoError(t, err)

	data, err := json.Marshal(reading)
	require.NoError(t, err)

	var decoded Reading
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, reading.DeviceID, decoded.DeviceID)
	assert.Equal(t, reading.HeartRate, decoded.HeartRate)
	assert.Equal(t, reading.Temperature, decoded.Temperature)
	require.NotNil(t, decoded.GPS)
	assert.Equal(t, *reading.GPS, *decoded.GPS)
}
