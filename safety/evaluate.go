package safety

import (
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/telemetry"
)

// Policy tunes evaluation decisions that the herd operators may reasonably
// disagree on. The zero value is the recommended production setting.
type Policy struct {
	// OutsideZonesIsDanger escalates "outside every known zone" from
	// WARNING to DANGER. Readings with no location at all always stay
	// WARNING on the location dimension.
	OutsideZonesIsDanger bool
}

// Evaluator applies a fixed policy to readings. Evaluate has no hidden
// state: the same reading, thresholds and zones always yield the same
// result.
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an Evaluator with the given policy.
func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Evaluate classifies a reading against the threshold configuration and the
// current zone set.
func (e *Evaluator) Evaluate(reading *telemetry.Reading, cfg ThresholdConfig, zones []Zone) Evaluation {
	vitals := evaluateVitals(reading, cfg)
	location := e.evaluateLocation(reading, cfg, zones)

	return Evaluation{
		Overall:  worse(vitals, location),
		Vitals:   vitals,
		Location: location,
	}
}

// evaluateVitals checks heart rate and temperature against their effective
// ranges. Out of range on either is DANGER.
func evaluateVitals(reading *telemetry.Reading, cfg ThresholdConfig) Status {
	hrMin, hrMax := cfg.HeartRateBounds()
	if reading.HeartRate < hrMin || reading.HeartRate > hrMax {
		return StatusDanger
	}

	tMin, tMax := cfg.TemperatureBounds()
	if reading.Temperature < tMin || reading.Temperature > tMax {
		return StatusDanger
	}

	return StatusSafe
}

// evaluateLocation classifies the reading's coordinate against the zone set.
// Danger zones dominate safe zones; a reading inside both is DANGER.
func (e *Evaluator) evaluateLocation(reading *telemetry.Reading, cfg ThresholdConfig, zones []Zone) Status {
	if !reading.HasLocation() {
		return StatusWarning
	}

	margin := cfg.Geofence.Threshold
	inSafe := false
	for _, zone := range zones {
		if !zone.Contains(reading.GPS.Latitude, reading.GPS.Longitude, margin) {
			continue
		}
		if zone.Type == ZoneDanger {
			return StatusDanger
		}
		inSafe = true
	}

	if inSafe {
		return StatusSafe
	}
	if e.policy.OutsideZonesIsDanger {
		return StatusDanger
	}
	return StatusWarning
}
