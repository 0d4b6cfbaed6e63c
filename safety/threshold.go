package safety

// Default vital ranges used when no configuration has been stored yet.
const (
	DefaultHeartRateMin   = 60.0
	DefaultHeartRateMax   = 100.0
	DefaultTemperatureMin = 36.0
	DefaultTemperatureMax = 39.0
)

// Range is one configurable vital-sign boundary. Mode selects a named
// preset; "custom" uses Min/Max as configured.
type Range struct {
	Mode string  `json:"mode,omitempty" bson:"mode,omitempty"`
	Min  float64 `json:"min" bson:"min"`
	Max  float64 `json:"max" bson:"max"`
}

// Geofence carries geofence-wide tuning. Threshold is a distance margin in
// meters added to each zone radius during membership checks.
type Geofence struct {
	Threshold float64 `json:"threshold" bson:"threshold"`
}

// ThresholdConfig is the global safety boundary configuration. It is a
// singleton: one document, last write wins.
type ThresholdConfig struct {
	HeartRate   Range    `json:"heartRate" bson:"heartRate"`
	Temperature Range    `json:"temperature" bson:"temperature"`
	Geofence    Geofence `json:"geofence" bson:"geofence"`
}

// Preset ranges selectable by mode. Values mirror the herd profiles the
// operators work with.
var (
	heartRatePresets = map[string]Range{
		"default": {Min: 60, Max: 80},
	}
	temperaturePresets = map[string]Range{
		"cold": {Min: 30, Max: 33},
		"hot":  {Min: 31, Max: 35},
	}
)

// DefaultThresholds returns the configuration used before any admin upsert.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		HeartRate:   Range{Mode: "custom", Min: DefaultHeartRateMin, Max: DefaultHeartRateMax},
		Temperature: Range{Mode: "custom", Min: DefaultTemperatureMin, Max: DefaultTemperatureMax},
	}
}

// resolve maps a Range to the concrete {min,max} pair to compare against,
// honoring the mode preset. An unknown mode falls back to the configured
// Min/Max, or the hard defaults when those are unset.
func resolve(r Range, presets map[string]Range, defMin, defMax float64) (float64, float64) {
	if r.Mode != "" && r.Mode != "custom" {
		if p, ok := presets[r.Mode]; ok {
			return p.Min, p.Max
		}
	}
	if r.Min == 0 && r.Max == 0 {
		return defMin, defMax
	}
	return r.Min, r.Max
}

// HeartRateBounds returns the effective heart rate range in bpm.
func (c ThresholdConfig) HeartRateBounds() (float64, float64) {
	return resolve(c.HeartRate, heartRatePresets, DefaultHeartRateMin, DefaultHeartRateMax)
}

// TemperatureBounds returns the effective temperature range in °C.
func (c ThresholdConfig) TemperatureBounds() (float64, float64) {
	return resolve(c.Temperature, temperaturePresets, DefaultTemperatureMin, DefaultTemperatureMax)
}
