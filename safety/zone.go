package safety

import (
	"math"
)

// ZoneType classifies a geofenced region.
type ZoneType string

const (
	ZoneSafe   ZoneType = "SAFE"
	ZoneDanger ZoneType = "DANGER"
)

// Zone is a named circular geofenced region.
type Zone struct {
	Name      string   `json:"zoneName" bson:"zoneName"`
	Type      ZoneType `json:"zoneType" bson:"zoneType"`
	Latitude  float64  `json:"latitude" bson:"latitude"`
	Longitude float64  `json:"longitude" bson:"longitude"`
	Radius    float64  `json:"radius" bson:"radius"` // meters
}

const earthRadiusMeters = 6371000.0

// haversineMeters returns the great-circle distance between two coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180.0

	phi1 := lat1 * degToRad
	phi2 := lat2 * degToRad
	dPhi := (lat2 - lat1) * degToRad
	dLambda := (lon2 - lon1) * degToRad

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// Contains reports whether the coordinate lies within the zone. The boundary
// is inclusive: a point exactly at distance == radius is inside. The margin
// widens the effective radius (geofence threshold from the config).
func (z Zone) Contains(lat, lon, margin float64) bool {
	return haversineMeters(z.Latitude, z.Longitude, lat, lon) <= z.Radius+margin
}
