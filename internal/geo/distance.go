package geo

import "math"

const (
	earthRadiusMiles = 3958.8
	degToRad         = math.Pi / 180.0
)

// DistanceMiles computes the great-circle distance between two
// locations using the haversine formula. Returns -1 when either side
// has no coordinate fix, so callers can skip the check instead of
// treating "unknown" as "zero miles apart".
func DistanceMiles(a, b *Location) float64 {
	if a == nil || b == nil {
		return -1
	}
	if a.Latitude == 0 && a.Longitude == 0 {
		return -1
	}
	if b.Latitude == 0 && b.Longitude == 0 {
		return -1
	}

	dLat := (b.Latitude - a.Latitude) * degToRad
	dLon := (b.Longitude - a.Longitude) * degToRad
	lat1 := a.Latitude * degToRad
	lat2 := b.Latitude * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMiles * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
