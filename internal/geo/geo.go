package geo

import (
	"math"

	"github.com/example/ride-negotiation/internal/models"
)

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm returns the ride distance in kilometers, or false when either
// end lacks resolved coordinates (text-only requests).
func DistanceKm(pickup, destination models.Place) (float64, bool) {
	if pickup.Coords == nil || destination.Coords == nil {
		return 0, false
	}
	m := Haversine(pickup.Coords.Lat, pickup.Coords.Lon, destination.Coords.Lat, destination.Coords.Lon)
	return m / 1000.0, true
}
