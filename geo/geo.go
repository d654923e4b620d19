// Package geo computes exact great-circle distances between coordinates.
// The spatial index reports its own (approximate) distance for ordering;
// every distance shown to a caller is recomputed here so that ranked search
// results and manual hospital lookups agree.
package geo

import (
	"fmt"
	"math"

	"github.com/medready/hospital-bed-api/models"
)

// EarthRadiusKm is the mean earth radius used by the haversine formula
const EarthRadiusKm = 6371.0

// DistanceKm returns the haversine great-circle distance in kilometers
// between two (latitude, longitude) pairs in degrees.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// DistanceBetween returns the haversine distance in kilometers between two
// GeoJSON points.
func DistanceBetween(a, b models.GeoJSON) float64 {
	return DistanceKm(a.Latitude(), a.Longitude(), b.Latitude(), b.Longitude())
}

// ValidateCoordinates checks a raw longitude/latitude pair before it is
// stored or used in a query.
func ValidateCoordinates(lon, lat float64) error {
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]: %w", lon, models.ErrValidation)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]: %w", lat, models.ErrValidation)
	}
	return nil
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
