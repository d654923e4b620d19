package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Hospital holds the structure for the hospital collection in mongo
type Hospital struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details HospitalDetails    `json:"hospital" bson:"hospital"`
	Version int32              `json:"__v" bson:"__v"`
}

// HospitalDetails holds the structure for the inner hospital structure as
// defined in the hospital collection in mongo.
//
// AvailableBeds is a transactionally-maintained cache: the authoritative
// availability of any single bed lives on the bed document, and for every
// bed type t the counter must equal the number of that hospital's beds with
// status available. Readers (search, dashboards) read it without locking and
// may observe a marginally stale value.
type HospitalDetails struct {
	Name                string      `json:"name" bson:"name"`
	Address             string      `json:"address" bson:"address"`
	City                string      `json:"city" bson:"city"`
	Phone               string      `json:"phone" bson:"phone"`
	Location            GeoJSON     `json:"location" bson:"location"`
	TotalBeds           BedCounts   `json:"totalBeds" bson:"totalBeds"`
	AvailableBeds       BedCounts   `json:"availableBeds" bson:"availableBeds"`
	TotalAmbulances     int         `json:"totalAmbulances" bson:"totalAmbulances"`
	AvailableAmbulances int         `json:"availableAmbulances" bson:"availableAmbulances"`
	IsActive            bool        `json:"isActive" bson:"isActive"`
	CreatedAt           interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt           interface{} `json:"updatedAt" bson:"updatedAt"`
}

// BedCounts maps a bed type to a non-negative count
type BedCounts map[BedType]int

// Get returns the count for a bed type, zero when absent
func (c BedCounts) Get(t BedType) int {
	if c == nil {
		return 0
	}
	return c[t]
}

// GeoJSON is a GeoJSON point as stored under a 2dsphere index,
// coordinates ordered [longitude, latitude]
type GeoJSON struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// NewPoint builds a GeoJSON point from a longitude/latitude pair
func NewPoint(lon, lat float64) GeoJSON {
	return GeoJSON{Type: "Point", Coordinates: []float64{lon, lat}}
}

// Longitude returns the first coordinate of the point
func (g GeoJSON) Longitude() float64 {
	if len(g.Coordinates) < 2 {
		return 0
	}
	return g.Coordinates[0]
}

// Latitude returns the second coordinate of the point
func (g GeoJSON) Latitude() float64 {
	if len(g.Coordinates) < 2 {
		return 0
	}
	return g.Coordinates[1]
}

// Validate checks the point is a well-formed lon/lat pair
func (g GeoJSON) Validate() error {
	if g.Type != "Point" || len(g.Coordinates) != 2 {
		return fmt.Errorf("location must be a GeoJSON point: %w", ErrValidation)
	}
	lon, lat := g.Coordinates[0], g.Coordinates[1]
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return fmt.Errorf("coordinates (%v, %v) out of range: %w", lon, lat, ErrValidation)
	}
	return nil
}

// NearbyHospital is a hospital enriched with the exact great-circle distance
// from a query point, as returned by the nearby search
type NearbyHospital struct {
	Hospital   Hospital `json:"hospital"`
	DistanceKm float64  `json:"distanceKm"`
}
