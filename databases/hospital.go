package databases

// go generate: mockery --name HospitalDatabase

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medready/hospital-bed-api/models"
)

const hospitalName = "hospitals"

// NearbyFilter narrows the nearby search to hospitals that can actually take
// the patient
type NearbyFilter struct {
	BedType    *models.BedType
	ActiveOnly bool
}

// HospitalDatabase contains the methods to use with the hospital database.
//
// AdjustAvailable and AdjustAmbulances are guarded counter updates: the
// filter refuses any write that would push availableBeds below zero or past
// totalBeds, and a refused write reports models.ErrInvariantViolation rather
// than silently clamping.
type HospitalDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Hospital, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Hospital, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(context.Context, interface{}, interface{}, ...*options.UpdateOptions) (int64, error)
	AdjustAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, delta int) error
	AdjustAmbulances(ctx context.Context, hospitalID primitive.ObjectID, delta int) error
	SetAvailableCount(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, count int) error
	Nearby(ctx context.Context, point models.GeoJSON, radiusMeters float64, limit int, filter NearbyFilter) ([]models.Hospital, error)
}

type hospitalDatabase struct {
	db DatabaseHelper
}

// NewHospitalDatabase initializes a new instance of hospital database with
// the provided db connection
func NewHospitalDatabase(db DatabaseHelper) HospitalDatabase {
	return &hospitalDatabase{
		db: db,
	}
}

func (h *hospitalDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Hospital, error) {
	hospital := &models.Hospital{}
	err := h.db.Collection(hospitalName).FindOne(ctx, filter, opts...).Decode(&hospital)
	if err != nil {
		return nil, err
	}
	return hospital, nil
}

func (h *hospitalDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Hospital, error) {
	var hospitals []models.Hospital
	cr := h.db.Collection(hospitalName).Find(ctx, filter, opts...)
	err := cr.Decode(&hospitals)
	if err != nil {
		return nil, err
	}
	return hospitals, nil
}

func (h *hospitalDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res := h.db.Collection(hospitalName).InsertOne(ctx, document, opts...)
	return res, nil
}

func (h *hospitalDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error) {
	return h.db.Collection(hospitalName).UpdateOne(ctx, filter, update, opts...)
}

// AdjustAvailable atomically increments (or decrements) availableBeds for a
// bed type. The filter carries the bound check, so a write that would leave
// the counter negative or above totalBeds matches nothing.
func (h *hospitalDatabase) AdjustAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, delta int) error {
	availablePath := fmt.Sprintf("hospital.availableBeds.%s", bedType)
	totalPath := fmt.Sprintf("hospital.totalBeds.%s", bedType)

	filter := bson.M{"_id": hospitalID}
	if delta < 0 {
		filter[availablePath] = bson.M{"$gte": -delta}
	} else {
		// incrementing: available + delta must not exceed total
		filter["$expr"] = bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{"$" + availablePath, delta}},
			"$" + totalPath,
		}}
	}

	modified, err := h.db.Collection(hospitalName).UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{availablePath: delta},
		"$set": bson.M{"hospital.updatedAt": primitive.NewDateTimeFromTime(time.Now())},
	})
	if err != nil {
		return err
	}
	if modified == 0 {
		return models.ErrInvariantViolation
	}
	return nil
}

// AdjustAmbulances atomically adjusts the available ambulance count with the
// same bound guard as bed counters.
func (h *hospitalDatabase) AdjustAmbulances(ctx context.Context, hospitalID primitive.ObjectID, delta int) error {
	filter := bson.M{"_id": hospitalID}
	if delta < 0 {
		filter["hospital.availableAmbulances"] = bson.M{"$gte": -delta}
	} else {
		filter["$expr"] = bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{"$hospital.availableAmbulances", delta}},
			"$hospital.totalAmbulances",
		}}
	}

	modified, err := h.db.Collection(hospitalName).UpdateOne(ctx, filter, bson.M{
		"$inc": bson.M{"hospital.availableAmbulances": delta},
		"$set": bson.M{"hospital.updatedAt": primitive.NewDateTimeFromTime(time.Now())},
	})
	if err != nil {
		return err
	}
	if modified == 0 {
		return models.ErrNoAmbulanceAvailable
	}
	return nil
}

// SetAvailableCount overwrites a cached counter; only reconciliation uses
// this, to repair drift from the authoritative bed records.
func (h *hospitalDatabase) SetAvailableCount(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, count int) error {
	path := fmt.Sprintf("hospital.availableBeds.%s", bedType)
	_, err := h.db.Collection(hospitalName).UpdateOne(ctx, bson.M{"_id": hospitalID}, bson.M{
		"$set": bson.M{
			path:                 count,
			"hospital.updatedAt": primitive.NewDateTimeFromTime(time.Now()),
		},
	})
	return err
}

// Nearby runs a $geoNear aggregation over the 2dsphere index on
// hospital.location. The index orders candidates by its own (approximate)
// distance; callers recompute the displayed distance with the exact
// great-circle formula.
func (h *hospitalDatabase) Nearby(ctx context.Context, point models.GeoJSON, radiusMeters float64, limit int, filter NearbyFilter) ([]models.Hospital, error) {
	query := bson.M{}
	if filter.ActiveOnly {
		query["hospital.isActive"] = true
	}
	if filter.BedType != nil {
		query[fmt.Sprintf("hospital.availableBeds.%s", *filter.BedType)] = bson.M{"$gt": 0}
	}

	pipeline := []bson.M{
		{
			"$geoNear": bson.M{
				"near":          point,
				"key":           "hospital.location",
				"distanceField": "indexDistanceMeters",
				"maxDistance":   radiusMeters,
				"query":         query,
				"spherical":     true,
			},
		},
		{"$limit": limit},
	}

	cr, err := h.db.Collection(hospitalName).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var hospitals []models.Hospital
	if err := cr.Decode(&hospitals); err != nil {
		return nil, err
	}
	return hospitals, nil
}
