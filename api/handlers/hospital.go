package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/allocation"
	"github.com/medready/hospital-bed-api/api"
	"github.com/medready/hospital-bed-api/config"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/dispatch"
	"github.com/medready/hospital-bed-api/geo"
	"github.com/medready/hospital-bed-api/models"
)

// Hospital exported for testing purposes
type Hospital struct {
	DB         databases.HospitalDatabase
	BedDB      databases.BedDatabase
	Allocation *allocation.Service
	Dispatch   *dispatch.Service
}

// RegisterHospitalRequest is the payload for hospital registration
type RegisterHospitalRequest struct {
	Name            string         `json:"name"`
	Address         string         `json:"address"`
	City            string         `json:"city"`
	Phone           string         `json:"phone"`
	Longitude       float64        `json:"longitude"`
	Latitude        float64        `json:"latitude"`
	TotalBeds       map[string]int `json:"totalBeds"`
	TotalAmbulances int            `json:"totalAmbulances"`
}

// RegisterHospitalHandler creates a new hospital in the inactive state and
// bulk-seeds its bed records from the declared capacity. The hospital joins
// the network (isActive) only after admin approval.
func (h Hospital) RegisterHospitalHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody RegisterHospitalRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if requestBody.Name == "" {
		config.ErrorStatus("hospital name required", http.StatusBadRequest, w, models.ErrValidation)
		return
	}
	if err := geo.ValidateCoordinates(requestBody.Longitude, requestBody.Latitude); err != nil {
		config.ErrorStatus("invalid coordinates", http.StatusBadRequest, w, err)
		return
	}

	totals := models.BedCounts{}
	for raw, count := range requestBody.TotalBeds {
		bedType, err := models.ParseBedType(raw)
		if err != nil {
			config.ErrorStatus("invalid bed type", http.StatusBadRequest, w, err)
			return
		}
		if count < 0 {
			config.ErrorStatus("bed count cannot be negative", http.StatusBadRequest, w, models.ErrValidation)
			return
		}
		totals[bedType] = count
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	available := models.BedCounts{}
	for bedType, count := range totals {
		available[bedType] = count
	}

	hospital := models.Hospital{
		ID: primitive.NewObjectID(),
		Details: models.HospitalDetails{
			Name:                requestBody.Name,
			Address:             requestBody.Address,
			City:                requestBody.City,
			Phone:               requestBody.Phone,
			Location:            models.NewPoint(requestBody.Longitude, requestBody.Latitude),
			TotalBeds:           totals,
			AvailableBeds:       available,
			TotalAmbulances:     requestBody.TotalAmbulances,
			AvailableAmbulances: requestBody.TotalAmbulances,
			IsActive:            false,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := h.DB.InsertOne(ctx, hospital); err != nil {
		config.ErrorStatus("failed to create hospital", http.StatusInternalServerError, w, err)
		return
	}

	if err := h.BedDB.InsertMany(ctx, seedBeds(hospital.ID, totals, now)); err != nil {
		config.ErrorStatus("failed to seed beds", http.StatusInternalServerError, w, err)
		return
	}

	zap.S().Infow("hospital registered, awaiting approval",
		"hospitalId", hospital.ID.Hex(),
		"name", hospital.Details.Name,
	)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":  "Hospital registered successfully, awaiting approval",
		"hospital": hospital,
	})
}

// seedBeds builds one bed document per unit of declared capacity, numbered
// within the hospital as <TYPE>-<n>.
func seedBeds(hospitalID primitive.ObjectID, totals models.BedCounts, now primitive.DateTime) []interface{} {
	var beds []interface{}
	for _, bedType := range models.BedTypes {
		for i := 1; i <= totals.Get(bedType); i++ {
			beds = append(beds, models.Bed{
				ID: primitive.NewObjectID(),
				Details: models.BedDetails{
					HospitalID: hospitalID,
					BedNumber:  fmt.Sprintf("%s-%03d", bedType, i),
					BedType:    bedType,
					Status:     models.BedStatusAvailable,
					CreatedAt:  now,
					UpdatedAt:  now,
				},
			})
		}
	}
	return beds
}

// HospitalByIDHandler returns a hospital by ID
func (h Hospital) HospitalByIDHandler(w http.ResponseWriter, r *http.Request) {
	hospID := mux.Vars(r)["hospital_id"]

	zap.S().Debugf("hospital_id: %v", hospID)

	hID, err := primitive.ObjectIDFromHex(hospID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := h.DB.FindOne(context.Background(), bson.M{"_id": hID})
	if err != nil {
		config.ErrorStatus("failed to get hospital by ID", http.StatusNotFound, w, err)
		return
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// AvailableBedsHandler lists a hospital's available beds ordered by
// (bedType, bedNumber), optionally filtered to one bed type. Staff are
// scoped to their own hospital.
func (h Hospital) AvailableBedsHandler(w http.ResponseWriter, r *http.Request) {
	hospID := mux.Vars(r)["hospital_id"]

	hID, err := primitive.ObjectIDFromHex(hospID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	if !callerBoundTo(r, hospID) {
		config.ErrorStatus("caller not bound to hospital", http.StatusForbidden, w, models.ErrValidation)
		return
	}

	var bedType *models.BedType
	if raw := r.URL.Query().Get("bedType"); raw != "" {
		parsed, err := models.ParseBedType(raw)
		if err != nil {
			config.ErrorStatus("invalid bed type", http.StatusBadRequest, w, err)
			return
		}
		bedType = &parsed
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	dbResp, err := h.BedDB.FindAvailable(ctx, hID, bedType)
	if err != nil {
		config.ErrorStatus("failed to get available beds", http.StatusNotFound, w, err)
		return
	}
	if len(dbResp) == 0 {
		dbResp = []models.Bed{}
	}

	b, err := json.Marshal(dbResp)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// NearbyHospitalsHandler returns active hospitals near a point, nearest
// first, each with the exact great-circle distance. A bedType query param
// filters to hospitals with availability of that type.
func (h Hospital) NearbyHospitalsHandler(w http.ResponseWriter, r *http.Request) {
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		config.ErrorStatus("invalid longitude", http.StatusBadRequest, w, err)
		return
	}
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		config.ErrorStatus("invalid latitude", http.StatusBadRequest, w, err)
		return
	}
	radius, err := strconv.ParseFloat(r.URL.Query().Get("radius"), 64)
	if err != nil || radius <= 0 {
		radius = 15000
	}

	var bedType *models.BedType
	if raw := r.URL.Query().Get("bedType"); raw != "" {
		parsed, err := models.ParseBedType(raw)
		if err != nil {
			config.ErrorStatus("invalid bed type", http.StatusBadRequest, w, err)
			return
		}
		bedType = &parsed
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	nearby, err := h.Dispatch.NearbyHospitals(ctx, models.NewPoint(lon, lat), radius, bedType)
	if err != nil {
		config.ErrorStatus("failed to search nearby hospitals", statusForError(err), w, err)
		return
	}
	if len(nearby) == 0 {
		nearby = []models.NearbyHospital{}
	}

	b, err := json.Marshal(nearby)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// callerBoundTo checks the caller-identity precondition: hospital-scoped
// operations require the authenticated staff member's binding to match the
// hospital in the request.
func callerBoundTo(r *http.Request, hospitalID string) bool {
	return api.CallerHospitalID(r) == hospitalID
}
