package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/medready/hospital-bed-api/allocation"
	"github.com/medready/hospital-bed-api/api"
	"github.com/medready/hospital-bed-api/config"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/models"
)

// Bed exported for testing purposes
type Bed struct {
	DB         databases.BedDatabase
	Allocation *allocation.Service
}

// callerScope resolves the authenticated staff member's hospital binding and
// the bed ID from the route. Bed mutations are always scoped to the caller's
// own hospital.
func callerScope(w http.ResponseWriter, r *http.Request) (hospitalID, bedID primitive.ObjectID, ok bool) {
	hospitalID, err := primitive.ObjectIDFromHex(api.CallerHospitalID(r))
	if err != nil {
		config.ErrorStatus("caller has no hospital binding", http.StatusForbidden, w, err)
		return hospitalID, bedID, false
	}
	bedID, err = primitive.ObjectIDFromHex(mux.Vars(r)["bed_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return hospitalID, bedID, false
	}
	return hospitalID, bedID, true
}

func writeBed(w http.ResponseWriter, bed *models.Bed) {
	b, err := json.Marshal(bed)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// OccupyBedHandler claims an available bed for a patient. Exactly one of two
// concurrent claims on the same bed succeeds; the loser gets a conflict.
func (h Bed) OccupyBedHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID, bedID, ok := callerScope(w, r)
	if !ok {
		return
	}

	var requestBody struct {
		PatientID string `json:"patientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	patientID, err := primitive.ObjectIDFromHex(requestBody.PatientID)
	if err != nil {
		config.ErrorStatus("invalid patient id", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	bed, err := h.Allocation.ClaimBed(ctx, hospitalID, bedID, patientID)
	if err != nil {
		config.ErrorStatus("failed to occupy bed", statusForError(err), w, err)
		return
	}
	writeBed(w, bed)
}

// ReleaseBedHandler frees an occupied or reserved bed back to available.
func (h Bed) ReleaseBedHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID, bedID, ok := callerScope(w, r)
	if !ok {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	bed, err := h.Allocation.ReleaseBed(ctx, hospitalID, bedID)
	if err != nil {
		config.ErrorStatus("failed to release bed", statusForError(err), w, err)
		return
	}
	writeBed(w, bed)
}

// MarkMaintenanceHandler takes an available bed out of service.
func (h Bed) MarkMaintenanceHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID, bedID, ok := callerScope(w, r)
	if !ok {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	bed, err := h.Allocation.MarkMaintenance(ctx, hospitalID, bedID)
	if err != nil {
		config.ErrorStatus("failed to mark bed for maintenance", statusForError(err), w, err)
		return
	}
	writeBed(w, bed)
}

// ClearMaintenanceHandler returns a maintenance bed to service.
func (h Bed) ClearMaintenanceHandler(w http.ResponseWriter, r *http.Request) {
	hospitalID, bedID, ok := callerScope(w, r)
	if !ok {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	bed, err := h.Allocation.ClearMaintenance(ctx, hospitalID, bedID)
	if err != nil {
		config.ErrorStatus("failed to clear bed maintenance", statusForError(err), w, err)
		return
	}
	writeBed(w, bed)
}
