package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/medready/hospital-bed-api/admission"
	"github.com/medready/hospital-bed-api/api"
	"github.com/medready/hospital-bed-api/config"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/models"
)

// Patient exported for testing purposes
type Patient struct {
	DB        databases.PatientDatabase
	Admission *admission.Service
}

// AdmitPatientHandler admits a walk-in patient directly at a hospital,
// claiming the named bed when one is given. Staff may only admit patients at
// their own hospital.
func (h Patient) AdmitPatientHandler(w http.ResponseWriter, r *http.Request) {
	hospID := mux.Vars(r)["hospital_id"]
	if !callerBoundTo(r, hospID) {
		config.ErrorStatus("caller not bound to hospital", http.StatusForbidden, w, models.ErrValidation)
		return
	}
	hospitalID, err := primitive.ObjectIDFromHex(hospID)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	var requestBody admission.AdmitRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	patient, err := h.Admission.AdmitDirect(ctx, hospitalID, requestBody)
	if err != nil {
		config.ErrorStatus("failed to admit patient", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, patient)
}

// PatientByIDHandler returns a patient by ID
func (h Patient) PatientByIDHandler(w http.ResponseWriter, r *http.Request) {
	patientID, err := primitive.ObjectIDFromHex(mux.Vars(r)["patient_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}

	dbResp, err := h.DB.FindOne(context.Background(), bson.M{"_id": patientID})
	if err != nil {
		config.ErrorStatus("failed to get patient by ID", http.StatusNotFound, w, err)
		return
	}
	if dbResp.Details.AdmittedTo == nil || !callerBoundTo(r, dbResp.Details.AdmittedTo.HospitalID.Hex()) {
		config.ErrorStatus("caller not bound to hospital", http.StatusForbidden, w, models.ErrValidation)
		return
	}
	writeJSON(w, http.StatusOK, dbResp)
}

// DischargePatientHandler discharges an admitted patient and frees their bed.
func (h Patient) DischargePatientHandler(w http.ResponseWriter, r *http.Request) {
	patientID, err := primitive.ObjectIDFromHex(mux.Vars(r)["patient_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return
	}
	hospitalID, err := primitive.ObjectIDFromHex(api.CallerHospitalID(r))
	if err != nil {
		config.ErrorStatus("caller has no hospital binding", http.StatusForbidden, w, err)
		return
	}

	var requestBody struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	patient, err := h.Admission.Discharge(ctx, hospitalID, patientID, requestBody.Notes)
	if err != nil {
		config.ErrorStatus("failed to discharge patient", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}
