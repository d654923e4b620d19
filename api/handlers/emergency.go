package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/medready/hospital-bed-api/api"
	"github.com/medready/hospital-bed-api/config"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/dispatch"
	"github.com/medready/hospital-bed-api/models"
)

// Emergency exported for testing purposes
type Emergency struct {
	DB       databases.EmergencyDatabase
	Dispatch *dispatch.Service
}

func requestIDFromRoute(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	requestID, err := primitive.ObjectIDFromHex(mux.Vars(r)["request_id"])
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusBadRequest, w, err)
		return requestID, false
	}
	return requestID, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(status)
	w.Write(b)
}

// IntakeHandler registers a new emergency request. The request starts
// pending; the response carries an advisory list of nearby hospitals with
// availability of the required bed type.
func (h Emergency) IntakeHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody dispatch.IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	resp, err := h.Dispatch.Intake(ctx, requestBody)
	if err != nil {
		config.ErrorStatus("failed to register emergency request", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// EmergencyByIDHandler returns an emergency request by ID
func (h Emergency) EmergencyByIDHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDFromRoute(w, r)
	if !ok {
		return
	}

	dbResp, err := h.DB.FindOne(context.Background(), bson.M{"_id": requestID})
	if err != nil {
		config.ErrorStatus("failed to get emergency request by ID", http.StatusNotFound, w, err)
		return
	}
	writeJSON(w, http.StatusOK, dbResp)
}

// AssignHospitalHandler reserves a bed of the required type at the chosen
// hospital and moves the request from pending to hospital_assigned. Staff may
// only assign requests to their own hospital.
func (h Emergency) AssignHospitalHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDFromRoute(w, r)
	if !ok {
		return
	}

	var requestBody struct {
		HospitalID string `json:"hospitalId"`
		BedType    string `json:"bedType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if !callerBoundTo(r, requestBody.HospitalID) {
		config.ErrorStatus("caller not bound to hospital", http.StatusForbidden, w, models.ErrValidation)
		return
	}
	hospitalID, err := primitive.ObjectIDFromHex(requestBody.HospitalID)
	if err != nil {
		config.ErrorStatus("invalid hospital id", http.StatusBadRequest, w, err)
		return
	}
	bedType, err := models.ParseBedType(requestBody.BedType)
	if err != nil {
		config.ErrorStatus("invalid bed type", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	request, err := h.Dispatch.AssignHospital(ctx, requestID, hospitalID, bedType)
	if err != nil {
		config.ErrorStatus("failed to assign hospital", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// DispatchAmbulanceHandler sends an ambulance from the assigned hospital.
func (h Emergency) DispatchAmbulanceHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDFromRoute(w, r)
	if !ok {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	request, err := h.Dispatch.DispatchAmbulance(ctx, requestID)
	if err != nil {
		config.ErrorStatus("failed to dispatch ambulance", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// CompleteAdmissionHandler converts the held bed to occupied, creates the
// patient record and advances the request to patient_admitted. Patient fields
// left empty default from the intake snapshot.
func (h Emergency) CompleteAdmissionHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDFromRoute(w, r)
	if !ok {
		return
	}

	var requestBody dispatch.PatientData
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	patient, request, err := h.Dispatch.CompleteAdmission(ctx, requestID, requestBody)
	if err != nil {
		config.ErrorStatus("failed to complete admission", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient": patient,
		"request": request,
	})
}

// CompleteHandler closes out an admitted request.
func (h Emergency) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDFromRoute(w, r)
	if !ok {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	request, err := h.Dispatch.Complete(ctx, requestID)
	if err != nil {
		config.ErrorStatus("failed to complete request", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}

// CancelHandler cancels a non-terminal request, releasing any held bed and
// returning any dispatched ambulance.
func (h Emergency) CancelHandler(w http.ResponseWriter, r *http.Request) {
	requestID, ok := requestIDFromRoute(w, r)
	if !ok {
		return
	}

	var requestBody struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	request, err := h.Dispatch.Cancel(ctx, requestID, requestBody.Reason)
	if err != nil {
		config.ErrorStatus("failed to cancel request", statusForError(err), w, err)
		return
	}
	writeJSON(w, http.StatusOK, request)
}
