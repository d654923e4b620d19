// Package dispatch runs the emergency request lifecycle: intake, hospital
// and bed assignment, ambulance dispatch, admission and cancellation. Every
// lifecycle move is a conditional status transition, so out-of-order calls
// fail with a state conflict instead of coercing state. Bed claims and
// releases go through the allocation service; dispatch never touches bed
// status directly.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/geo"
	"github.com/medready/hospital-bed-api/models"
)

// NearbyLimit caps the advisory candidate-hospital list returned on intake
const NearbyLimit = 10

// Allocator is the slice of the allocation service dispatch needs
type Allocator interface {
	ReserveBed(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error)
	ConfirmReserved(ctx context.Context, hospitalID, bedID, patientID primitive.ObjectID) (*models.Bed, error)
	ReleaseHold(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error)
	ReleaseBed(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error)
	ListAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType *models.BedType) ([]models.Bed, error)
}

// Service manages emergency requests
type Service struct {
	Requests  databases.EmergencyDatabase
	Hospitals databases.HospitalDatabase
	Patients  databases.PatientDatabase
	Allocator Allocator
}

// New wires a dispatch service
func New(requests databases.EmergencyDatabase, hospitals databases.HospitalDatabase, patients databases.PatientDatabase, allocator Allocator) *Service {
	return &Service{
		Requests:  requests,
		Hospitals: hospitals,
		Patients:  patients,
		Allocator: allocator,
	}
}

// IntakeRequest carries the validated fields of a new emergency call
type IntakeRequest struct {
	PatientName    string   `json:"patientName"`
	PatientAge     int      `json:"patientAge"`
	PatientGender  string   `json:"patientGender"`
	ContactNumber  string   `json:"contactNumber"`
	Longitude      float64  `json:"longitude"`
	Latitude       float64  `json:"latitude"`
	Address        string   `json:"address"`
	EmergencyType  string   `json:"emergencyType"`
	Symptoms       []string `json:"symptoms"`
	Severity       string   `json:"severity"`
	RequiredBed    string   `json:"requiredBedType"`
	NeedsAmbulance bool     `json:"needsAmbulance"`
	RadiusMeters   float64  `json:"radiusMeters"`
}

// Intake validates and persists a new request in pending, then looks up
// nearby active hospitals with availability of the required bed type. The
// hospital list is advisory only; nothing is reserved yet.
func (s *Service) Intake(ctx context.Context, in IntakeRequest) (*models.IntakeResponse, error) {
	severity, err := models.ParseSeverity(in.Severity)
	if err != nil {
		return nil, err
	}
	bedType, err := models.ParseBedType(in.RequiredBed)
	if err != nil {
		return nil, err
	}
	if err := geo.ValidateCoordinates(in.Longitude, in.Latitude); err != nil {
		return nil, err
	}
	if in.PatientName == "" {
		return nil, fmt.Errorf("patient name required: %w", models.ErrValidation)
	}

	radius := in.RadiusMeters
	if radius <= 0 {
		radius = 15000
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	point := models.NewPoint(in.Longitude, in.Latitude)
	request := models.EmergencyRequest{
		ID: primitive.NewObjectID(),
		Details: models.EmergencyRequestDetails{
			PatientName:     in.PatientName,
			PatientAge:      in.PatientAge,
			PatientGender:   in.PatientGender,
			ContactNumber:   in.ContactNumber,
			Location:        point,
			Address:         in.Address,
			EmergencyType:   in.EmergencyType,
			Symptoms:        in.Symptoms,
			Severity:        severity,
			RequiredBedType: bedType,
			NeedsAmbulance:  in.NeedsAmbulance,
			Status:          models.RequestStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}

	if _, err := s.Requests.InsertOne(ctx, request); err != nil {
		return nil, err
	}

	nearby, err := s.NearbyHospitals(ctx, point, radius, &bedType)
	if err != nil {
		// The request is already safely pending; a failed advisory lookup
		// should not fail the intake.
		zap.S().Warnw("nearby hospital lookup failed during intake",
			"requestId", request.ID.Hex(),
			"error", err,
		)
		nearby = []models.NearbyHospital{}
	}

	return &models.IntakeResponse{Request: request, NearbyHospitals: nearby}, nil
}

// NearbyHospitals returns up to NearbyLimit active hospitals within the
// radius, nearest first, each carrying the exact haversine distance from the
// query point. With a bed type set, hospitals without availability of that
// type are excluded even when closer.
func (s *Service) NearbyHospitals(ctx context.Context, point models.GeoJSON, radiusMeters float64, bedType *models.BedType) ([]models.NearbyHospital, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}
	hospitals, err := s.Hospitals.Nearby(ctx, point, radiusMeters, NearbyLimit, databases.NearbyFilter{
		BedType:    bedType,
		ActiveOnly: true,
	})
	if err != nil {
		return nil, err
	}

	result := make([]models.NearbyHospital, 0, len(hospitals))
	for _, h := range hospitals {
		result = append(result, models.NearbyHospital{
			Hospital:   h,
			DistanceKm: geo.DistanceBetween(point, h.Details.Location),
		})
	}
	return result, nil
}

// AssignHospital reserves the first available bed of the requested type at
// the hospital and advances the request from pending to hospital_assigned.
// When no bed of the type is free the request stays pending and the caller
// gets models.ErrNoBedAvailable, retryable against another hospital. A bed
// reservation that cannot be recorded on the request (lifecycle conflict) is
// rolled back before the error surfaces.
func (s *Service) AssignHospital(ctx context.Context, requestID, hospitalID primitive.ObjectID, bedType models.BedType) (*models.EmergencyRequest, error) {
	hospital, err := s.Hospitals.FindOne(ctx, bson.M{"_id": hospitalID, "hospital.isActive": true})
	if err != nil {
		return nil, models.ErrNotFound
	}

	// Verify the request is assignable before holding a bed for it.
	current, err := s.Requests.FindOne(ctx, bson.M{"_id": requestID})
	if err != nil {
		return nil, models.ErrNotFound
	}
	if current.Details.Status != models.RequestStatusPending {
		return nil, models.ErrStateConflict
	}

	candidates, err := s.Allocator.ListAvailable(ctx, hospitalID, &bedType)
	if err != nil {
		return nil, err
	}

	// Walk candidates in (bedType, bedNumber) order; a lost race on one bed
	// just moves on to the next. First-come-first-served, no severity queue.
	var reserved *models.Bed
	for i := range candidates {
		bed, err := s.Allocator.ReserveBed(ctx, hospitalID, candidates[i].ID)
		if err == nil {
			reserved = bed
			break
		}
		if err == models.ErrBedUnavailable {
			continue
		}
		return nil, err
	}
	if reserved == nil {
		return nil, models.ErrNoBedAvailable
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	request, err := s.Requests.Transition(ctx, requestID,
		models.RequestStatusPending, models.RequestStatusHospitalAssigned,
		bson.M{
			"emergencyRequest.assignedHospital": hospital.ID,
			"emergencyRequest.assignedBed":      reserved.ID,
			"emergencyRequest.assignedAt":       now,
		}, nil,
	)
	if err != nil {
		// The request moved (or vanished) while we were reserving; give the
		// bed back so it cannot leak as permanently reserved.
		if _, releaseErr := s.Allocator.ReleaseHold(ctx, hospitalID, reserved.ID); releaseErr != nil {
			zap.S().Errorw("failed to release bed after assignment conflict",
				"requestId", requestID.Hex(),
				"bedId", reserved.ID.Hex(),
				"error", releaseErr,
			)
		}
		return nil, err
	}
	return request, nil
}

// DispatchAmbulance advances an assigned request to ambulance_dispatched and
// takes one ambulance from the assigned hospital's pool. Only requests that
// asked for an ambulance can take this step.
func (s *Service) DispatchAmbulance(ctx context.Context, requestID primitive.ObjectID) (*models.EmergencyRequest, error) {
	current, err := s.Requests.FindOne(ctx, bson.M{"_id": requestID})
	if err != nil {
		return nil, models.ErrNotFound
	}
	if !current.Details.NeedsAmbulance {
		return nil, models.ErrStateConflict
	}
	if current.Details.AssignedHospitalID == nil {
		return nil, models.ErrStateConflict
	}

	if err := s.Hospitals.AdjustAmbulances(ctx, *current.Details.AssignedHospitalID, -1); err != nil {
		return nil, err
	}

	request, err := s.Requests.Transition(ctx, requestID,
		models.RequestStatusHospitalAssigned, models.RequestStatusAmbulanceDispatched,
		nil, nil,
	)
	if err != nil {
		// Give the ambulance back; the request was not in hospital_assigned.
		if returnErr := s.Hospitals.AdjustAmbulances(ctx, *current.Details.AssignedHospitalID, 1); returnErr != nil {
			zap.S().Errorw("failed to return ambulance after dispatch conflict",
				"requestId", requestID.Hex(),
				"error", returnErr,
			)
		}
		return nil, err
	}
	return request, nil
}

// PatientData carries the demographic and medical fields recorded at
// admission time
type PatientData struct {
	Name           string   `json:"name"`
	Age            int      `json:"age"`
	Gender         string   `json:"gender"`
	ContactNumber  string   `json:"contactNumber"`
	MedicalHistory []string `json:"medicalHistory"`
	Allergies      []string `json:"allergies"`
	Reason         string   `json:"reason"`
	ExpectedStay   int      `json:"expectedStayDays"`
}

// CompleteAdmission creates the patient record, converts the held bed from
// reserved to occupied bound to the new patient, and advances the request to
// patient_admitted. If the bed was externally released or moved to
// maintenance since reservation, the operation fails with
// models.ErrBedNoLongerHeld and the request stays hospital_assigned (or
// ambulance_dispatched) for re-assignment.
func (s *Service) CompleteAdmission(ctx context.Context, requestID primitive.ObjectID, data PatientData) (*models.Patient, *models.EmergencyRequest, error) {
	current, err := s.Requests.FindOne(ctx, bson.M{"_id": requestID})
	if err != nil {
		return nil, nil, models.ErrNotFound
	}

	from := current.Details.Status
	if from != models.RequestStatusHospitalAssigned && from != models.RequestStatusAmbulanceDispatched {
		return nil, nil, models.ErrStateConflict
	}
	if current.Details.AssignedHospitalID == nil || current.Details.AssignedBedID == nil {
		return nil, nil, models.ErrStateConflict
	}
	hospitalID := *current.Details.AssignedHospitalID
	bedID := *current.Details.AssignedBedID

	if data.Name == "" {
		data.Name = current.Details.PatientName
	}
	if data.Age == 0 {
		data.Age = current.Details.PatientAge
	}
	if data.Gender == "" {
		data.Gender = current.Details.PatientGender
	}
	if data.ContactNumber == "" {
		data.ContactNumber = current.Details.ContactNumber
	}
	if data.Reason == "" {
		data.Reason = current.Details.EmergencyType
	}

	patientID := primitive.NewObjectID()
	if _, err := s.Allocator.ConfirmReserved(ctx, hospitalID, bedID, patientID); err != nil {
		if err == models.ErrBedUnavailable || err == models.ErrNotFound {
			return nil, nil, models.ErrBedNoLongerHeld
		}
		return nil, nil, err
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	patient := models.Patient{
		ID: patientID,
		Details: models.PatientDetails{
			Name:           data.Name,
			Age:            data.Age,
			Gender:         data.Gender,
			ContactNumber:  data.ContactNumber,
			MedicalHistory: data.MedicalHistory,
			Allergies:      data.Allergies,
			AdmittedTo: &models.AdmissionInfo{
				HospitalID:    hospitalID,
				BedID:         &bedID,
				AdmissionDate: now,
				Reason:        data.Reason,
				Severity:      current.Details.Severity,
				ExpectedStay:  data.ExpectedStay,
			},
			Status:    models.PatientStatusAdmitted,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if _, err := s.Patients.InsertOne(ctx, patient); err != nil {
		s.unwindAdmission(ctx, requestID, hospitalID, bedID, nil)
		return nil, nil, err
	}

	request, err := s.Requests.Transition(ctx, requestID,
		from, models.RequestStatusPatientAdmitted,
		nil, nil,
	)
	if err != nil {
		// The request moved underneath us, most likely a concurrent cancel.
		// The admission did not happen as far as the caller is concerned, so
		// neither the patient record nor the occupied bed may stand.
		s.unwindAdmission(ctx, requestID, hospitalID, bedID, &patientID)
		return nil, nil, err
	}

	// The ambulance run ends at admission; put it back in the pool.
	s.returnAmbulanceIfDispatched(ctx, current)
	return &patient, request, nil
}

// unwindAdmission backs out of a half-finished admission: the bed just
// confirmed into occupied goes back to available and a patient record
// written for it is removed. The request keeps whatever status it has; a
// stale hospital_assigned pointer resolves through the expired-hold sweep.
func (s *Service) unwindAdmission(ctx context.Context, requestID, hospitalID, bedID primitive.ObjectID, patientID *primitive.ObjectID) {
	if patientID != nil {
		if err := s.Patients.Delete(ctx, *patientID); err != nil {
			zap.S().Errorw("failed to remove patient record while unwinding admission",
				"requestId", requestID.Hex(),
				"patientId", patientID.Hex(),
				"error", err,
			)
		}
	}
	if _, err := s.Allocator.ReleaseBed(ctx, hospitalID, bedID); err != nil && err != models.ErrAlreadyAvailable {
		zap.S().Errorw("failed to release bed while unwinding admission",
			"requestId", requestID.Hex(),
			"bedId", bedID.Hex(),
			"error", err,
		)
	}
}

// Complete closes out an admitted request
func (s *Service) Complete(ctx context.Context, requestID primitive.ObjectID) (*models.EmergencyRequest, error) {
	request, err := s.Requests.Transition(ctx, requestID,
		models.RequestStatusPatientAdmitted, models.RequestStatusCompleted,
		nil, nil,
	)
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Cancel terminates a non-terminal request. A bed still held for it is
// released first so it cannot leak as permanently reserved, and a dispatched
// ambulance returns to the pool. Admitted patients keep their bed; cancelling
// after admission only closes the request.
func (s *Service) Cancel(ctx context.Context, requestID primitive.ObjectID, reason string) (*models.EmergencyRequest, error) {
	current, err := s.Requests.FindOne(ctx, bson.M{"_id": requestID})
	if err != nil {
		return nil, models.ErrNotFound
	}
	from := current.Details.Status
	if from.Terminal() {
		return nil, models.ErrStateConflict
	}

	// Release the held bed before the terminal transition. ReleaseHold only
	// frees a bed still in reserved: if a concurrent admission confirmed the
	// hold into an occupied bed, the release misses and the bed stays with
	// the patient; whichever side then loses the request transition backs
	// its half out.
	if from == models.RequestStatusHospitalAssigned || from == models.RequestStatusAmbulanceDispatched {
		if current.Details.AssignedHospitalID != nil && current.Details.AssignedBedID != nil {
			_, err := s.Allocator.ReleaseHold(ctx, *current.Details.AssignedHospitalID, *current.Details.AssignedBedID)
			if err != nil && err != models.ErrBedUnavailable {
				return nil, err
			}
		}
	}

	request, err := s.Requests.Transition(ctx, requestID,
		from, models.RequestStatusCancelled,
		bson.M{"emergencyRequest.cancelReason": reason}, nil,
	)
	if err != nil {
		return nil, err
	}

	if from == models.RequestStatusAmbulanceDispatched {
		s.returnAmbulanceIfDispatched(ctx, current)
	}
	return request, nil
}

// RevertExpiredHold returns a request stuck in hospital_assigned to pending,
// releasing its held bed. The scheduler calls this for holds older than the
// configured TTL.
func (s *Service) RevertExpiredHold(ctx context.Context, request models.EmergencyRequest) error {
	if request.Details.AssignedHospitalID == nil || request.Details.AssignedBedID == nil {
		return models.ErrStateConflict
	}

	// Hold-only release: a hold the admission flow confirmed in the meantime
	// is an occupied bed now and must not be swept back to available.
	_, err := s.Allocator.ReleaseHold(ctx, *request.Details.AssignedHospitalID, *request.Details.AssignedBedID)
	if err != nil && err != models.ErrBedUnavailable {
		return err
	}

	_, err = s.Requests.Transition(ctx, request.ID,
		models.RequestStatusHospitalAssigned, models.RequestStatusPending,
		nil,
		bson.M{
			"emergencyRequest.assignedHospital": "",
			"emergencyRequest.assignedBed":      "",
			"emergencyRequest.assignedAt":       "",
		},
	)
	return err
}

func (s *Service) returnAmbulanceIfDispatched(ctx context.Context, request *models.EmergencyRequest) {
	if request.Details.Status != models.RequestStatusAmbulanceDispatched {
		return
	}
	if request.Details.AssignedHospitalID == nil {
		return
	}
	if err := s.Hospitals.AdjustAmbulances(ctx, *request.Details.AssignedHospitalID, 1); err != nil {
		zap.S().Errorw("failed to return ambulance to pool",
			"requestId", request.ID.Hex(),
			"hospitalId", request.Details.AssignedHospitalID.Hex(),
			"error", err,
		)
	}
}
