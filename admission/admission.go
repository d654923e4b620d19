// Package admission handles direct (non-emergency) patient admission and
// discharge by hospital staff. Bed claims and releases go through the
// allocation service, so a direct admission races fairly against emergency
// assignments for the same bed: one wins, the other sees a retryable
// conflict.
package admission

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/models"
)

// Allocator is the slice of the allocation service admission needs
type Allocator interface {
	ClaimBed(ctx context.Context, hospitalID, bedID, patientID primitive.ObjectID) (*models.Bed, error)
	ReleaseBed(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error)
}

// Service admits and discharges patients directly
type Service struct {
	Patients  databases.PatientDatabase
	Hospitals databases.HospitalDatabase
	Allocator Allocator
}

// New wires an admission service
func New(patients databases.PatientDatabase, hospitals databases.HospitalDatabase, allocator Allocator) *Service {
	return &Service{
		Patients:  patients,
		Hospitals: hospitals,
		Allocator: allocator,
	}
}

// AdmitRequest carries the fields of a direct admission. BedID is optional:
// without it the patient is pre-registered administratively, not bound to a
// bed. The emergency path never produces a bed-less admission; only this
// direct path can.
type AdmitRequest struct {
	Name           string   `json:"name"`
	Age            int      `json:"age"`
	Gender         string   `json:"gender"`
	ContactNumber  string   `json:"contactNumber"`
	MedicalHistory []string `json:"medicalHistory"`
	Allergies      []string `json:"allergies"`
	Reason         string   `json:"reason"`
	Severity       string   `json:"severity"`
	ExpectedStay   int      `json:"expectedStayDays"`
	BedID          string   `json:"bedId"`
}

// AdmitDirect creates a patient record for the hospital, claiming the named
// bed when one is given. A lost race for the bed surfaces as
// models.ErrBedUnavailable with no patient record written.
func (s *Service) AdmitDirect(ctx context.Context, hospitalID primitive.ObjectID, in AdmitRequest) (*models.Patient, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("patient name required: %w", models.ErrValidation)
	}
	var severity models.Severity
	if in.Severity != "" {
		parsed, err := models.ParseSeverity(in.Severity)
		if err != nil {
			return nil, err
		}
		severity = parsed
	}

	hospital, err := s.Hospitals.FindOne(ctx, bson.M{"_id": hospitalID, "hospital.isActive": true})
	if err != nil {
		return nil, models.ErrNotFound
	}

	patientID := primitive.NewObjectID()
	now := primitive.NewDateTimeFromTime(time.Now())
	admitted := &models.AdmissionInfo{
		HospitalID:    hospital.ID,
		AdmissionDate: now,
		Reason:        in.Reason,
		Severity:      severity,
		ExpectedStay:  in.ExpectedStay,
	}

	if in.BedID != "" {
		bedID, err := primitive.ObjectIDFromHex(in.BedID)
		if err != nil {
			return nil, fmt.Errorf("malformed bed id: %w", models.ErrValidation)
		}
		if _, err := s.Allocator.ClaimBed(ctx, hospitalID, bedID, patientID); err != nil {
			return nil, err
		}
		admitted.BedID = &bedID
	}

	patient := models.Patient{
		ID: patientID,
		Details: models.PatientDetails{
			Name:           in.Name,
			Age:            in.Age,
			Gender:         in.Gender,
			ContactNumber:  in.ContactNumber,
			MedicalHistory: in.MedicalHistory,
			Allergies:      in.Allergies,
			AdmittedTo:     admitted,
			Status:         models.PatientStatusAdmitted,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}

	if _, err := s.Patients.InsertOne(ctx, patient); err != nil {
		// Do not strand the claimed bed behind a failed insert.
		if admitted.BedID != nil {
			if _, releaseErr := s.Allocator.ReleaseBed(ctx, hospitalID, *admitted.BedID); releaseErr != nil {
				zap.S().Errorw("failed to release bed after admission insert failure",
					"hospitalId", hospitalID.Hex(),
					"bedId", admitted.BedID.Hex(),
					"error", releaseErr,
				)
			}
		}
		return nil, err
	}
	return &patient, nil
}

// Discharge moves an admitted patient of this hospital to discharged,
// stamping date and notes, then releases the bound bed if there is one.
// Fails with models.ErrNotFound on a patient/hospital mismatch and
// models.ErrAlreadyDischarged when the patient is not currently admitted.
func (s *Service) Discharge(ctx context.Context, hospitalID, patientID primitive.ObjectID, notes string) (*models.Patient, error) {
	patient, err := s.Patients.Discharge(ctx, hospitalID, patientID, notes)
	if err != nil {
		return nil, err
	}

	if patient.Details.AdmittedTo != nil && patient.Details.AdmittedTo.BedID != nil {
		_, err := s.Allocator.ReleaseBed(ctx, hospitalID, *patient.Details.AdmittedTo.BedID)
		if err != nil && err != models.ErrAlreadyAvailable {
			zap.S().Errorw("failed to release bed on discharge",
				"hospitalId", hospitalID.Hex(),
				"patientId", patientID.Hex(),
				"bedId", patient.Details.AdmittedTo.BedID.Hex(),
				"error", err,
			)
			return nil, err
		}
	}
	return patient, nil
}
