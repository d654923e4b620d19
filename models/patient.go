package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PatientStatus is the admission state of a patient record
type PatientStatus string

// Patient statuses
const (
	PatientStatusAdmitted    PatientStatus = "admitted"
	PatientStatusDischarged  PatientStatus = "discharged"
	PatientStatusTransferred PatientStatus = "transferred"
)

// ParsePatientStatus validates a raw string against the closed enum
func ParsePatientStatus(s string) (PatientStatus, error) {
	switch PatientStatus(s) {
	case PatientStatusAdmitted, PatientStatusDischarged, PatientStatusTransferred:
		return PatientStatus(s), nil
	}
	return "", fmt.Errorf("unknown patient status %q: %w", s, ErrValidation)
}

// Patient holds the structure for the patient collection in mongo
type Patient struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details PatientDetails     `json:"patient" bson:"patient"`
	Version int32              `json:"__v" bson:"__v"`
}

// PatientDetails holds the structure for the inner patient structure as
// defined in the patient collection in mongo
type PatientDetails struct {
	Name           string        `json:"name" bson:"name"`
	Age            int           `json:"age" bson:"age"`
	Gender         string        `json:"gender" bson:"gender"`
	ContactNumber  string        `json:"contactNumber" bson:"contactNumber"`
	MedicalHistory []string      `json:"medicalHistory" bson:"medicalHistory"`
	Allergies      []string      `json:"allergies" bson:"allergies"`
	AdmittedTo     *AdmissionInfo `json:"admittedTo,omitempty" bson:"admittedTo,omitempty"`
	Status         PatientStatus `json:"status" bson:"status"`
	CreatedAt      interface{}   `json:"createdAt" bson:"createdAt"`
	UpdatedAt      interface{}   `json:"updatedAt" bson:"updatedAt"`
}

// AdmissionInfo records where and why a patient was admitted. BedID stays
// set after discharge; the patient status transition plus the bed release
// carry the discharge semantics.
type AdmissionInfo struct {
	HospitalID     primitive.ObjectID  `json:"hospitalID" bson:"hospitalID"`
	BedID          *primitive.ObjectID `json:"bedID,omitempty" bson:"bedID,omitempty"`
	AdmissionDate  primitive.DateTime  `json:"admissionDate" bson:"admissionDate"`
	DischargeDate  *primitive.DateTime `json:"dischargeDate,omitempty" bson:"dischargeDate,omitempty"`
	Reason         string              `json:"reason" bson:"reason"`
	Severity       Severity            `json:"severity,omitempty" bson:"severity,omitempty"`
	ExpectedStay   int                 `json:"expectedStayDays" bson:"expectedStayDays"`
	DischargeNotes string              `json:"dischargeNotes,omitempty" bson:"dischargeNotes,omitempty"`
}
