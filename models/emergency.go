package models

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Severity is the triage severity of an emergency request. It is captured
// for triage display; assignment ordering is first-come-first-served.
type Severity string

// Severity levels
const (
	SeverityCritical Severity = "critical"
	SeveritySevere   Severity = "severe"
	SeverityModerate Severity = "moderate"
)

// ParseSeverity validates a raw string against the closed enum
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityCritical, SeveritySevere, SeverityModerate:
		return Severity(s), nil
	}
	return "", fmt.Errorf("unknown severity %q: %w", s, ErrValidation)
}

// RequestStatus is the lifecycle state of an emergency request
type RequestStatus string

// Request statuses. The lifecycle is linear with one optional branch:
// pending -> hospital_assigned -> (ambulance_dispatched ->) patient_admitted
// -> completed; cancelled is reachable from any non-terminal state.
const (
	RequestStatusPending             RequestStatus = "pending"
	RequestStatusHospitalAssigned    RequestStatus = "hospital_assigned"
	RequestStatusAmbulanceDispatched RequestStatus = "ambulance_dispatched"
	RequestStatusPatientAdmitted     RequestStatus = "patient_admitted"
	RequestStatusCompleted           RequestStatus = "completed"
	RequestStatusCancelled           RequestStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusCancelled
}

// EmergencyRequest holds the structure for the emergencyRequest collection
// in mongo
type EmergencyRequest struct {
	ID      primitive.ObjectID      `json:"_id" bson:"_id"`
	Details EmergencyRequestDetails `json:"emergencyRequest" bson:"emergencyRequest"`
	Version int32                   `json:"__v" bson:"__v"`
}

// EmergencyRequestDetails holds the structure for the inner request structure
// as defined in the emergencyRequest collection in mongo
type EmergencyRequestDetails struct {
	PatientName        string              `json:"patientName" bson:"patientName"`
	PatientAge         int                 `json:"patientAge" bson:"patientAge"`
	PatientGender      string              `json:"patientGender" bson:"patientGender"`
	ContactNumber      string              `json:"contactNumber" bson:"contactNumber"`
	Location           GeoJSON             `json:"location" bson:"location"`
	Address            string              `json:"address" bson:"address"`
	EmergencyType      string              `json:"emergencyType" bson:"emergencyType"`
	Symptoms           []string            `json:"symptoms" bson:"symptoms"`
	Severity           Severity            `json:"severity" bson:"severity"`
	RequiredBedType    BedType             `json:"requiredBedType" bson:"requiredBedType"`
	NeedsAmbulance     bool                `json:"needsAmbulance" bson:"needsAmbulance"`
	AssignedHospitalID *primitive.ObjectID `json:"assignedHospital,omitempty" bson:"assignedHospital,omitempty"`
	AssignedBedID      *primitive.ObjectID `json:"assignedBed,omitempty" bson:"assignedBed,omitempty"`
	AssignedAt         *primitive.DateTime `json:"assignedAt,omitempty" bson:"assignedAt,omitempty"`
	Status             RequestStatus       `json:"status" bson:"status"`
	CancelReason       string              `json:"cancelReason,omitempty" bson:"cancelReason,omitempty"`
	CreatedAt          interface{}         `json:"createdAt" bson:"createdAt"`
	UpdatedAt          interface{}         `json:"updatedAt" bson:"updatedAt"`
}

// IntakeResponse pairs a freshly created request with the advisory list of
// candidate hospitals. The list is informational, not a reservation.
type IntakeResponse struct {
	Request         EmergencyRequest `json:"request"`
	NearbyHospitals []NearbyHospital `json:"nearbyHospitals"`
}
