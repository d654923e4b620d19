package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Bed holds the structure for the bed collection in mongo
type Bed struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details BedDetails         `json:"bed" bson:"bed"`
	Version int32              `json:"__v" bson:"__v"`
}

// BedDetails holds the structure for the inner bed structure as defined in
// the bed collection in mongo. Status is the source of truth for this bed's
// availability; every mutation goes through the allocation service's
// conditional transition, never a plain update.
//
// CurrentPatientID is set if and only if Status is occupied.
type BedDetails struct {
	HospitalID          primitive.ObjectID  `json:"hospitalID" bson:"hospitalID"`
	BedNumber           string              `json:"bedNumber" bson:"bedNumber"`
	BedType             BedType             `json:"bedType" bson:"bedType"`
	Status              BedStatus           `json:"status" bson:"status"`
	CurrentPatientID    *primitive.ObjectID `json:"currentPatientId,omitempty" bson:"currentPatientId,omitempty"`
	OccupiedAt          *primitive.DateTime `json:"occupiedAt,omitempty" bson:"occupiedAt,omitempty"`
	ReservedAt          *primitive.DateTime `json:"reservedAt,omitempty" bson:"reservedAt,omitempty"`
	ExpectedReleaseTime *primitive.DateTime `json:"expectedReleaseTime,omitempty" bson:"expectedReleaseTime,omitempty"`
	// Retired beds stay on record but are excluded from every allocation
	// path; beds are never physically deleted.
	Retired   bool        `json:"retired" bson:"retired"`
	CreatedAt interface{} `json:"createdAt" bson:"createdAt"`
	UpdatedAt interface{} `json:"updatedAt" bson:"updatedAt"`
}

// BedEvent is the payload emitted to realtime subscribers on every successful
// bed-status change. Delivery is best-effort and never on the critical path
// of the allocation transaction.
type BedEvent struct {
	EventID    string    `json:"eventId"`
	HospitalID string    `json:"hospitalId"`
	BedID      string    `json:"bedId"`
	BedType    BedType   `json:"bedType"`
	NewStatus  BedStatus `json:"newStatus"`
}
