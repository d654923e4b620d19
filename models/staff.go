package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Staff holds the structure for the staff collection in mongo. Every staff
// account is bound to exactly one hospital; hospital-scoped operations check
// the caller's binding against the hospital in the request.
type Staff struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details StaffDetails       `json:"staff" bson:"staff"`
	Version int32              `json:"__v" bson:"__v"`
}

// StaffDetails holds the structure for the inner staff structure as defined
// in the staff collection in mongo
type StaffDetails struct {
	Name       string             `json:"name" bson:"name"`
	Email      string             `json:"email" bson:"email"`
	Password   string             `json:"-" bson:"password"`
	HospitalID primitive.ObjectID `json:"hospitalID" bson:"hospitalID"`
	Role       string             `json:"role" bson:"role"`
	Active     bool               `json:"active" bson:"active"`
	CreatedAt  interface{}        `json:"createdAt" bson:"createdAt"`
	UpdatedAt  interface{}        `json:"updatedAt" bson:"updatedAt"`
}

// Admin holds the structure for the admin collection in mongo. Network
// admins approve hospital registrations and trigger counter reconciliation.
type Admin struct {
	ID       primitive.ObjectID `json:"_id" bson:"_id"`
	Email    string             `json:"email" bson:"email"`
	Password string             `json:"-" bson:"password"`
	Roles    []string           `json:"roles" bson:"roles"`
	Active   bool               `json:"active" bson:"active"`
}
