package models

import "errors"

// ErrorMessageResponse returns the error message response struct
type ErrorMessageResponse struct {
	Response MessageError
}

// MessageError contains the inner details for the error message response
type MessageError struct {
	Message string
	Error   string
}

// Domain error taxonomy. Every failure an allocation, dispatch or admission
// operation can report maps onto one of these sentinels so that handlers can
// branch with errors.Is and pick the right HTTP status. A ResourceConflict
// (lost race) must stay distinguishable from NotFound: the former is
// retryable against a different bed or hospital, the latter is not.
var (
	// ErrNotFound is returned when an entity or cross-reference does not
	// exist, including a bed that does not belong to the named hospital.
	ErrNotFound = errors.New("not found")

	// ErrBedUnavailable is a ResourceConflict: the bed existed but was not in
	// the expected state at claim time because another claimant won the race.
	ErrBedUnavailable = errors.New("bed unavailable")

	// ErrAlreadyAvailable is the idempotent refusal on releasing a bed that
	// is already available.
	ErrAlreadyAvailable = errors.New("bed already available")

	// ErrNoBedAvailable is returned by hospital assignment when no bed of
	// the required type is free at the moment of assignment.
	ErrNoBedAvailable = errors.New("no bed of required type available")

	// ErrBedNoLongerHeld is returned by admission completion when the bed
	// reserved for the request was externally released or taken out of
	// service between reservation and admission.
	ErrBedNoLongerHeld = errors.New("reserved bed no longer held")

	// ErrStateConflict rejects a transition that is invalid from the
	// entity's current state, e.g. completing admission on a pending request.
	ErrStateConflict = errors.New("state conflict")

	// ErrAlreadyDischarged rejects a discharge of a patient whose status is
	// not admitted.
	ErrAlreadyDischarged = errors.New("patient already discharged")

	// ErrInvariantViolation means a counter would have gone negative or past
	// capacity. Unreachable if conflict handling is correct; checked anyway
	// and logged as a high-severity internal error.
	ErrInvariantViolation = errors.New("availability counter invariant violated")

	// ErrValidation covers malformed geo coordinates and unknown enum values.
	ErrValidation = errors.New("validation failed")

	// ErrNoAmbulanceAvailable is returned when a dispatch needs an ambulance
	// and the assigned hospital has none free.
	ErrNoAmbulanceAvailable = errors.New("no ambulance available")
)

// HealthCheckResponse returns the health check response struct, exported for
// testing purposes
type HealthCheckResponse struct {
	Alive bool `json:"alive"`
}
