package models

import "fmt"

// BedType classifies a bed by the level of care it supports.
type BedType string

// Recognized bed types
const (
	BedTypeGeneral    BedType = "general"
	BedTypeICU        BedType = "icu"
	BedTypeEmergency  BedType = "emergency"
	BedTypeVentilator BedType = "ventilator"
)

// BedTypes lists every recognized bed type in a stable order.
var BedTypes = []BedType{BedTypeGeneral, BedTypeICU, BedTypeEmergency, BedTypeVentilator}

// ParseBedType validates a raw string against the closed set of bed types
func ParseBedType(s string) (BedType, error) {
	switch BedType(s) {
	case BedTypeGeneral, BedTypeICU, BedTypeEmergency, BedTypeVentilator:
		return BedType(s), nil
	}
	return "", fmt.Errorf("%w: unknown bed type %q", ErrValidation, s)
}

// BedStatus is the lifecycle state of a single bed.
type BedStatus string

// Bed lifecycle states
const (
	BedStatusAvailable   BedStatus = "available"
	BedStatusOccupied    BedStatus = "occupied"
	BedStatusReserved    BedStatus = "reserved"
	BedStatusMaintenance BedStatus = "maintenance"
)

// bedTransitions encodes the legal status moves. Anything not listed here is
// rejected before touching the database.
var bedTransitions = map[BedStatus][]BedStatus{
	BedStatusAvailable:   {BedStatusOccupied, BedStatusReserved, BedStatusMaintenance},
	BedStatusReserved:    {BedStatusOccupied, BedStatusAvailable},
	BedStatusOccupied:    {BedStatusAvailable},
	BedStatusMaintenance: {BedStatusAvailable},
}

// CanTransition reports whether a bed may move from one status to the next.
func (s BedStatus) CanTransition(next BedStatus) bool {
	for _, allowed := range bedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
