// Package allocation coordinates every bed-state transition with its paired
// hospital counter adjustment. It is the only writer of bed status: claim,
// reserve, release and maintenance all funnel through one conditional
// transition plus one guarded counter update, executed inside a single
// transaction so the pair succeeds or fails together. Two claimants racing
// for the same bed therefore resolve to exactly one winner; the loser gets a
// retryable conflict, never a silent retry.
package allocation

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/models"
)

// TxRunner runs a function inside one transactional boundary. The mongo
// client helper satisfies this with a session transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher receives best-effort bed-status events after a successful
// allocation; it is never on the transaction path.
type Publisher interface {
	PublishBed(hospitalID, bedID string, bedType models.BedType, newStatus models.BedStatus)
}

// Service is the allocation coordinator
type Service struct {
	Beds      databases.BedDatabase
	Hospitals databases.HospitalDatabase
	Tx        TxRunner
	Events    Publisher
}

// New wires an allocation service. Events may be nil when no realtime
// subscribers exist (tests, batch tools).
func New(beds databases.BedDatabase, hospitals databases.HospitalDatabase, tx TxRunner, events Publisher) *Service {
	return &Service{
		Beds:      beds,
		Hospitals: hospitals,
		Tx:        tx,
		Events:    events,
	}
}

// ClaimBed transitions an available bed to occupied for the given patient
// and decrements the hospital's availability counter for the bed's type.
// Fails with models.ErrBedUnavailable when the bed exists but was not
// available at claim time (race lost) and models.ErrNotFound when the bed
// does not exist under this hospital.
func (s *Service) ClaimBed(ctx context.Context, hospitalID, bedID, patientID primitive.ObjectID) (*models.Bed, error) {
	var bed *models.Bed
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := primitive.NewDateTimeFromTime(time.Now())
		b, err := s.Beds.Transition(ctx, hospitalID, bedID,
			models.BedStatusAvailable, models.BedStatusOccupied,
			bson.M{
				"bed.currentPatientId": patientID,
				"bed.occupiedAt":       now,
			},
			bson.M{"bed.reservedAt": ""},
		)
		if err != nil {
			return err
		}
		if err := s.adjustCounter(ctx, hospitalID, b.Details.BedType, -1); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(bed)
	return bed, nil
}

// ConfirmReserved converts a bed held in reserved into occupied for the
// admitted patient. The availability counter already dropped when the bed
// was reserved, so no counter change pairs with this transition. A bed that
// is no longer reserved fails with models.ErrBedUnavailable.
func (s *Service) ConfirmReserved(ctx context.Context, hospitalID, bedID, patientID primitive.ObjectID) (*models.Bed, error) {
	now := primitive.NewDateTimeFromTime(time.Now())
	bed, err := s.Beds.Transition(ctx, hospitalID, bedID,
		models.BedStatusReserved, models.BedStatusOccupied,
		bson.M{
			"bed.currentPatientId": patientID,
			"bed.occupiedAt":       now,
		},
		bson.M{"bed.reservedAt": ""},
	)
	if err != nil {
		return nil, err
	}
	s.publish(bed)
	return bed, nil
}

// ReserveBed holds an available bed for an in-progress emergency assignment
// without a patient identity yet. A reserved bed is not offered to a second
// claimant, so reserving decrements availability; Release reverses it.
func (s *Service) ReserveBed(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error) {
	var bed *models.Bed
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		now := primitive.NewDateTimeFromTime(time.Now())
		b, err := s.Beds.Transition(ctx, hospitalID, bedID,
			models.BedStatusAvailable, models.BedStatusReserved,
			bson.M{"bed.reservedAt": now}, nil,
		)
		if err != nil {
			return err
		}
		if err := s.adjustCounter(ctx, hospitalID, b.Details.BedType, -1); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(bed)
	return bed, nil
}

// ReleaseHold returns a reserved bed to available and restores the
// availability counter. Unlike ReleaseBed it refuses a bed in any other
// state: a hold that was concurrently confirmed into an occupied bed fails
// with models.ErrBedUnavailable instead of being freed out from under the
// admitted patient. Callers unwinding a hold treat that error as the hold
// being gone already.
func (s *Service) ReleaseHold(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error) {
	var bed *models.Bed
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.Beds.Transition(ctx, hospitalID, bedID,
			models.BedStatusReserved, models.BedStatusAvailable,
			nil,
			bson.M{"bed.reservedAt": ""},
		)
		if err != nil {
			return err
		}
		if err := s.adjustCounter(ctx, hospitalID, b.Details.BedType, 1); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(bed)
	return bed, nil
}

// ReleaseBed returns an occupied or reserved bed to available, clears
// occupant and hold fields, and increments the availability counter. A bed
// already available fails with models.ErrAlreadyAvailable; a bed in
// maintenance must go through ClearMaintenance instead.
func (s *Service) ReleaseBed(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error) {
	var bed *models.Bed
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		current, err := s.Beds.FindOne(ctx, bson.M{"_id": bedID, "bed.hospitalID": hospitalID})
		if err != nil {
			return models.ErrNotFound
		}
		switch current.Details.Status {
		case models.BedStatusAvailable:
			return models.ErrAlreadyAvailable
		case models.BedStatusMaintenance:
			return models.ErrStateConflict
		}

		b, err := s.Beds.Transition(ctx, hospitalID, bedID,
			current.Details.Status, models.BedStatusAvailable,
			nil,
			bson.M{
				"bed.currentPatientId":    "",
				"bed.occupiedAt":          "",
				"bed.reservedAt":          "",
				"bed.expectedReleaseTime": "",
			},
		)
		if err != nil {
			return err
		}
		if err := s.adjustCounter(ctx, hospitalID, b.Details.BedType, 1); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(bed)
	return bed, nil
}

// MarkMaintenance takes an available bed out of service. The bed stops being
// offered, so availability drops by one; ClearMaintenance restores it. The
// pairing keeps maintenance from ever double-counting against availability.
func (s *Service) MarkMaintenance(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error) {
	var bed *models.Bed
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.Beds.Transition(ctx, hospitalID, bedID,
			models.BedStatusAvailable, models.BedStatusMaintenance,
			nil, nil,
		)
		if err != nil {
			return err
		}
		if err := s.adjustCounter(ctx, hospitalID, b.Details.BedType, -1); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(bed)
	return bed, nil
}

// ClearMaintenance returns a maintenance bed to service
func (s *Service) ClearMaintenance(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error) {
	var bed *models.Bed
	err := s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		b, err := s.Beds.Transition(ctx, hospitalID, bedID,
			models.BedStatusMaintenance, models.BedStatusAvailable,
			nil, nil,
		)
		if err != nil {
			return err
		}
		if err := s.adjustCounter(ctx, hospitalID, b.Details.BedType, 1); err != nil {
			return err
		}
		bed = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(bed)
	return bed, nil
}

// ListAvailable returns a hospital's available beds, optionally narrowed to
// one bed type, ordered by (bedType, bedNumber).
func (s *Service) ListAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType *models.BedType) ([]models.Bed, error) {
	return s.Beds.FindAvailable(ctx, hospitalID, bedType)
}

// Reconcile recomputes every availability counter for a hospital from the
// authoritative bed records and repairs any drift. Bed status is the source
// of truth; the counters are a materialized cache. Returns the per-type
// corrections that were applied.
func (s *Service) Reconcile(ctx context.Context, hospitalID primitive.ObjectID) (map[models.BedType]int, error) {
	hospital, err := s.Hospitals.FindOne(ctx, bson.M{"_id": hospitalID})
	if err != nil {
		return nil, models.ErrNotFound
	}

	corrections := make(map[models.BedType]int)
	for _, bedType := range models.BedTypes {
		actual, err := s.Beds.CountByStatus(ctx, hospitalID, bedType, models.BedStatusAvailable)
		if err != nil {
			return nil, err
		}
		cached := hospital.Details.AvailableBeds.Get(bedType)
		if int(actual) == cached {
			continue
		}
		zap.S().Warnw("availability counter drift detected",
			"hospitalId", hospitalID.Hex(),
			"bedType", bedType,
			"cached", cached,
			"actual", actual,
		)
		if err := s.Hospitals.SetAvailableCount(ctx, hospitalID, bedType, int(actual)); err != nil {
			return nil, err
		}
		corrections[bedType] = int(actual) - cached
	}
	return corrections, nil
}

// adjustCounter pairs a bed transition with its counter change. A guard
// failure here means the cache disagreed with bed state, which conflict
// handling should make unreachable; it is logged as an internal error and
// aborts the surrounding transaction so neither write lands.
func (s *Service) adjustCounter(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, delta int) error {
	err := s.Hospitals.AdjustAvailable(ctx, hospitalID, bedType, delta)
	if err == models.ErrInvariantViolation {
		zap.S().Errorw("availability counter invariant violated, aborting allocation",
			"hospitalId", hospitalID.Hex(),
			"bedType", bedType,
			"delta", delta,
		)
	}
	return err
}

func (s *Service) publish(bed *models.Bed) {
	if s.Events == nil || bed == nil {
		return
	}
	s.Events.PublishBed(bed.Details.HospitalID.Hex(), bed.ID.Hex(), bed.Details.BedType, bed.Details.Status)
}
