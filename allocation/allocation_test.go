package allocation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medready/hospital-bed-api/allocation"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/models"
)

// passthroughTx runs the function directly. The fakes below do their own
// locking, so transactional atomicity reduces to the CAS on bed status.
type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.BedEvent
}

func (p *recordingPublisher) PublishBed(hospitalID, bedID string, bedType models.BedType, newStatus models.BedStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, models.BedEvent{
		HospitalID: hospitalID,
		BedID:      bedID,
		BedType:    bedType,
		NewStatus:  newStatus,
	})
}

// memBedDB is an in-memory bed store whose Transition has the same
// compare-and-swap semantics as the mongo implementation: under one lock the
// expected status is checked and the write applied, so concurrent callers
// cannot both win.
type memBedDB struct {
	mu   sync.Mutex
	beds map[primitive.ObjectID]*models.Bed
}

func newMemBedDB(beds ...*models.Bed) *memBedDB {
	db := &memBedDB{beds: make(map[primitive.ObjectID]*models.Bed)}
	for _, b := range beds {
		db.beds[b.ID] = b
	}
	return db
}

func (m *memBedDB) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := filter.(bson.M)
	id := f["_id"].(primitive.ObjectID)
	bed, ok := m.beds[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if hospitalID, ok := f["bed.hospitalID"].(primitive.ObjectID); ok && bed.Details.HospitalID != hospitalID {
		return nil, models.ErrNotFound
	}
	copied := *bed
	return &copied, nil
}

func (m *memBedDB) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Bed, error) {
	return nil, nil
}

func (m *memBedDB) FindAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType *models.BedType) ([]models.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Bed
	for _, bed := range m.beds {
		if bed.Details.HospitalID != hospitalID || bed.Details.Status != models.BedStatusAvailable || bed.Details.Retired {
			continue
		}
		if bedType != nil && bed.Details.BedType != *bedType {
			continue
		}
		out = append(out, *bed)
	}
	return out, nil
}

func (m *memBedDB) InsertMany(ctx context.Context, beds []interface{}) error {
	return nil
}

func (m *memBedDB) Transition(ctx context.Context, hospitalID, bedID primitive.ObjectID, expected models.BedStatus, next models.BedStatus, set bson.M, unset bson.M) (*models.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bed, ok := m.beds[bedID]
	if !ok || bed.Details.HospitalID != hospitalID || bed.Details.Retired {
		return nil, models.ErrNotFound
	}
	if bed.Details.Status != expected {
		return nil, models.ErrBedUnavailable
	}
	bed.Details.Status = next
	if patientID, ok := set["bed.currentPatientId"].(primitive.ObjectID); ok {
		bed.Details.CurrentPatientID = &patientID
	}
	if _, ok := unset["bed.currentPatientId"]; ok {
		bed.Details.CurrentPatientID = nil
	}
	copied := *bed
	return &copied, nil
}

func (m *memBedDB) CountByStatus(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, status models.BedStatus) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, bed := range m.beds {
		if bed.Details.HospitalID == hospitalID && bed.Details.BedType == bedType && bed.Details.Status == status && !bed.Details.Retired {
			n++
		}
	}
	return n, nil
}

// memHospitalDB maintains the cached availability counters with the same
// bound guards as the mongo implementation.
type memHospitalDB struct {
	mu         sync.Mutex
	id         primitive.ObjectID
	totals     map[models.BedType]int
	available  map[models.BedType]int
	ambulances int
	maxAmb     int
}

func newMemHospitalDB(id primitive.ObjectID, totals, available map[models.BedType]int) *memHospitalDB {
	return &memHospitalDB{id: id, totals: totals, available: available}
}

func (m *memHospitalDB) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Hospital, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := models.BedCounts{}
	for t, n := range m.available {
		counts[t] = n
	}
	totals := models.BedCounts{}
	for t, n := range m.totals {
		totals[t] = n
	}
	return &models.Hospital{
		ID: m.id,
		Details: models.HospitalDetails{
			TotalBeds:     totals,
			AvailableBeds: counts,
			IsActive:      true,
		},
	}, nil
}

func (m *memHospitalDB) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Hospital, error) {
	return nil, nil
}

func (m *memHospitalDB) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	return nil, nil
}

func (m *memHospitalDB) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error) {
	return 1, nil
}

func (m *memHospitalDB) AdjustAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.available[bedType] + delta
	if next < 0 || next > m.totals[bedType] {
		return models.ErrInvariantViolation
	}
	m.available[bedType] = next
	return nil
}

func (m *memHospitalDB) AdjustAmbulances(ctx context.Context, hospitalID primitive.ObjectID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.ambulances + delta
	if next < 0 || next > m.maxAmb {
		return models.ErrNoAmbulanceAvailable
	}
	m.ambulances = next
	return nil
}

func (m *memHospitalDB) SetAvailableCount(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available[bedType] = count
	return nil
}

func (m *memHospitalDB) Nearby(ctx context.Context, point models.GeoJSON, radiusMeters float64, limit int, filter databases.NearbyFilter) ([]models.Hospital, error) {
	return nil, nil
}

func (m *memHospitalDB) availableFor(t models.BedType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available[t]
}

func newBed(hospitalID primitive.ObjectID, bedType models.BedType, status models.BedStatus) *models.Bed {
	return &models.Bed{
		ID: primitive.NewObjectID(),
		Details: models.BedDetails{
			HospitalID: hospitalID,
			BedNumber:  string(bedType) + "-001",
			BedType:    bedType,
			Status:     status,
		},
	}
}

func newService(beds *memBedDB, hospitals *memHospitalDB) (*allocation.Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	return allocation.New(beds, hospitals, passthroughTx{}, pub), pub
}

func TestClaimBedConcurrentClaimsOneWinner(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeICU, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeICU: 1},
		map[models.BedType]int{models.BedTypeICU: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	patientA := primitive.NewObjectID()
	patientB := primitive.NewObjectID()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.ClaimBed(context.Background(), hospitalID, bed.ID, patientA)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.ClaimBed(context.Background(), hospitalID, bed.ID, patientB)
	}()
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, models.ErrBedUnavailable)
		}
	}
	assert.Equal(t, 1, winners, "exactly one claim must win")
	assert.Equal(t, 0, hospitalDB.availableFor(models.BedTypeICU), "counter must drop exactly once")

	final, err := bedDB.FindOne(context.Background(), bson.M{"_id": bed.ID})
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusOccupied, final.Details.Status)
	assert.NotNil(t, final.Details.CurrentPatientID)
}

func TestClaimReleaseRoundTrip(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeGeneral, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeGeneral: 3},
		map[models.BedType]int{models.BedTypeGeneral: 3},
	)
	svc, pub := newService(bedDB, hospitalDB)

	claimed, err := svc.ClaimBed(context.Background(), hospitalID, bed.ID, primitive.NewObjectID())
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusOccupied, claimed.Details.Status)
	assert.Equal(t, 2, hospitalDB.availableFor(models.BedTypeGeneral))

	released, err := svc.ReleaseBed(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusAvailable, released.Details.Status)
	assert.Nil(t, released.Details.CurrentPatientID)
	assert.Equal(t, 3, hospitalDB.availableFor(models.BedTypeGeneral))

	assert.Len(t, pub.events, 2)
	assert.Equal(t, models.BedStatusOccupied, pub.events[0].NewStatus)
	assert.Equal(t, models.BedStatusAvailable, pub.events[1].NewStatus)
}

func TestReserveThenConfirmKeepsCounter(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeEmergency, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeEmergency: 2},
		map[models.BedType]int{models.BedTypeEmergency: 2},
	)
	svc, _ := newService(bedDB, hospitalDB)

	reserved, err := svc.ReserveBed(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusReserved, reserved.Details.Status)
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeEmergency))

	// Reserved beds are exclusive: a direct claim must lose.
	_, err = svc.ClaimBed(context.Background(), hospitalID, bed.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrBedUnavailable)

	confirmed, err := svc.ConfirmReserved(context.Background(), hospitalID, bed.ID, primitive.NewObjectID())
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusOccupied, confirmed.Details.Status)
	// counter already dropped at reservation, confirm must not drop it again
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeEmergency))
}

func TestReserveThenReleaseRestoresCounter(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeICU, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeICU: 1},
		map[models.BedType]int{models.BedTypeICU: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	_, err := svc.ReserveBed(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, hospitalDB.availableFor(models.BedTypeICU))

	_, err = svc.ReleaseBed(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeICU))
}

func TestReleaseHoldRestoresCounter(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeICU, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeICU: 1},
		map[models.BedType]int{models.BedTypeICU: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	_, err := svc.ReserveBed(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, hospitalDB.availableFor(models.BedTypeICU))

	released, err := svc.ReleaseHold(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusAvailable, released.Details.Status)
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeICU))
}

func TestReleaseHoldRefusesOccupiedBed(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeICU, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeICU: 1},
		map[models.BedType]int{models.BedTypeICU: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	_, err := svc.ReserveBed(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	_, err = svc.ConfirmReserved(context.Background(), hospitalID, bed.ID, primitive.NewObjectID())
	assert.NoError(t, err)

	// once the hold became an occupied bed it is the patient's, a late hold
	// release must not free it or bump the counter
	_, err = svc.ReleaseHold(context.Background(), hospitalID, bed.ID)
	assert.ErrorIs(t, err, models.ErrBedUnavailable)
	assert.Equal(t, 0, hospitalDB.availableFor(models.BedTypeICU))
}

func TestReleaseAlreadyAvailable(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeGeneral, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeGeneral: 1},
		map[models.BedType]int{models.BedTypeGeneral: 1},
	)
	svc, pub := newService(bedDB, hospitalDB)

	_, err := svc.ReleaseBed(context.Background(), hospitalID, bed.ID)
	assert.ErrorIs(t, err, models.ErrAlreadyAvailable)
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeGeneral))
	assert.Empty(t, pub.events)
}

func TestReleaseMaintenanceBedConflicts(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeGeneral, models.BedStatusMaintenance)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeGeneral: 1},
		map[models.BedType]int{models.BedTypeGeneral: 0},
	)
	svc, _ := newService(bedDB, hospitalDB)

	_, err := svc.ReleaseBed(context.Background(), hospitalID, bed.ID)
	assert.ErrorIs(t, err, models.ErrStateConflict)
}

func TestMaintenanceRoundTrip(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeVentilator, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeVentilator: 1},
		map[models.BedType]int{models.BedTypeVentilator: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	marked, err := svc.MarkMaintenance(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusMaintenance, marked.Details.Status)
	assert.Equal(t, 0, hospitalDB.availableFor(models.BedTypeVentilator))

	// an occupied or reserved transition out of maintenance is not possible
	_, err = svc.ClaimBed(context.Background(), hospitalID, bed.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrBedUnavailable)

	cleared, err := svc.ClearMaintenance(context.Background(), hospitalID, bed.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.BedStatusAvailable, cleared.Details.Status)
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeVentilator))
}

func TestClaimBedNotFound(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bedDB := newMemBedDB()
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{},
		map[models.BedType]int{},
	)
	svc, _ := newService(bedDB, hospitalDB)

	_, err := svc.ClaimBed(context.Background(), hospitalID, primitive.NewObjectID(), primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClaimBedWrongHospital(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeICU, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeICU: 1},
		map[models.BedType]int{models.BedTypeICU: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	_, err := svc.ClaimBed(context.Background(), primitive.NewObjectID(), bed.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestReconcileRepairsDrift(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	icuAvailable := newBed(hospitalID, models.BedTypeICU, models.BedStatusAvailable)
	icuOccupied := newBed(hospitalID, models.BedTypeICU, models.BedStatusOccupied)
	general := newBed(hospitalID, models.BedTypeGeneral, models.BedStatusAvailable)
	bedDB := newMemBedDB(icuAvailable, icuOccupied, general)

	// cached counters drifted: icu says 2 available, truth is 1
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeICU: 2, models.BedTypeGeneral: 1},
		map[models.BedType]int{models.BedTypeICU: 2, models.BedTypeGeneral: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	corrections, err := svc.Reconcile(context.Background(), hospitalID)
	assert.NoError(t, err)
	assert.Equal(t, map[models.BedType]int{models.BedTypeICU: -1}, corrections)
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeICU))
	assert.Equal(t, 1, hospitalDB.availableFor(models.BedTypeGeneral))
}

func TestReconcileNoDrift(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bed := newBed(hospitalID, models.BedTypeGeneral, models.BedStatusAvailable)
	bedDB := newMemBedDB(bed)
	hospitalDB := newMemHospitalDB(hospitalID,
		map[models.BedType]int{models.BedTypeGeneral: 1},
		map[models.BedType]int{models.BedTypeGeneral: 1},
	)
	svc, _ := newService(bedDB, hospitalDB)

	corrections, err := svc.Reconcile(context.Background(), hospitalID)
	assert.NoError(t, err)
	assert.Empty(t, corrections)
}
