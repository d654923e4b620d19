package admission_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medready/hospital-bed-api/admission"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/models"
)

// stubHospitalDB serves a single hospital honoring the isActive filter
type stubHospitalDB struct {
	hospital models.Hospital
}

func (s *stubHospitalDB) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Hospital, error) {
	f := filter.(bson.M)
	if id, ok := f["_id"].(primitive.ObjectID); ok && id != s.hospital.ID {
		return nil, models.ErrNotFound
	}
	if active, ok := f["hospital.isActive"].(bool); ok && active != s.hospital.Details.IsActive {
		return nil, models.ErrNotFound
	}
	copied := s.hospital
	return &copied, nil
}

func (s *stubHospitalDB) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Hospital, error) {
	return nil, nil
}

func (s *stubHospitalDB) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	return nil, nil
}

func (s *stubHospitalDB) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (int64, error) {
	return 1, nil
}

func (s *stubHospitalDB) AdjustAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, delta int) error {
	return nil
}

func (s *stubHospitalDB) AdjustAmbulances(ctx context.Context, hospitalID primitive.ObjectID, delta int) error {
	return nil
}

func (s *stubHospitalDB) SetAvailableCount(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, count int) error {
	return nil
}

func (s *stubHospitalDB) Nearby(ctx context.Context, point models.GeoJSON, radiusMeters float64, limit int, filter databases.NearbyFilter) ([]models.Hospital, error) {
	return nil, nil
}

// stubPatientDB records inserts and serves Discharge from a seeded patient
type stubPatientDB struct {
	mu         sync.Mutex
	inserted   []models.Patient
	insertErr  error
	discharged *models.Patient
	dischErr   error
	notes      string
}

func (s *stubPatientDB) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Patient, error) {
	return nil, models.ErrNotFound
}

func (s *stubPatientDB) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Patient, error) {
	return nil, nil
}

func (s *stubPatientDB) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (databases.InsertOneResultHelper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.inserted = append(s.inserted, document.(models.Patient))
	return nil, nil
}

func (s *stubPatientDB) Delete(ctx context.Context, patientID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.inserted {
		if s.inserted[i].ID == patientID {
			s.inserted = append(s.inserted[:i], s.inserted[i+1:]...)
			break
		}
	}
	return nil
}

func (s *stubPatientDB) Discharge(ctx context.Context, hospitalID, patientID primitive.ObjectID, notes string) (*models.Patient, error) {
	if s.dischErr != nil {
		return nil, s.dischErr
	}
	s.notes = notes
	return s.discharged, nil
}

// claimTracker implements the admission allocator over a single bed
type claimTracker struct {
	mu       sync.Mutex
	bedID    primitive.ObjectID
	claimed  bool
	released []primitive.ObjectID
	claimErr error
}

func (c *claimTracker) ClaimBed(ctx context.Context, hospitalID, bedID, patientID primitive.ObjectID) (*models.Bed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimErr != nil {
		return nil, c.claimErr
	}
	if bedID != c.bedID {
		return nil, models.ErrNotFound
	}
	if c.claimed {
		return nil, models.ErrBedUnavailable
	}
	c.claimed = true
	return &models.Bed{ID: bedID}, nil
}

func (c *claimTracker) ReleaseBed(ctx context.Context, hospitalID, bedID primitive.ObjectID) (*models.Bed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.claimed {
		return nil, models.ErrAlreadyAvailable
	}
	c.claimed = false
	c.released = append(c.released, bedID)
	return &models.Bed{ID: bedID}, nil
}

func activeHospital() models.Hospital {
	return models.Hospital{
		ID: primitive.NewObjectID(),
		Details: models.HospitalDetails{
			Name:     "City General",
			IsActive: true,
		},
	}
}

func admitRequest(bedID string) admission.AdmitRequest {
	return admission.AdmitRequest{
		Name:         "Vikram Shah",
		Age:          67,
		Gender:       "male",
		Reason:       "pneumonia",
		Severity:     "moderate",
		ExpectedStay: 4,
		BedID:        bedID,
	}
}

func TestAdmitDirectWithBed(t *testing.T) {
	hospital := activeHospital()
	bedID := primitive.NewObjectID()
	allocator := &claimTracker{bedID: bedID}
	patients := &stubPatientDB{}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, allocator)

	patient, err := svc.AdmitDirect(context.Background(), hospital.ID, admitRequest(bedID.Hex()))
	assert.NoError(t, err)
	assert.Equal(t, models.PatientStatusAdmitted, patient.Details.Status)
	assert.Equal(t, hospital.ID, patient.Details.AdmittedTo.HospitalID)
	assert.Equal(t, bedID, *patient.Details.AdmittedTo.BedID)
	assert.Equal(t, models.SeverityModerate, patient.Details.AdmittedTo.Severity)
	assert.True(t, allocator.claimed)
	assert.Len(t, patients.inserted, 1)
}

func TestAdmitDirectWithoutBed(t *testing.T) {
	hospital := activeHospital()
	patients := &stubPatientDB{}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, &claimTracker{})

	patient, err := svc.AdmitDirect(context.Background(), hospital.ID, admitRequest(""))
	assert.NoError(t, err)
	assert.Nil(t, patient.Details.AdmittedTo.BedID)
	assert.Len(t, patients.inserted, 1)
}

func TestAdmitDirectLostBedRace(t *testing.T) {
	hospital := activeHospital()
	bedID := primitive.NewObjectID()
	allocator := &claimTracker{bedID: bedID, claimed: true} // someone got there first
	patients := &stubPatientDB{}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, allocator)

	_, err := svc.AdmitDirect(context.Background(), hospital.ID, admitRequest(bedID.Hex()))
	assert.ErrorIs(t, err, models.ErrBedUnavailable)
	assert.Empty(t, patients.inserted)
}

func TestAdmitDirectValidation(t *testing.T) {
	hospital := activeHospital()
	svc := admission.New(&stubPatientDB{}, &stubHospitalDB{hospital: hospital}, &claimTracker{})

	in := admitRequest("")
	in.Name = ""
	_, err := svc.AdmitDirect(context.Background(), hospital.ID, in)
	assert.ErrorIs(t, err, models.ErrValidation)

	in = admitRequest("")
	in.Severity = "grave"
	_, err = svc.AdmitDirect(context.Background(), hospital.ID, in)
	assert.ErrorIs(t, err, models.ErrValidation)

	in = admitRequest("not-an-object-id")
	_, err = svc.AdmitDirect(context.Background(), hospital.ID, in)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAdmitDirectInactiveHospital(t *testing.T) {
	hospital := activeHospital()
	hospital.Details.IsActive = false
	svc := admission.New(&stubPatientDB{}, &stubHospitalDB{hospital: hospital}, &claimTracker{})

	_, err := svc.AdmitDirect(context.Background(), hospital.ID, admitRequest(""))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAdmitDirectInsertFailureReleasesBed(t *testing.T) {
	hospital := activeHospital()
	bedID := primitive.NewObjectID()
	allocator := &claimTracker{bedID: bedID}
	patients := &stubPatientDB{insertErr: errors.New("write concern timeout")}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, allocator)

	_, err := svc.AdmitDirect(context.Background(), hospital.ID, admitRequest(bedID.Hex()))
	assert.Error(t, err)
	// the claimed bed must not stay occupied behind the failed insert
	assert.False(t, allocator.claimed)
	assert.Equal(t, []primitive.ObjectID{bedID}, allocator.released)
}

func TestDischargeReleasesBed(t *testing.T) {
	hospital := activeHospital()
	bedID := primitive.NewObjectID()
	allocator := &claimTracker{bedID: bedID, claimed: true}
	patients := &stubPatientDB{
		discharged: &models.Patient{
			ID: primitive.NewObjectID(),
			Details: models.PatientDetails{
				Status: models.PatientStatusDischarged,
				AdmittedTo: &models.AdmissionInfo{
					HospitalID: hospital.ID,
					BedID:      &bedID,
				},
			},
		},
	}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, allocator)

	patient, err := svc.Discharge(context.Background(), hospital.ID, patients.discharged.ID, "recovered")
	assert.NoError(t, err)
	assert.Equal(t, models.PatientStatusDischarged, patient.Details.Status)
	assert.Equal(t, "recovered", patients.notes)
	assert.Equal(t, []primitive.ObjectID{bedID}, allocator.released)
}

func TestDischargeBedlessPatient(t *testing.T) {
	hospital := activeHospital()
	allocator := &claimTracker{}
	patients := &stubPatientDB{
		discharged: &models.Patient{
			ID: primitive.NewObjectID(),
			Details: models.PatientDetails{
				Status:     models.PatientStatusDischarged,
				AdmittedTo: &models.AdmissionInfo{HospitalID: hospital.ID},
			},
		},
	}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, allocator)

	_, err := svc.Discharge(context.Background(), hospital.ID, patients.discharged.ID, "")
	assert.NoError(t, err)
	assert.Empty(t, allocator.released)
}

func TestDischargeAlreadyDischarged(t *testing.T) {
	hospital := activeHospital()
	patients := &stubPatientDB{dischErr: models.ErrAlreadyDischarged}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, &claimTracker{})

	_, err := svc.Discharge(context.Background(), hospital.ID, primitive.NewObjectID(), "")
	assert.ErrorIs(t, err, models.ErrAlreadyDischarged)
}

func TestDischargeToleratesAlreadyAvailableBed(t *testing.T) {
	hospital := activeHospital()
	bedID := primitive.NewObjectID()
	allocator := &claimTracker{bedID: bedID} // bed already free
	patients := &stubPatientDB{
		discharged: &models.Patient{
			ID: primitive.NewObjectID(),
			Details: models.PatientDetails{
				Status: models.PatientStatusDischarged,
				AdmittedTo: &models.AdmissionInfo{
					HospitalID: hospital.ID,
					BedID:      &bedID,
				},
			},
		},
	}
	svc := admission.New(patients, &stubHospitalDB{hospital: hospital}, allocator)

	_, err := svc.Discharge(context.Background(), hospital.ID, patients.discharged.ID, "")
	assert.NoError(t, err)
}
