package databases

// go generate: mockery --name PatientDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medready/hospital-bed-api/models"
)

const patientName = "patients"

// PatientDatabase contains the methods to use with the patient database
type PatientDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Patient, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Patient, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	Delete(ctx context.Context, patientID primitive.ObjectID) error
	Discharge(ctx context.Context, hospitalID, patientID primitive.ObjectID, notes string) (*models.Patient, error)
}

type patientDatabase struct {
	db DatabaseHelper
}

// NewPatientDatabase initializes a new instance of patient database with the
// provided db connection
func NewPatientDatabase(db DatabaseHelper) PatientDatabase {
	return &patientDatabase{
		db: db,
	}
}

func (p *patientDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Patient, error) {
	patient := &models.Patient{}
	err := p.db.Collection(patientName).FindOne(ctx, filter, opts...).Decode(&patient)
	if err != nil {
		return nil, err
	}
	return patient, nil
}

func (p *patientDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Patient, error) {
	var patients []models.Patient
	cr := p.db.Collection(patientName).Find(ctx, filter, opts...)
	err := cr.Decode(&patients)
	if err != nil {
		return nil, err
	}
	return patients, nil
}

func (p *patientDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res := p.db.Collection(patientName).InsertOne(ctx, document, opts...)
	return res, nil
}

// Delete removes a patient record outright. Only admission unwinding uses
// this; a treated patient leaves through Discharge.
func (p *patientDatabase) Delete(ctx context.Context, patientID primitive.ObjectID) error {
	return p.db.Collection(patientName).DeleteOne(ctx, bson.M{"_id": patientID})
}

// Discharge conditionally flips an admitted patient of this hospital to
// discharged, stamping date and notes in the same write. The status pin in
// the filter is what rejects a second discharge. A miss on an existing
// patient of this hospital is an already-discharged conflict; any other
// miss is not-found.
func (p *patientDatabase) Discharge(ctx context.Context, hospitalID, patientID primitive.ObjectID, notes string) (*models.Patient, error) {
	now := primitive.NewDateTimeFromTime(time.Now())
	filter := bson.M{
		"_id":                           patientID,
		"patient.admittedTo.hospitalID": hospitalID,
		"patient.status":                models.PatientStatusAdmitted,
	}
	update := bson.M{
		"$set": bson.M{
			"patient.status":                    models.PatientStatusDischarged,
			"patient.admittedTo.dischargeDate":  now,
			"patient.admittedTo.dischargeNotes": notes,
			"patient.updatedAt":                 now,
		},
	}

	patient := &models.Patient{}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := p.db.Collection(patientName).FindOneAndUpdate(ctx, filter, update, opts).Decode(&patient)
	if err == nil {
		return patient, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	existing := &models.Patient{}
	err = p.db.Collection(patientName).FindOne(ctx, bson.M{
		"_id":                           patientID,
		"patient.admittedTo.hospitalID": hospitalID,
	}).Decode(&existing)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return nil, models.ErrAlreadyDischarged
}
