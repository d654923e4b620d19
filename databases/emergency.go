package databases

// go generate: mockery --name EmergencyDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medready/hospital-bed-api/models"
)

const emergencyName = "emergencyRequests"

// EmergencyDatabase contains the methods to use with the emergency request
// database. Transition enforces lifecycle ordering the same way bed claims
// do: a conditional update pinned to the expected current status, so an
// out-of-order transition matches nothing and fails with a state conflict.
type EmergencyDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.EmergencyRequest, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.EmergencyRequest, error)
	InsertOne(context.Context, interface{}, ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	Transition(ctx context.Context, requestID primitive.ObjectID, expected models.RequestStatus, next models.RequestStatus, set bson.M, unset bson.M) (*models.EmergencyRequest, error)
}

type emergencyDatabase struct {
	db DatabaseHelper
}

// NewEmergencyDatabase initializes a new instance of emergency database with
// the provided db connection
func NewEmergencyDatabase(db DatabaseHelper) EmergencyDatabase {
	return &emergencyDatabase{
		db: db,
	}
}

func (e *emergencyDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.EmergencyRequest, error) {
	request := &models.EmergencyRequest{}
	err := e.db.Collection(emergencyName).FindOne(ctx, filter, opts...).Decode(&request)
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (e *emergencyDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.EmergencyRequest, error) {
	var requests []models.EmergencyRequest
	cr := e.db.Collection(emergencyName).Find(ctx, filter, opts...)
	err := cr.Decode(&requests)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (e *emergencyDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	res := e.db.Collection(emergencyName).InsertOne(ctx, document, opts...)
	return res, nil
}

// Transition atomically advances a request from the expected lifecycle
// status to next. A miss on an existing request is a state conflict; a miss
// on a missing request is not-found.
func (e *emergencyDatabase) Transition(ctx context.Context, requestID primitive.ObjectID, expected models.RequestStatus, next models.RequestStatus, set bson.M, unset bson.M) (*models.EmergencyRequest, error) {
	if set == nil {
		set = bson.M{}
	}
	set["emergencyRequest.status"] = next
	set["emergencyRequest.updatedAt"] = primitive.NewDateTimeFromTime(time.Now())

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	filter := bson.M{
		"_id":                     requestID,
		"emergencyRequest.status": expected,
	}

	request := &models.EmergencyRequest{}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := e.db.Collection(emergencyName).FindOneAndUpdate(ctx, filter, update, opts).Decode(&request)
	if err == nil {
		return request, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	existing := &models.EmergencyRequest{}
	err = e.db.Collection(emergencyName).FindOne(ctx, bson.M{"_id": requestID}).Decode(&existing)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return nil, models.ErrStateConflict
}
