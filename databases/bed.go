package databases

// go generate: mockery --name BedDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/medready/hospital-bed-api/models"
)

const bedName = "beds"

// BedDatabase contains the methods to use with the bed database.
//
// Transition is the only mutator for bed status. It is a single-document
// compare-and-swap: the update applies only if the bed still belongs to the
// hospital and still has the expected status, otherwise models.ErrNotFound
// or models.ErrBedUnavailable comes back and nothing was written. This is
// what makes exactly one of two racing claimants win.
type BedDatabase interface {
	FindOne(context.Context, interface{}, ...*options.FindOneOptions) (*models.Bed, error)
	Find(context.Context, interface{}, ...*options.FindOptions) ([]models.Bed, error)
	FindAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType *models.BedType) ([]models.Bed, error)
	InsertMany(ctx context.Context, beds []interface{}) error
	Transition(ctx context.Context, hospitalID, bedID primitive.ObjectID, expected models.BedStatus, next models.BedStatus, set bson.M, unset bson.M) (*models.Bed, error)
	CountByStatus(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, status models.BedStatus) (int64, error)
}

type bedDatabase struct {
	db DatabaseHelper
}

// NewBedDatabase initializes a new instance of bed database with the
// provided db connection
func NewBedDatabase(db DatabaseHelper) BedDatabase {
	return &bedDatabase{
		db: db,
	}
}

func (b *bedDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.Bed, error) {
	bed := &models.Bed{}
	err := b.db.Collection(bedName).FindOne(ctx, filter, opts...).Decode(&bed)
	if err != nil {
		return nil, err
	}
	return bed, nil
}

func (b *bedDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.Bed, error) {
	var beds []models.Bed
	cr := b.db.Collection(bedName).Find(ctx, filter, opts...)
	err := cr.Decode(&beds)
	if err != nil {
		return nil, err
	}
	return beds, nil
}

// FindAvailable returns this hospital's non-retired available beds ordered by
// (bedType, bedNumber) ascending, the order assignment picks from.
func (b *bedDatabase) FindAvailable(ctx context.Context, hospitalID primitive.ObjectID, bedType *models.BedType) ([]models.Bed, error) {
	filter := bson.M{
		"bed.hospitalID": hospitalID,
		"bed.status":     models.BedStatusAvailable,
		"bed.retired":    false,
	}
	if bedType != nil {
		filter["bed.bedType"] = *bedType
	}
	sort := options.Find().SetSort(bson.D{
		{Key: "bed.bedType", Value: 1},
		{Key: "bed.bedNumber", Value: 1},
	})
	return b.Find(ctx, filter, sort)
}

func (b *bedDatabase) InsertMany(ctx context.Context, beds []interface{}) error {
	return b.db.Collection(bedName).InsertMany(ctx, beds)
}

// Transition atomically moves a bed from the expected status to next,
// applying the given field changes in the same write. Returns the updated
// bed. A pair outside the bed state machine fails models.ErrStateConflict
// before any write. A miss is classified by re-reading the bed: a bed that
// exists under this hospital but in another state is a lost race, anything
// else is not-found.
func (b *bedDatabase) Transition(ctx context.Context, hospitalID, bedID primitive.ObjectID, expected models.BedStatus, next models.BedStatus, set bson.M, unset bson.M) (*models.Bed, error) {
	if !expected.CanTransition(next) {
		return nil, models.ErrStateConflict
	}
	if set == nil {
		set = bson.M{}
	}
	set["bed.status"] = next
	set["bed.updatedAt"] = primitive.NewDateTimeFromTime(time.Now())

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	filter := bson.M{
		"_id":            bedID,
		"bed.hospitalID": hospitalID,
		"bed.status":     expected,
		"bed.retired":    false,
	}

	bed := &models.Bed{}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := b.db.Collection(bedName).FindOneAndUpdate(ctx, filter, update, opts).Decode(&bed)
	if err == nil {
		return bed, nil
	}
	if err != mongo.ErrNoDocuments {
		return nil, err
	}

	// CAS missed: figure out whether the bed exists at all under this
	// hospital so the caller can tell a lost race from a bad reference.
	existing := &models.Bed{}
	err = b.db.Collection(bedName).FindOne(ctx, bson.M{"_id": bedID, "bed.hospitalID": hospitalID}).Decode(&existing)
	if err != nil {
		return nil, models.ErrNotFound
	}
	return nil, models.ErrBedUnavailable
}

// CountByStatus counts this hospital's non-retired beds of a type in a given
// status; reconciliation compares this against the cached counter.
func (b *bedDatabase) CountByStatus(ctx context.Context, hospitalID primitive.ObjectID, bedType models.BedType, status models.BedStatus) (int64, error) {
	return b.db.Collection(bedName).CountDocuments(ctx, bson.M{
		"bed.hospitalID": hospitalID,
		"bed.bedType":    bedType,
		"bed.status":     status,
		"bed.retired":    false,
	})
}
