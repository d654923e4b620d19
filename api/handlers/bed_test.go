package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/medready/hospital-bed-api/allocation"
	"github.com/medready/hospital-bed-api/api"
	"github.com/medready/hospital-bed-api/api/handlers"
	"github.com/medready/hospital-bed-api/databases"
	"github.com/medready/hospital-bed-api/databases/mocks"
	"github.com/medready/hospital-bed-api/models"
)

// directTx runs the transactional function inline, no session
type directTx struct{}

func (directTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newBedHandler(dbHelper databases.DatabaseHelper) handlers.Bed {
	bedDB := databases.NewBedDatabase(dbHelper)
	hospitalDB := databases.NewHospitalDatabase(dbHelper)
	return handlers.Bed{
		DB:         bedDB,
		Allocation: allocation.New(bedDB, hospitalDB, directTx{}, nil),
	}
}

func occupyRequest(hospitalID, bedID primitive.ObjectID, body string) *http.Request {
	req, _ := http.NewRequest("PATCH", "/api/v1/bed/"+bedID.Hex()+"/occupy", strings.NewReader(body))
	req = mux.SetURLVars(req, map[string]string{"bed_id": bedID.Hex()})
	req = req.WithContext(api.WithHospitalBinding(req.Context(), hospitalID.Hex()))
	return req
}

func TestBed_OccupyBedHandlerNoBinding(t *testing.T) {
	bedID := primitive.NewObjectID()
	req, _ := http.NewRequest("PATCH", "/api/v1/bed/"+bedID.Hex()+"/occupy", strings.NewReader("{}"))
	req = mux.SetURLVars(req, map[string]string{"bed_id": bedID.Hex()})

	h := handlers.Bed{}

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.OccupyBedHandler).ServeHTTP(rr, req)

	checkStatus(t, http.StatusForbidden, rr.Code)
}

func TestBed_OccupyBedHandlerBadPatientID(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	bedID := primitive.NewObjectID()
	req := occupyRequest(hospitalID, bedID, `{"patientId": "nope"}`)

	h := handlers.Bed{}

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.OccupyBedHandler).ServeHTTP(rr, req)

	checkStatus(t, http.StatusBadRequest, rr.Code)
}

func TestBed_OccupyBedHandlerSuccess(t *testing.T) {
	var dbHelper databases.DatabaseHelper
	var bedColl databases.CollectionHelper
	var hospitalColl databases.CollectionHelper
	var srHelper databases.SingleResultHelper

	dbHelper = &mocks.DatabaseHelper{}
	bedColl = &mocks.CollectionHelper{}
	hospitalColl = &mocks.CollectionHelper{}
	srHelper = &mocks.SingleResultHelper{}

	hospitalID := primitive.NewObjectID()
	bedID := primitive.NewObjectID()
	patientID := primitive.NewObjectID()

	srHelper.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Bed)
		(*arg).ID = bedID
		(*arg).Details.HospitalID = hospitalID
		(*arg).Details.BedType = models.BedTypeICU
		(*arg).Details.Status = models.BedStatusOccupied
		(*arg).Details.CurrentPatientID = &patientID
	})

	bedColl.(*mocks.CollectionHelper).
		On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(srHelper)

	// the paired counter decrement succeeds
	hospitalColl.(*mocks.CollectionHelper).
		On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).
		Return(int64(1), nil)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "beds").Return(bedColl)
	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "hospitals").Return(hospitalColl)

	h := newBedHandler(dbHelper)

	req := occupyRequest(hospitalID, bedID, `{"patientId": "`+patientID.Hex()+`"}`)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.OccupyBedHandler).ServeHTTP(rr, req)

	checkStatus(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "occupied")
}

func TestBed_OccupyBedHandlerLostRace(t *testing.T) {
	var dbHelper databases.DatabaseHelper
	var bedColl databases.CollectionHelper
	var srHelperMiss databases.SingleResultHelper
	var srHelperReRead databases.SingleResultHelper

	dbHelper = &mocks.DatabaseHelper{}
	bedColl = &mocks.CollectionHelper{}
	srHelperMiss = &mocks.SingleResultHelper{}
	srHelperReRead = &mocks.SingleResultHelper{}

	hospitalID := primitive.NewObjectID()
	bedID := primitive.NewObjectID()

	srHelperMiss.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(mongo.ErrNoDocuments)

	// the bed exists but someone else occupied it first
	srHelperReRead.(*mocks.SingleResultHelper).
		On("Decode", mock.Anything).
		Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(**models.Bed)
		(*arg).ID = bedID
		(*arg).Details.Status = models.BedStatusOccupied
	})

	bedColl.(*mocks.CollectionHelper).
		On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(srHelperMiss)

	bedColl.(*mocks.CollectionHelper).
		On("FindOne", mock.Anything, mock.Anything).
		Return(srHelperReRead)

	dbHelper.(*mocks.DatabaseHelper).
		On("Collection", "beds").Return(bedColl)

	h := newBedHandler(dbHelper)

	req := occupyRequest(hospitalID, bedID, `{"patientId": "`+primitive.NewObjectID().Hex()+`"}`)

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.OccupyBedHandler).ServeHTTP(rr, req)

	checkStatus(t, http.StatusConflict, rr.Code)
}

func TestBed_ReleaseBedHandlerBadBedID(t *testing.T) {
	hospitalID := primitive.NewObjectID()
	req, _ := http.NewRequest("PATCH", "/api/v1/bed/nope/release", nil)
	req = mux.SetURLVars(req, map[string]string{"bed_id": "nope"})
	req = req.WithContext(api.WithHospitalBinding(req.Context(), hospitalID.Hex()))

	h := handlers.Bed{}

	rr := httptest.NewRecorder()
	http.HandlerFunc(h.ReleaseBedHandler).ServeHTTP(rr, req)

	checkStatus(t, http.StatusBadRequest, rr.Code)
}
