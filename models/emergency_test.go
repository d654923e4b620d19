package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medready/hospital-bed-api/models"
)

func TestParseSeverity(t *testing.T) {
	for _, raw := range []string{"critical", "severe", "moderate"} {
		parsed, err := models.ParseSeverity(raw)
		assert.NoError(t, err)
		assert.Equal(t, models.Severity(raw), parsed)
	}

	_, err := models.ParseSeverity("mild")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRequestStatusTerminal(t *testing.T) {
	assert.True(t, models.RequestStatusCompleted.Terminal())
	assert.True(t, models.RequestStatusCancelled.Terminal())

	assert.False(t, models.RequestStatusPending.Terminal())
	assert.False(t, models.RequestStatusHospitalAssigned.Terminal())
	assert.False(t, models.RequestStatusAmbulanceDispatched.Terminal())
	assert.False(t, models.RequestStatusPatientAdmitted.Terminal())
}

func TestGeoJSONValidate(t *testing.T) {
	assert.NoError(t, models.NewPoint(77.209, 28.6139).Validate())

	err := models.NewPoint(200, 0).Validate()
	assert.ErrorIs(t, err, models.ErrValidation)

	err = models.NewPoint(0, -95).Validate()
	assert.ErrorIs(t, err, models.ErrValidation)

	err = models.GeoJSON{Type: "Polygon", Coordinates: []float64{1, 2}}.Validate()
	assert.ErrorIs(t, err, models.ErrValidation)

	err = models.GeoJSON{Type: "Point", Coordinates: []float64{1}}.Validate()
	assert.ErrorIs(t, err, models.ErrValidation)
}
