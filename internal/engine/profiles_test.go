package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfleet/camfleet-server/internal/driver"
	"github.com/camfleet/camfleet-server/internal/models"
)

func testProfile(values models.Settings) *models.Profile {
	return &models.Profile{
		ID:            uuid.New(),
		Name:          "studio",
		SettingValues: values,
	}
}

func TestApplyProfileWithoutCapture(t *testing.T) {
	d, fx := newTestDispatcher(t, 2)
	a := NewProfileApplier(d)

	report, err := a.ApplyAndOptionallyCapture(context.Background(),
		testProfile(models.Settings{models.SettingISO: "400"}),
		[]string{mockCam1, mockCam2}, false, models.CaptureJob{}, BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, "studio", report.ProfileName)
	assert.True(t, report.ConfigResult.AllSucceeded())
	assert.Nil(t, report.CaptureResult)

	s, _ := fx.Registry.Get(mockCam1)
	assert.Equal(t, "400", s.Settings[models.SettingISO])
}

func TestApplyProfileThenCapture(t *testing.T) {
	d, fx := newTestDispatcher(t, 2)
	a := NewProfileApplier(d)

	report, err := a.ApplyAndOptionallyCapture(context.Background(),
		testProfile(models.Settings{models.SettingISO: "800"}),
		[]string{mockCam1, mockCam2}, true,
		models.CaptureJob{FilenamePrefix: "studio"}, BatchOptions{})
	require.NoError(t, err)

	require.NotNil(t, report.CaptureResult)
	assert.True(t, report.CaptureResult.AllSucceeded())
	assert.Len(t, report.CaptureResult.PerSession, 2)
	assert.Equal(t, 1, fx.Driver.Captures(mockCam1))
	assert.Equal(t, 1, fx.Driver.Captures(mockCam2))
}

func TestApplyProfileSkipsMisconfiguredSessions(t *testing.T) {
	d, fx := newTestDispatcher(t, 2)
	a := NewProfileApplier(d)

	// cam2 declines the profile value; capture must proceed on cam1 only
	fx.Driver.FailWith(mockCam2, driver.OpSetSetting, driver.FailureRejected, "value not accepted")

	report, err := a.ApplyAndOptionallyCapture(context.Background(),
		testProfile(models.Settings{models.SettingISO: "800"}),
		[]string{mockCam1, mockCam2}, true,
		models.CaptureJob{}, BatchOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSuccess, report.ConfigResult.PerSession[mockCam1].Status)
	assert.Equal(t, models.OutcomeFailed, report.ConfigResult.PerSession[mockCam2].Status)

	require.NotNil(t, report.CaptureResult)
	require.Len(t, report.CaptureResult.PerSession, 2)
	assert.Equal(t, models.OutcomeSuccess, report.CaptureResult.PerSession[mockCam1].Status)

	skipped := report.CaptureResult.PerSession[mockCam2]
	assert.Equal(t, models.OutcomeSkipped, skipped.Status)
	assert.Equal(t, models.ErrorConfigFailed, skipped.ErrorKind)

	assert.Equal(t, 1, fx.Driver.Captures(mockCam1))
	assert.Equal(t, 0, fx.Driver.Captures(mockCam2))
}

func TestApplyProfileNoSessionConfigured(t *testing.T) {
	d, fx := newTestDispatcher(t, 2)
	a := NewProfileApplier(d)

	fx.Driver.FailWith(mockCam1, driver.OpSetSetting, driver.FailureRejected, "no")
	fx.Driver.FailWith(mockCam2, driver.OpSetSetting, driver.FailureRejected, "no")

	report, err := a.ApplyAndOptionallyCapture(context.Background(),
		testProfile(models.Settings{models.SettingISO: "800"}),
		[]string{mockCam1, mockCam2}, true,
		models.CaptureJob{}, BatchOptions{})
	require.NoError(t, err)

	// nothing configured, nothing captured, but every target is accounted for
	require.NotNil(t, report.CaptureResult)
	require.Len(t, report.CaptureResult.PerSession, 2)
	for _, outcome := range report.CaptureResult.PerSession {
		assert.Equal(t, models.OutcomeSkipped, outcome.Status)
		assert.Equal(t, models.ErrorConfigFailed, outcome.ErrorKind)
	}
	assert.Equal(t, 0, fx.Driver.Captures(mockCam1))
	assert.Equal(t, 0, fx.Driver.Captures(mockCam2))
}

func TestApplyProfileCloneIsolation(t *testing.T) {
	d, _ := newTestDispatcher(t, 1)
	a := NewProfileApplier(d)

	profile := testProfile(models.Settings{models.SettingISO: "400"})
	_, err := a.ApplyAndOptionallyCapture(context.Background(), profile,
		[]string{mockCam1}, false, models.CaptureJob{}, BatchOptions{})
	require.NoError(t, err)

	// the applier works on its own copy
	assert.Equal(t, models.Settings{models.SettingISO: "400"}, profile.SettingValues)
}
