package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfleet/camfleet-server/internal/config"
	"github.com/camfleet/camfleet-server/internal/driver"
	"github.com/camfleet/camfleet-server/internal/models"
	"github.com/camfleet/camfleet-server/internal/naming"
)

const (
	mockCam1 = "mock:001,001"
	mockCam2 = "mock:001,002"
	mockCam3 = "mock:001,003"
)

func newTestDispatcher(t *testing.T, devices int) (*Dispatcher, *mockFixture) {
	t.Helper()

	drv := driver.NewMockDriver(devices)
	registry := NewRegistry()

	infos, err := drv.Detect(context.Background())
	require.NoError(t, err)
	for _, info := range infos {
		registry.Upsert(&models.Session{
			ID:           info.ID,
			DisplayName:  info.DisplayName,
			Connectivity: models.ConnectivityConnected,
			Settings:     models.Settings{models.SettingFormat: "JPEG (Standard)"},
		})
	}

	namer := naming.NewNamer(t.TempDir(), false)
	d := NewDispatcher(registry, drv, namer, &config.EngineConfig{
		MaxConcurrency: 4,
		DefaultTimeout: 2 * time.Second,
	})
	return d, &mockFixture{Driver: drv, Registry: registry}
}

// mockFixture bundles the pieces a dispatcher test pokes at
type mockFixture struct {
	Driver   *driver.MockDriver
	Registry *Registry
}

func TestRunCaptureAllSucceed(t *testing.T) {
	d, fx := newTestDispatcher(t, 2)

	result, err := d.RunCapture(context.Background(), models.CaptureJob{
		TargetSessionIDs: []string{mockCam1, mockCam2},
		FilenamePrefix:   "shoot",
	}, BatchOptions{})
	require.NoError(t, err)

	require.Len(t, result.PerSession, 2)
	for id, outcome := range result.PerSession {
		assert.Equal(t, models.OutcomeSuccess, outcome.Status, "session %s", id)
		assert.NotEmpty(t, outcome.Payload)
	}
	assert.True(t, result.AllSucceeded())
	assert.Equal(t, models.JobKindCapture, result.Kind)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	// busy-locks released
	for _, id := range []string{mockCam1, mockCam2} {
		s, ok := fx.Registry.Get(id)
		require.True(t, ok)
		assert.False(t, s.Busy)
	}

	assert.Equal(t, 1, fx.Driver.Captures(mockCam1))
	assert.Equal(t, 1, fx.Driver.Captures(mockCam2))
}

func TestRunCaptureFormatPreferenceGatesDownload(t *testing.T) {
	d, fx := newTestDispatcher(t, 2)

	// cam2 shoots RAW, cam1 stays on JPEG
	_, err := d.RunSettingChange(context.Background(), models.SettingChangeJob{
		TargetSessionIDs: []string{mockCam2},
		Settings:         models.Settings{models.SettingFormat: "RAW"},
	}, BatchOptions{})
	require.NoError(t, err)

	result, err := d.RunCapture(context.Background(), models.CaptureJob{
		TargetSessionIDs: []string{mockCam1, mockCam2},
		FormatPreference: models.FormatPreferRaw,
	}, BatchOptions{})
	require.NoError(t, err)

	// the JPEG session settles without triggering a download
	require.Equal(t, models.OutcomeSuccess, result.PerSession[mockCam1].Status)
	assert.Contains(t, result.PerSession[mockCam1].Payload, "download skipped")
	assert.Equal(t, 0, fx.Driver.Captures(mockCam1))

	// the RAW session captures as usual
	assert.Equal(t, models.OutcomeSuccess, result.PerSession[mockCam2].Status)
	assert.Equal(t, 1, fx.Driver.Captures(mockCam2))
}

func TestRunBatchTargetResolution(t *testing.T) {
	d, fx := newTestDispatcher(t, 2)

	t.Run("empty targets rejected", func(t *testing.T) {
		_, err := d.RunCapture(context.Background(), models.CaptureJob{}, BatchOptions{})
		assert.ErrorIs(t, err, ErrEmptyTargets)
	})

	t.Run("unknown session settles as SessionGone", func(t *testing.T) {
		result, err := d.RunCapture(context.Background(), models.CaptureJob{
			TargetSessionIDs: []string{mockCam1, "ghost"},
		}, BatchOptions{})
		require.NoError(t, err)

		require.Len(t, result.PerSession, 2)
		assert.Equal(t, models.OutcomeSuccess, result.PerSession[mockCam1].Status)
		assert.Equal(t, models.OutcomeFailed, result.PerSession["ghost"].Status)
		assert.Equal(t, models.ErrorSessionGone, result.PerSession["ghost"].ErrorKind)
	})

	t.Run("duplicate ids collapse to one outcome", func(t *testing.T) {
		result, err := d.RunCapture(context.Background(), models.CaptureJob{
			TargetSessionIDs: []string{mockCam1, mockCam1, mockCam1},
		}, BatchOptions{})
		require.NoError(t, err)
		assert.Len(t, result.PerSession, 1)
	})

	t.Run("busy session settles as AlreadyBusy", func(t *testing.T) {
		require.True(t, fx.Registry.acquire(mockCam2))
		defer fx.Registry.release(mockCam2)

		result, err := d.RunCapture(context.Background(), models.CaptureJob{
			TargetSessionIDs: []string{mockCam1, mockCam2},
		}, BatchOptions{})
		require.NoError(t, err)

		assert.Equal(t, models.OutcomeSuccess, result.PerSession[mockCam1].Status)
		busy := result.PerSession[mockCam2]
		assert.Equal(t, models.OutcomeSkipped, busy.Status)
		assert.Equal(t, models.ErrorAlreadyBusy, busy.ErrorKind)

		// skipped session stays locked by its original owner
		s, _ := fx.Registry.Get(mockCam2)
		assert.True(t, s.Busy)
	})
}

func TestRunCaptureTimeoutIsolation(t *testing.T) {
	d, fx := newTestDispatcher(t, 3)
	fx.Driver.Hang(mockCam2, driver.OpCapture)

	result, err := d.RunCapture(context.Background(), models.CaptureJob{
		TargetSessionIDs: []string{mockCam1, mockCam2, mockCam3},
	}, BatchOptions{PerSessionTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSuccess, result.PerSession[mockCam1].Status)
	assert.Equal(t, models.OutcomeSuccess, result.PerSession[mockCam3].Status)

	hung := result.PerSession[mockCam2]
	assert.Equal(t, models.OutcomeFailed, hung.Status)
	assert.Equal(t, models.ErrorTimeout, hung.ErrorKind)

	// timeout downgrades connectivity, the others stay healthy
	s, _ := fx.Registry.Get(mockCam2)
	assert.Equal(t, models.ConnectivityError, s.Connectivity)
	assert.False(t, s.Busy)

	s, _ = fx.Registry.Get(mockCam1)
	assert.Equal(t, models.ConnectivityConnected, s.Connectivity)
}

func TestRunSettingChange(t *testing.T) {
	t.Run("applies and updates registry", func(t *testing.T) {
		d, fx := newTestDispatcher(t, 2)

		result, err := d.RunSettingChange(context.Background(), models.SettingChangeJob{
			TargetSessionIDs: []string{mockCam1, mockCam2},
			Settings: models.Settings{
				models.SettingISO:      "800",
				models.SettingAperture: "f/8",
			},
		}, BatchOptions{})
		require.NoError(t, err)
		assert.True(t, result.AllSucceeded())

		for _, id := range []string{mockCam1, mockCam2} {
			s, _ := fx.Registry.Get(id)
			assert.Equal(t, "800", s.Settings[models.SettingISO])
			assert.Equal(t, "f/8", s.Settings[models.SettingAperture])
		}
	})

	t.Run("rejected value keeps session connected", func(t *testing.T) {
		d, fx := newTestDispatcher(t, 1)

		result, err := d.RunSettingChange(context.Background(), models.SettingChangeJob{
			TargetSessionIDs: []string{mockCam1},
			Settings:         models.Settings{models.SettingISO: "999999"},
		}, BatchOptions{})
		require.NoError(t, err)

		outcome := result.PerSession[mockCam1]
		assert.Equal(t, models.OutcomeFailed, outcome.Status)
		assert.Equal(t, models.ErrorRejected, outcome.ErrorKind)

		// a declined value is not a communication problem
		s, _ := fx.Registry.Get(mockCam1)
		assert.Equal(t, models.ConnectivityConnected, s.Connectivity)
	})

	t.Run("partial failure keeps applied values", func(t *testing.T) {
		d, fx := newTestDispatcher(t, 1)

		// aperture sorts before iso, so it lands before the bad value stops the run
		result, err := d.RunSettingChange(context.Background(), models.SettingChangeJob{
			TargetSessionIDs: []string{mockCam1},
			Settings: models.Settings{
				models.SettingAperture: "f/8",
				models.SettingISO:      "999999",
			},
		}, BatchOptions{})
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeFailed, result.PerSession[mockCam1].Status)

		s, _ := fx.Registry.Get(mockCam1)
		assert.Equal(t, "f/8", s.Settings[models.SettingAperture])
	})

	t.Run("no settings rejected", func(t *testing.T) {
		d, _ := newTestDispatcher(t, 1)
		_, err := d.RunSettingChange(context.Background(), models.SettingChangeJob{
			TargetSessionIDs: []string{mockCam1},
		}, BatchOptions{})
		assert.Error(t, err)
	})
}

func TestRunBatchCommunicationLost(t *testing.T) {
	d, fx := newTestDispatcher(t, 1)
	fx.Driver.FailWith(mockCam1, driver.OpCapture, driver.FailureCommunicationLost, "could not claim the usb device")

	result, err := d.RunCapture(context.Background(), models.CaptureJob{
		TargetSessionIDs: []string{mockCam1},
	}, BatchOptions{})
	require.NoError(t, err)

	outcome := result.PerSession[mockCam1]
	assert.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, models.ErrorCommunicationLost, outcome.ErrorKind)

	s, _ := fx.Registry.Get(mockCam1)
	assert.Equal(t, models.ConnectivityError, s.Connectivity)
	assert.Equal(t, "could not claim the usb device", s.LastError)
}

func TestRunRefresh(t *testing.T) {
	d, fx := newTestDispatcher(t, 1)

	result, err := d.RunRefresh(context.Background(), []string{mockCam1}, BatchOptions{})
	require.NoError(t, err)
	assert.True(t, result.AllSucceeded())
	assert.Equal(t, models.JobKindRefresh, result.Kind)

	s, _ := fx.Registry.Get(mockCam1)
	assert.Equal(t, "100", s.Settings[models.SettingISO])
	assert.Equal(t, "1/125", s.Settings[models.SettingShutterSpeed])
}

func TestRunPreview(t *testing.T) {
	d, fx := newTestDispatcher(t, 1)

	t.Run("returns frame", func(t *testing.T) {
		data, err := d.RunPreview(context.Background(), mockCam1)
		require.NoError(t, err)
		assert.NotEmpty(t, data)

		s, _ := fx.Registry.Get(mockCam1)
		assert.False(t, s.Busy)
	})

	t.Run("busy session refused", func(t *testing.T) {
		require.True(t, fx.Registry.acquire(mockCam1))
		defer fx.Registry.release(mockCam1)

		_, err := d.RunPreview(context.Background(), mockCam1)
		assert.Error(t, err)
	})

	t.Run("unknown session refused", func(t *testing.T) {
		_, err := d.RunPreview(context.Background(), "ghost")
		assert.Error(t, err)
	})
}

func TestRunBatchConcurrencyBound(t *testing.T) {
	d, fx := newTestDispatcher(t, 3)
	fx.Driver.SetLatency(50 * time.Millisecond)

	start := time.Now()
	result, err := d.RunCapture(context.Background(), models.CaptureJob{
		TargetSessionIDs: []string{mockCam1, mockCam2, mockCam3},
	}, BatchOptions{Concurrency: 1})
	took := time.Since(start)
	require.NoError(t, err)

	assert.True(t, result.AllSucceeded())
	// three sequential 50ms calls cannot finish much faster than 150ms
	assert.GreaterOrEqual(t, took, 140*time.Millisecond)
}
