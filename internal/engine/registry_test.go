package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfleet/camfleet-server/internal/models"
)

func newSession(id string) *models.Session {
	return &models.Session{
		ID:           id,
		DisplayName:  "Camera " + id,
		Connectivity: models.ConnectivityConnected,
		Settings:     models.Settings{},
	}
}

func TestRegistryUpsertAndGet(t *testing.T) {
	r := NewRegistry()
	r.Upsert(newSession("cam-a"))

	got, ok := r.Get("cam-a")
	require.True(t, ok)
	assert.Equal(t, "cam-a", got.ID)

	// returned session is a copy
	got.DisplayName = "mutated"
	again, _ := r.Get("cam-a")
	assert.Equal(t, "Camera cam-a", again.DisplayName)
}

func TestRegistryUpsertPreservesBusy(t *testing.T) {
	r := NewRegistry()
	r.Upsert(newSession("cam-a"))
	require.True(t, r.acquire("cam-a"))

	// re-upserting (e.g. from a detect cycle) must not clear the lock
	r.Upsert(newSession("cam-a"))
	got, _ := r.Get("cam-a")
	assert.True(t, got.Busy)

	r.release("cam-a")
	got, _ = r.Get("cam-a")
	assert.False(t, got.Busy)
}

func TestRegistryRefreshIdentity(t *testing.T) {
	r := NewRegistry()
	r.Upsert(newSession("cam-a"))

	// settings written after another caller read the session must
	// survive an identity refresh based on that older read
	stale, ok := r.Get("cam-a")
	require.True(t, ok)
	r.applySettings("cam-a", models.Settings{models.SettingISO: "800"})

	r.refreshIdentity(stale.ID, "Renamed Camera")

	got, _ := r.Get("cam-a")
	assert.Equal(t, "Renamed Camera", got.DisplayName)
	assert.Equal(t, "800", got.Settings[models.SettingISO])

	// unknown id is a no-op
	r.refreshIdentity("ghost", "whatever")
	_, ok = r.Get("ghost")
	assert.False(t, ok)
}

func TestRegistryAcquire(t *testing.T) {
	r := NewRegistry()
	r.Upsert(newSession("cam-a"))

	t.Run("exclusive", func(t *testing.T) {
		require.True(t, r.acquire("cam-a"))
		assert.False(t, r.acquire("cam-a"))
		r.release("cam-a")
		assert.True(t, r.acquire("cam-a"))
		r.release("cam-a")
	})

	t.Run("unknown session", func(t *testing.T) {
		assert.False(t, r.acquire("cam-missing"))
	})

	t.Run("release after removal is a no-op", func(t *testing.T) {
		require.True(t, r.acquire("cam-a"))
		r.Remove("cam-a")
		r.release("cam-a")
		_, ok := r.Get("cam-a")
		assert.False(t, ok)
	})
}

func TestRegistrySnapshotOrdering(t *testing.T) {
	r := NewRegistry()
	r.Upsert(newSession("cam-c"))
	r.Upsert(newSession("cam-a"))
	r.Upsert(newSession("cam-b"))

	all := r.Snapshot()
	require.Len(t, all, 3)
	assert.Equal(t, "cam-a", all[0].ID)
	assert.Equal(t, "cam-b", all[1].ID)
	assert.Equal(t, "cam-c", all[2].ID)

	subset := r.Snapshot("cam-b", "cam-missing", "cam-a")
	require.Len(t, subset, 2)
	assert.Equal(t, "cam-a", subset[0].ID)
	assert.Equal(t, "cam-b", subset[1].ID)
}

func TestRegistryStatusChangeHook(t *testing.T) {
	r := NewRegistry()

	var fired []*models.Session
	r.OnStatusChange(func(s *models.Session) { fired = append(fired, s) })

	r.Upsert(newSession("cam-a"))
	r.setConnectivity("cam-a", models.ConnectivityError, "timed out")
	require.Len(t, fired, 1)
	assert.Equal(t, models.ConnectivityError, fired[0].Connectivity)
	assert.Equal(t, "timed out", fired[0].LastError)

	// same state again is not a transition
	r.setConnectivity("cam-a", models.ConnectivityError, "timed out again")
	assert.Len(t, fired, 1)

	r.setConnectivity("cam-a", models.ConnectivityConnected, "")
	assert.Len(t, fired, 2)
}

func TestRegistryApplySettings(t *testing.T) {
	r := NewRegistry()
	r.Upsert(newSession("cam-a"))

	r.applySettings("cam-a", models.Settings{models.SettingISO: "400"})
	r.applySettings("cam-a", models.Settings{models.SettingAperture: "f/8"})

	got, _ := r.Get("cam-a")
	assert.Equal(t, "400", got.Settings[models.SettingISO])
	assert.Equal(t, "f/8", got.Settings[models.SettingAperture])
	assert.False(t, got.LastSeen.IsZero())
}
