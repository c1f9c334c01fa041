package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camfleet/camfleet-server/internal/auth"
	"github.com/camfleet/camfleet-server/internal/config"
	"github.com/camfleet/camfleet-server/internal/driver"
	"github.com/camfleet/camfleet-server/internal/engine"
	"github.com/camfleet/camfleet-server/internal/models"
	"github.com/camfleet/camfleet-server/internal/storage"
)

type testServer struct {
	api    *RESTServer
	engine *engine.Engine
	driver *driver.MockDriver
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Capture.SaveDir = t.TempDir()
	cfg.Engine.DefaultTimeout = 2 * time.Second
	cfg.Engine.DetectTimeout = 2 * time.Second
	cfg.JWT.Secret = "test-secret"
	cfg.JWT.AccessTokenTTL = time.Hour
	cfg.JWT.AdminUser = "operator"
	cfg.JWT.AdminPasswordHash = hash

	drv := driver.NewMockDriver(2)
	store := storage.NewMemoryStore()
	eng := engine.New(cfg, drv, store, nil)
	_, err = eng.Detect(context.Background())
	require.NoError(t, err)
	t.Cleanup(eng.Shutdown)

	ts := &testServer{
		api:    NewRESTServer(cfg, eng, store),
		engine: eng,
		driver: drv,
	}

	// login once, reuse the token
	resp := ts.do(t, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"username": "operator", "password": "hunter2"}, "")
	require.Equal(t, http.StatusOK, resp.Code)
	var login LoginResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &login))
	ts.token = login.Token

	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.api.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "camfleet-server")
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	t.Run("no token", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/sessions", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("bad token", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/sessions", nil, "garbage")
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("bad credentials", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/auth/login",
			map[string]string{"username": "operator", "password": "wrong"}, "")
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/sessions", nil, ts.token)
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Total)
	})

	t.Run("get one", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/sessions/mock:001,001", nil, ts.token)
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("get missing", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/sessions/ghost", nil, ts.token)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("detect", func(t *testing.T) {
		ts.driver.AddDevice("mock:001,009", "Late Arrival")
		resp := ts.do(t, http.MethodPost, "/api/v1/sessions/detect", nil, ts.token)
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.Equal(t, 3, body.Total)
	})

	t.Run("preview", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/sessions/mock:001,001/preview", nil, ts.token)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "image/jpeg", resp.Header().Get("Content-Type"))
		assert.NotEmpty(t, resp.Body.Bytes())
	})
}

func TestBatchEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/batches/capture", SubmitCaptureRequest{
		TargetSessionIDs: []string{"mock:001,001", "mock:001,002"},
		FilenamePrefix:   "api-test",
	}, ts.token)
	require.Equal(t, http.StatusAccepted, resp.Code)

	var accepted SubmitBatchResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &accepted))
	require.NotEmpty(t, accepted.BatchID)

	// poll until the batch settles
	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodGet, "/api/v1/batches/"+accepted.BatchID.String(), nil, ts.token)
		if resp.Code != http.StatusOK {
			return false
		}
		var state BatchStateResponse
		if err := json.Unmarshal(resp.Body.Bytes(), &state); err != nil {
			return false
		}
		return state.State == string(engine.BatchStateCompleted)
	}, 5*time.Second, 20*time.Millisecond)

	t.Run("settled batch listed", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/batches", nil, ts.token)
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Total int64 `json:"total"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		assert.GreaterOrEqual(t, body.Total, int64(1))
	})

	t.Run("unknown batch", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/batches/c1f9e6ea-0000-0000-0000-000000000000", nil, ts.token)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})

	t.Run("empty targets rejected", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/batches/capture", SubmitCaptureRequest{}, ts.token)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("setting change accepted", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/batches/settings", map[string]interface{}{
			"targetSessionIds": []string{"mock:001,001"},
			"settings":         map[string]string{"iso": "800"},
		}, ts.token)
		assert.Equal(t, http.StatusAccepted, resp.Code)
	})
}

func TestProfileEndpoints(t *testing.T) {
	ts := newTestServer(t)

	create := ts.do(t, http.MethodPost, "/api/v1/profiles", CreateProfileRequest{
		Name:          "studio",
		Description:   "soft light",
		SettingValues: models.Settings{models.SettingISO: "400"},
	}, ts.token)
	require.Equal(t, http.StatusCreated, create.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(create.Body.Bytes(), &created))

	t.Run("duplicate name conflicts", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/profiles", CreateProfileRequest{
			Name:          "studio",
			SettingValues: models.Settings{models.SettingISO: "100"},
		}, ts.token)
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("get", func(t *testing.T) {
		resp := ts.do(t, http.MethodGet, "/api/v1/profiles/"+created.ID, nil, ts.token)
		assert.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("apply with capture", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/profiles/apply", ApplyProfileRequest{
			ProfileName:      "studio",
			TargetSessionIDs: []string{"mock:001,001", "mock:001,002"},
			CaptureAfter:     true,
		}, ts.token)
		require.Equal(t, http.StatusOK, resp.Code)

		var report engine.ApplyReport
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &report))
		assert.Equal(t, "studio", report.ProfileName)
		require.NotNil(t, report.CaptureResult)
		assert.True(t, report.CaptureResult.AllSucceeded())
	})

	t.Run("apply unknown profile", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/profiles/apply", ApplyProfileRequest{
			ProfileName:      "missing",
			TargetSessionIDs: []string{"mock:001,001"},
		}, ts.token)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("delete", func(t *testing.T) {
		resp := ts.do(t, http.MethodDelete, "/api/v1/profiles/"+created.ID, nil, ts.token)
		assert.Equal(t, http.StatusNoContent, resp.Code)

		resp = ts.do(t, http.MethodGet, "/api/v1/profiles/"+created.ID, nil, ts.token)
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestAutoCaptureEndpoints(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do(t, http.MethodGet, "/api/v1/autocapture/status", nil, ts.token)
	require.Equal(t, http.StatusOK, status.Code)
	assert.Contains(t, status.Body.String(), `"running":false`)

	start := ts.do(t, http.MethodPost, "/api/v1/autocapture/start", StartAutoCaptureRequest{
		IntervalMs:       1500,
		TargetSessionIDs: []string{"mock:001,001"},
	}, ts.token)
	require.Equal(t, http.StatusOK, start.Code)

	t.Run("double start conflicts", func(t *testing.T) {
		resp := ts.do(t, http.MethodPost, "/api/v1/autocapture/start", StartAutoCaptureRequest{
			IntervalMs:       1500,
			TargetSessionIDs: []string{"mock:001,001"},
		}, ts.token)
		assert.Equal(t, http.StatusConflict, resp.Code)
	})

	t.Run("interval below minimum", func(t *testing.T) {
		ts2 := newTestServer(t)
		resp := ts2.do(t, http.MethodPost, "/api/v1/autocapture/start", StartAutoCaptureRequest{
			IntervalMs:       100,
			TargetSessionIDs: []string{"mock:001,001"},
		}, ts2.token)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	stop := ts.do(t, http.MethodPost, "/api/v1/autocapture/stop", nil, ts.token)
	require.Equal(t, http.StatusOK, stop.Code)
	assert.Contains(t, stop.Body.String(), `"running":false`)
}
