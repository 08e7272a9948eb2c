package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/historydb"
	"github.com/airq-visualizer/backend/internal/metrics"
	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/airq-visualizer/backend/internal/session"
	"github.com/airq-visualizer/backend/internal/snapshot"
	"github.com/airq-visualizer/backend/internal/testutil"
	"github.com/airq-visualizer/backend/internal/view/dashboard"
	"github.com/airq-visualizer/backend/internal/view/mapview"
	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type testEnv struct {
	e        *echo.Echo
	h        *Handler
	hub      *Hub
	dash     *refresh.Controller
	mapCtl   *refresh.Controller
	sessions *session.Manager
	history  *historydb.Index
	fetcher  *testutil.ScriptedFetcher
}

func newTestEnv(t *testing.T, withHistory bool, steps ...testutil.Step) *testEnv {
	t.Helper()

	f := testutil.NewScriptedFetcher(steps...).RepeatLast()
	classifier := quality.NewClassifier(quality.DefaultThresholds())
	m := metrics.New(classifier)

	env := &testEnv{
		fetcher:  f,
		sessions: session.NewManager(logr.Discard()),
		dash: refresh.NewController(f, refresh.Options{
			Name: ViewDashboard, Interval: 30 * time.Second, Logger: logr.Discard(), Recorder: m,
		}),
		mapCtl: refresh.NewController(f, refresh.Options{
			Name: ViewMap, Interval: time.Minute, Logger: logr.Discard(), Recorder: m,
		}),
	}

	if withHistory {
		idx, err := historydb.Open(logr.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { idx.Close() })
		env.history = idx
		env.dash.OnResult(idx.Listener(time.Second))
	}

	env.h = NewHandler(&Dependencies{
		Dashboard:  env.dash,
		Map:        env.mapCtl,
		Sessions:   env.sessions,
		Classifier: classifier,
		History:    env.history,
		Metrics:    m,
		MapImage:   mapview.ImageConfig{URL: "plan.png", Width: 1366, Height: 768},
		Locale:     "en",
		Version:    "test",
		Logger:     logr.Discard(),
	})
	env.hub = NewHub(env.h)

	env.e = echo.New()
	SetupMiddleware(env.e, MiddlewareConfig{}, logr.Discard())
	RegisterRoutes(env.e, env.h, env.hub, m.Handler())
	return env
}

func (env *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func twoRoomSnapshot() *models.SensorSnapshot {
	ts := "2024-01-01T10:00:00Z"
	snap := testutil.Snapshot(map[string]models.Sensor{
		"R1": testutil.OnlineSensor("Room 1", 100, 200, ts, models.Float(700), models.Float(50)),
		"R2": testutil.OfflineSensor("Room 2", 300, 400),
	})
	snap.LastUpdateTimestamp = &ts
	return snap
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestRefreshAndStatus(t *testing.T) {
	env := newTestEnv(t, true, testutil.Step{Snapshot: twoRoomSnapshot()})

	rec := env.do(http.MethodPost, "/api/refresh/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[RefreshResponse](t, rec)
	assert.Equal(t, ViewDashboard, res.View)
	assert.Equal(t, refresh.StateReady, res.State)
	assert.True(t, res.Initial)
	assert.Equal(t, 2, res.Sensors)

	rec = env.do(http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	require.Len(t, status.Views, 2)
	assert.Equal(t, ViewDashboard, status.Views[0].Name)
	assert.True(t, status.Views[0].Loaded)
	assert.Equal(t, 2, status.Views[0].Sensors)
	assert.Equal(t, int64(30000), status.Views[0].IntervalMS)
	assert.Equal(t, ViewMap, status.Views[1].Name)
	assert.False(t, status.Views[1].Loaded)
	assert.True(t, status.History.Enabled)
	assert.Equal(t, 2, status.History.Rows)
	assert.Equal(t, []string{"R1", "R2"}, status.History.Sensors)
}

func TestRefreshUnknownView(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/api/refresh/charts", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"NOT_FOUND"`)
}

func TestRefreshFailureCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"network", &fetch.NetworkError{URL: "data.json", StatusCode: 500}, "SNAPSHOT_UNREACHABLE"},
		{"validation", &snapshot.ValidationError{Reason: "sensors missing"}, "SNAPSHOT_INVALID"},
		{"other", errors.New("boom"), "SNAPSHOT_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false, testutil.Step{Err: tt.err})

			rec := env.do(http.MethodPost, "/api/refresh/map", nil)
			assert.Equal(t, http.StatusBadGateway, rec.Code)
			apiErr := decode[APIError](t, rec)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.NotEmpty(t, apiErr.Details)

			st := env.mapCtl.Status()
			assert.Equal(t, refresh.StateFailed, st.State)
			assert.False(t, st.Loaded)
		})
	}
}

func TestGetMap(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})

	rec := env.do(http.MethodGet, "/api/map", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	before := decode[mapview.View](t, rec)
	assert.False(t, before.Loaded)
	assert.Empty(t, before.Markers)
	assert.Equal(t, "Loading initial data...", before.Loading)
	assert.Equal(t, 1366, before.Image.Width)

	env.mapCtl.Refresh(context.Background())

	rec = env.do(http.MethodGet, "/api/map?lang=fr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	after := decode[mapview.View](t, rec)
	assert.True(t, after.Loaded)
	require.Len(t, after.Markers, 2)
	byID := map[string]mapview.Marker{}
	for _, m := range after.Markers {
		byID[m.SensorID] = m
	}
	assert.Equal(t, "#28a745", byID["R1"].Color)
	assert.Equal(t, "Bon", byID["R1"].Label)
	assert.Equal(t, "#6c757d", byID["R2"].Color)
	assert.Equal(t, "Hors ligne", byID["R2"].Label)
}

func TestGetMapKeepsMarkersAfterFailure(t *testing.T) {
	env := newTestEnv(t, false,
		testutil.Step{Snapshot: twoRoomSnapshot()},
		testutil.Step{Err: &fetch.NetworkError{URL: "data.json", Err: errors.New("connection refused")}},
	)
	env.mapCtl.Refresh(context.Background())
	env.mapCtl.Refresh(context.Background())

	rec := env.do(http.MethodGet, "/api/map", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[mapview.View](t, rec)
	assert.Len(t, v.Markers, 2)
	assert.Contains(t, v.Banner, "Retrying in 60s")
}

func TestGetDashboard(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})

	rec := env.do(http.MethodGet, "/api/dashboard?sensor=R1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	loading := decode[dashboard.State](t, rec)
	assert.Equal(t, "Loading initial data...", loading.Loading)
	assert.False(t, loading.ShowDetails)

	env.dash.Refresh(context.Background())

	rec = env.do(http.MethodGet, "/api/dashboard?sensor=R1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[dashboard.State](t, rec)
	assert.True(t, st.ShowDetails)
	require.NotNil(t, st.Details)
	assert.Equal(t, "Room 1", st.Details.Name)
	assert.Equal(t, "700", st.Details.CO2)
	assert.Equal(t, "?sensor=R1", st.DeepLink)
	assert.Len(t, st.Options, 2)

	rec = env.do(http.MethodGet, "/api/dashboard?sensor=ghost", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[dashboard.State](t, rec)
	assert.Empty(t, st.Selected, "a deep link to an unknown sensor selects nothing")
	assert.False(t, st.ShowDetails)
	assert.Empty(t, st.Notice)
}

func TestListSensors(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})

	rec := env.do(http.MethodGet, "/api/dashboard/sensors", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.dash.Refresh(context.Background())

	rec = env.do(http.MethodGet, "/api/dashboard/sensors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SensorsResponse](t, rec)
	require.Len(t, resp.Options, 2)
	assert.Equal(t, "R1", resp.Options[0].ID)
	assert.Equal(t, "Room 1", resp.Options[0].Label)
	assert.Equal(t, "01/01/2024 10:00:00", resp.LastUpdate)
}

func TestGetSensor(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	env.dash.Refresh(context.Background())

	rec := env.do(http.MethodGet, "/api/dashboard/sensors/R2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[dashboard.State](t, rec)
	require.NotNil(t, st.Details)
	assert.Equal(t, "offline", st.Details.Status)
	assert.Equal(t, quality.BucketOffline, st.Details.Indicator.Bucket)

	rec = env.do(http.MethodGet, "/api/dashboard/sensors/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSensorMsgpack(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	env.dash.Refresh(context.Background())

	rec := env.do(http.MethodGet, "/api/dashboard/sensors/R1/msgpack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var st dashboard.State
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "R1", st.Selected)
	require.NotNil(t, st.Charts)
	require.Len(t, st.Charts.CO2.Points, 1)
	assert.Equal(t, 700.0, *st.Charts.CO2.Points[0].Value)
}

func TestGetSensorStats(t *testing.T) {
	t.Run("history disabled", func(t *testing.T) {
		env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
		rec := env.do(http.MethodGet, "/api/dashboard/sensors/R1/stats", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("history enabled", func(t *testing.T) {
		env := newTestEnv(t, true, testutil.Step{Snapshot: twoRoomSnapshot()})
		env.dash.Refresh(context.Background())

		rec := env.do(http.MethodGet, "/api/dashboard/sensors/R1/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		stats := decode[historydb.SensorStats](t, rec)
		assert.Equal(t, int64(1), stats.Count)
		require.NotNil(t, stats.CO2.Max)
		assert.Equal(t, 700.0, *stats.CO2.Max)

		rec = env.do(http.MethodGet, "/api/dashboard/sensors/ghost/stats", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	env.dash.Refresh(context.Background())

	rec := env.do(http.MethodPost, "/api/dashboard/sessions", SessionRequest{Sensor: "R1", Locale: "fr"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[SessionResponse](t, rec)
	require.NotNil(t, created.Session)
	id := created.Session.ID
	assert.Equal(t, "R1", created.Session.SelectedSensor)
	require.NotNil(t, created.Dashboard)
	assert.Equal(t, "online", created.Dashboard.Details.Status)
	assert.Equal(t, "Bon", created.Dashboard.Details.Indicator.Label)

	rec = env.do(http.MethodPut, "/api/dashboard/sessions/"+id+"/selection", SessionRequest{Sensor: "R2"})
	require.Equal(t, http.StatusOK, rec.Code)
	selected := decode[SessionResponse](t, rec)
	assert.Equal(t, "R2", selected.Session.SelectedSensor)
	assert.Equal(t, "Hors ligne", selected.Dashboard.Details.Status)

	rec = env.do(http.MethodGet, "/api/dashboard/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[[]models.DashboardSession](t, rec)
	require.Len(t, listed, 1)
	assert.Equal(t, id, listed[0].ID)
	assert.Equal(t, "R2", listed[0].SelectedSensor)

	rec = env.do(http.MethodGet, "/api/dashboard?session="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "R2", decode[dashboard.State](t, rec).Selected)

	rec = env.do(http.MethodPost, "/api/dashboard/sessions/"+id+"/keepalive", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, "/api/dashboard/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/dashboard/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodPost, "/api/dashboard/sessions/"+id+"/keepalive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelectVanishedSensorShowsNotice(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	env.dash.Refresh(context.Background())

	sess := env.sessions.Create("gone")
	rec := env.do(http.MethodGet, "/api/dashboard?session="+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[dashboard.State](t, rec)
	assert.Equal(t, "No data available for this sensor.", st.Notice)
	assert.False(t, st.ShowDetails)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	env.dash.Refresh(context.Background())

	rec := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `airq_refresh_total{outcome="success",view="dashboard"} 1`), body)
	assert.Contains(t, body, `airq_snapshot_sensors{view="dashboard"} 2`)
}
