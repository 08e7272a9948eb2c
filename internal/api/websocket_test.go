package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/airq-visualizer/backend/internal/testutil"
	"github.com/airq-visualizer/backend/internal/view/dashboard"
	"github.com/airq-visualizer/backend/internal/view/mapview"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	msgs   []WSMessage
	fail   error
	closed bool
}

func (s *fakeSink) WriteMessage(msg WSMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// take returns and clears the recorded messages.
func (s *fakeSink) take() []WSMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs
	s.msgs = nil
	return out
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func payloadOf[T any](t *testing.T, msg WSMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

func (env *testEnv) dashboardClient(id, selected string) *fakeSink {
	sess := env.sessions.Create(selected)
	sink := &fakeSink{}
	env.hub.register(&wsClient{id: id, view: ViewDashboard, sessionID: sess.ID, sink: sink})
	return sink
}

func (env *testEnv) mapClient(id, locale string) *fakeSink {
	sink := &fakeSink{}
	env.hub.register(&wsClient{id: id, view: ViewMap, locale: locale, sink: sink, tracker: mapview.NewTracker()})
	return sink
}

func TestDashboardPushRules(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	selected := env.dashboardClient("selected", "R1")
	idle := env.dashboardClient("idle", "")

	env.dash.Refresh(context.Background())

	msgs := selected.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, MsgTypeDashboardView, msgs[0].Type)
	st := payloadOf[dashboard.State](t, msgs[0])
	assert.Equal(t, "R1", st.Selected)
	assert.True(t, st.ShowDetails)

	msgs = idle.take()
	require.Len(t, msgs, 1, "the initial load reaches clients without a selection")
	assert.False(t, payloadOf[dashboard.State](t, msgs[0]).ShowDetails)

	env.dash.Refresh(context.Background())
	assert.Len(t, selected.take(), 1)
	assert.Empty(t, idle.take(), "later refreshes skip clients without a selection")
}

func TestDashboardPushOnFailure(t *testing.T) {
	env := newTestEnv(t, false,
		testutil.Step{Snapshot: twoRoomSnapshot()},
		testutil.Step{Err: &fetch.NetworkError{URL: "data.json", Err: errors.New("connection refused")}},
	)
	idle := env.dashboardClient("idle", "")

	env.dash.Refresh(context.Background())
	idle.take()

	env.dash.Refresh(context.Background())
	msgs := idle.take()
	require.Len(t, msgs, 1, "failures reach every client")
	st := payloadOf[dashboard.State](t, msgs[0])
	assert.Contains(t, st.Banner, "Retrying in 30s")
	assert.Len(t, st.Options, 2, "options come from the last good snapshot")
}

func TestFailingSinkIsDropped(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	res := env.dash.Refresh(context.Background())
	require.NoError(t, res.Err)

	broken := env.dashboardClient("broken", "R1")
	broken.fail = errors.New("broken pipe")
	healthy := env.dashboardClient("healthy", "R1")
	require.Equal(t, 2, env.hub.Count(ViewDashboard))

	err := env.hub.onDashboardResult(res)
	require.Error(t, err)
	var missing *refresh.RenderTargetMissingError
	require.True(t, errors.As(err, &missing))
	assert.Contains(t, missing.Target, "broken")

	assert.True(t, broken.isClosed())
	assert.Equal(t, 1, env.hub.Count(ViewDashboard))
	assert.NotEmpty(t, healthy.take())
}

func TestMapDiffs(t *testing.T) {
	env := newTestEnv(t, false,
		testutil.Step{Snapshot: twoRoomSnapshot()},
		testutil.Step{Snapshot: testutil.R1Snapshot(1500, 50)},
		testutil.Step{Err: &fetch.NetworkError{URL: "data.json", StatusCode: 503}},
	)
	sink := env.mapClient("m1", "fr")

	env.mapCtl.Refresh(context.Background())
	msgs := sink.take()
	require.Len(t, msgs, 2)
	assert.Equal(t, MsgTypeMapMarkers, msgs[0].Type)
	markers := payloadOf[MapMarkersPayload](t, msgs[0])
	assert.Len(t, markers.Upserts, 2)
	assert.Empty(t, markers.Removals)
	assert.Equal(t, MsgTypeMapStatus, msgs[1].Type)
	assert.True(t, payloadOf[MapStatusPayload](t, msgs[1]).Loaded)

	env.mapCtl.Refresh(context.Background())
	msgs = sink.take()
	require.Len(t, msgs, 2)
	markers = payloadOf[MapMarkersPayload](t, msgs[0])
	require.Len(t, markers.Upserts, 1)
	assert.Equal(t, "R1", markers.Upserts[0].SensorID)
	assert.Equal(t, "Dégradé", markers.Upserts[0].Label)
	assert.Equal(t, []string{"R2"}, markers.Removals)

	env.mapCtl.Refresh(context.Background())
	msgs = sink.take()
	require.Len(t, msgs, 1, "a failure only updates the banner")
	status := payloadOf[MapStatusPayload](t, msgs[0])
	assert.Equal(t, refresh.StateFailed.String(), status.State)
	assert.True(t, status.Loaded)
	assert.NotEmpty(t, status.Banner)
}

func TestDashboardSocket(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	env.dash.Refresh(context.Background())

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/dashboard?sensor=R1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	read := func(want string) WSMessage {
		t.Helper()
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, want, msg.Type, string(msg.Payload))
		return msg
	}

	hello := payloadOf[ConnectedPayload](t, read(MsgTypeConnected))
	assert.Equal(t, ViewDashboard, hello.View)
	assert.NotEmpty(t, hello.SessionID)

	st := payloadOf[dashboard.State](t, read(MsgTypeDashboardView))
	assert.Equal(t, "R1", st.Selected)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    MsgTypeSelect,
		Payload: mustJSON(SelectPayload{Sensor: "R2"}),
	}))
	st = payloadOf[dashboard.State](t, read(MsgTypeDashboardView))
	assert.Equal(t, "R2", st.Selected)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: MsgTypePing, ID: "p1"}))
	assert.Equal(t, "p1", read(MsgTypePong).ID)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", ID: "x"}))
	wsErr := payloadOf[WSErrorPayload](t, read(MsgTypeError))
	assert.Equal(t, "INVALID_TYPE", wsErr.Code)

	conn.Close()
	require.Eventually(t, func() bool {
		return env.hub.Count(ViewDashboard) == 0 && env.sessions.Count() == 0
	}, 2*time.Second, 10*time.Millisecond, "the socket's own session ends with it")
}

func TestMapSocket(t *testing.T) {
	env := newTestEnv(t, false, testutil.Step{Snapshot: twoRoomSnapshot()})
	env.mapCtl.Refresh(context.Background())

	srv := httptest.NewServer(env.e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/map", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgTypeConnected, msg.Type)

	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, MsgTypeMapMarkers, msg.Type)
	markers := payloadOf[MapMarkersPayload](t, msg)
	assert.Len(t, markers.Upserts, 2)
	require.NotNil(t, markers.Image)
	assert.Equal(t, "plan.png", markers.Image.URL)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MsgTypeMapStatus, msg.Type)

	require.Eventually(t, func() bool { return env.hub.Count(ViewMap) == 1 }, time.Second, 10*time.Millisecond)
}

func TestDashboardSocketUnknownSession(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/api/ws/dashboard?session=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// heldSink blocks its first marker write until release is closed.
type heldSink struct {
	fakeSink
	holding atomic.Bool
	held    chan struct{}
	release chan struct{}
}

func (s *heldSink) WriteMessage(msg WSMessage) error {
	if msg.Type == MsgTypeMapMarkers && s.holding.CompareAndSwap(false, true) {
		close(s.held)
		<-s.release
	}
	return s.fakeSink.WriteMessage(msg)
}

// shownMarkers replays marker diffs in arrival order.
func shownMarkers(t *testing.T, msgs []WSMessage) map[string]bool {
	shown := map[string]bool{}
	for _, msg := range msgs {
		if msg.Type != MsgTypeMapMarkers {
			continue
		}
		diff := payloadOf[MapMarkersPayload](t, msg)
		for _, m := range diff.Upserts {
			shown[m.SensorID] = true
		}
		for _, id := range diff.Removals {
			delete(shown, id)
		}
	}
	return shown
}

func TestMapClientSeesDiffsInOrder(t *testing.T) {
	r2Only := testutil.Snapshot(map[string]models.Sensor{
		"R2": testutil.OfflineSensor("Room 2", 300, 400),
	})
	env := newTestEnv(t, false,
		testutil.Step{Snapshot: twoRoomSnapshot()},
		testutil.Step{Snapshot: r2Only},
	)
	env.mapCtl.Refresh(context.Background())

	sink := &heldSink{held: make(chan struct{}), release: make(chan struct{})}
	client := &wsClient{id: "late", view: ViewMap, sink: sink, tracker: mapview.NewTracker()}
	env.hub.register(client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, env.hub.sendMapView(client))
	}()
	<-sink.held

	go func() {
		defer wg.Done()
		env.mapCtl.Refresh(context.Background())
	}()
	require.Eventually(t, func() bool { return env.mapCtl.Status().Seq == 2 }, 2*time.Second, time.Millisecond)

	close(sink.release)
	wg.Wait()

	assert.Equal(t, map[string]bool{"R2": true}, shownMarkers(t, sink.take()))
	assert.Equal(t, []string{"R2"}, client.tracker.Known())
}

func TestMapKeepsMarkerOfSensorWithoutCoordinates(t *testing.T) {
	moved := twoRoomSnapshot()
	r2 := moved.Sensors["R2"]
	r2.Location = nil
	moved.Sensors["R2"] = r2

	env := newTestEnv(t, false,
		testutil.Step{Snapshot: twoRoomSnapshot()},
		testutil.Step{Snapshot: moved},
	)
	sink := env.mapClient("m1", "en")

	env.mapCtl.Refresh(context.Background())
	env.mapCtl.Refresh(context.Background())

	msgs := sink.take()
	require.Len(t, msgs, 4)
	last := payloadOf[MapMarkersPayload](t, msgs[2])
	assert.Empty(t, last.Removals)
	assert.Equal(t, []string{"R2"}, last.Skipped)
	assert.Equal(t, map[string]bool{"R1": true, "R2": true}, shownMarkers(t, msgs))
}
