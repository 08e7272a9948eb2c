package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/snapshot"
	"github.com/airq-visualizer/backend/internal/testutil"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	errors   map[string]int
	stale    int
	skipped  int
	applied  int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{outcomes: map[string]int{}, errors: map[string]int{}}
}

func (r *fakeRecorder) ObserveRefresh(view, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *fakeRecorder) RefreshError(view, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[kind]++
}

func (r *fakeRecorder) RefreshStale(view string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *fakeRecorder) RefreshSkipped(view string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
}

func (r *fakeRecorder) SnapshotApplied(view string, snap *models.SensorSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied++
}

func (r *fakeRecorder) skips() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped
}

func newController(f fetch.Fetcher, rec *fakeRecorder, interval time.Duration) *Controller {
	return NewController(f, Options{
		Name:     "dashboard",
		Interval: interval,
		Logger:   logr.Discard(),
		Recorder: rec,
	})
}

func waitStarted(t *testing.T, f *testutil.ScriptedFetcher) int {
	t.Helper()
	select {
	case n := <-f.Started():
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
		return 0
	}
}

func TestController_InitialSuccess(t *testing.T) {
	snap := testutil.R1Snapshot(750, 50)
	f := testutil.NewScriptedFetcher(testutil.Step{Snapshot: snap})
	rec := newFakeRecorder()
	c := newController(f, rec, time.Minute)

	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Snapshot())

	res := c.Refresh(context.Background())
	assert.Equal(t, StateReady, res.State)
	assert.True(t, res.Initial)
	assert.False(t, res.Stale)
	assert.Same(t, snap, res.Snapshot)

	st := c.Status()
	assert.Equal(t, StateReady, st.State)
	assert.True(t, st.Loaded)
	assert.NoError(t, st.LastError)
	assert.Equal(t, uint64(1), st.Seq)
	assert.Equal(t, 1, rec.outcomes["success"])
	assert.Equal(t, 1, rec.applied)
}

func TestController_FailureKeepsLastGood(t *testing.T) {
	first := testutil.R1Snapshot(750, 50)
	netErr := &fetch.NetworkError{URL: "http://x/sensor_data.json", StatusCode: 503}
	f := testutil.NewScriptedFetcher(
		testutil.Step{Snapshot: first},
		testutil.Step{Err: netErr},
	)
	rec := newFakeRecorder()
	c := newController(f, rec, time.Minute)

	c.Refresh(context.Background())
	res := c.Refresh(context.Background())

	assert.Equal(t, StateFailed, res.State)
	assert.False(t, res.Initial)
	assert.Same(t, first, res.Snapshot)
	assert.Same(t, first, c.Snapshot())

	st := c.Status()
	assert.True(t, st.Loaded)
	assert.ErrorIs(t, st.LastError, netErr)
	assert.Equal(t, 1, rec.errors[KindNetwork])
	assert.Equal(t, 1, rec.outcomes["failure"])
}

func TestController_InitialFailure(t *testing.T) {
	f := testutil.NewScriptedFetcher(testutil.Step{Err: &snapshot.ValidationError{Reason: "missing sensors field"}})
	c := newController(f, newFakeRecorder(), time.Minute)

	res := c.Refresh(context.Background())
	assert.Equal(t, StateFailed, res.State)
	assert.True(t, res.Initial)
	assert.Nil(t, res.Snapshot)
	assert.False(t, c.Status().Loaded)
}

func TestController_SuccessClearsError(t *testing.T) {
	f := testutil.NewScriptedFetcher(
		testutil.Step{Err: errors.New("boom")},
		testutil.Step{Snapshot: testutil.R1Snapshot(900, 50)},
	)
	c := newController(f, newFakeRecorder(), time.Minute)

	c.Refresh(context.Background())
	require.Error(t, c.Status().LastError)

	c.Refresh(context.Background())
	assert.NoError(t, c.Status().LastError)
	assert.Equal(t, StateReady, c.State())
}

func TestController_LoadingWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	f := testutil.NewScriptedFetcher(testutil.Step{Snapshot: testutil.R1Snapshot(750, 50), Gate: gate})
	c := newController(f, newFakeRecorder(), time.Minute)

	done := make(chan Result)
	go func() { done <- c.Refresh(context.Background()) }()

	waitStarted(t, f)
	assert.Equal(t, StateLoading, c.State())
	assert.True(t, c.InFlight())

	close(gate)
	res := <-done
	assert.Equal(t, StateReady, res.State)
	assert.Equal(t, StateReady, c.State())
}

func TestController_DiscardsStaleResult(t *testing.T) {
	gate := make(chan struct{})
	older := testutil.R1Snapshot(1200, 50)
	newer := testutil.R1Snapshot(750, 50)
	f := testutil.NewScriptedFetcher(
		testutil.Step{Snapshot: older, Gate: gate},
		testutil.Step{Snapshot: newer},
	)
	rec := newFakeRecorder()
	c := newController(f, rec, time.Minute)

	var mu sync.Mutex
	var seen []uint64
	c.OnResult(func(r Result) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r.Seq)
		return nil
	})

	slow := make(chan Result)
	go func() { slow <- c.Refresh(context.Background()) }()
	require.Equal(t, 1, waitStarted(t, f))

	fast := c.Refresh(context.Background())
	assert.Equal(t, uint64(2), fast.Seq)
	assert.Same(t, newer, c.Snapshot())

	close(gate)
	late := <-slow
	assert.True(t, late.Stale)
	assert.Equal(t, uint64(1), late.Seq)
	assert.Same(t, newer, c.Snapshot(), "late response must not overwrite newer snapshot")
	assert.Equal(t, uint64(2), c.Status().Seq)
	assert.Equal(t, 1, rec.stale)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{2}, seen)
}

func TestController_StaleFailureDoesNotRecordError(t *testing.T) {
	gate := make(chan struct{})
	f := testutil.NewScriptedFetcher(
		testutil.Step{Err: errors.New("slow failure"), Gate: gate},
		testutil.Step{Snapshot: testutil.R1Snapshot(750, 50)},
	)
	c := newController(f, newFakeRecorder(), time.Minute)

	slow := make(chan Result)
	go func() { slow <- c.Refresh(context.Background()) }()
	waitStarted(t, f)

	c.Refresh(context.Background())
	close(gate)
	assert.True(t, (<-slow).Stale)

	assert.Equal(t, StateReady, c.State())
	assert.NoError(t, c.Status().LastError)
}

func TestController_ListenerErrors(t *testing.T) {
	f := testutil.NewScriptedFetcher(testutil.Step{Snapshot: testutil.R1Snapshot(750, 50)})
	rec := newFakeRecorder()
	c := newController(f, rec, time.Minute)

	var order []string
	c.OnResult(func(r Result) error {
		order = append(order, "first")
		return &RenderTargetMissingError{Target: "chart"}
	})
	c.OnResult(func(r Result) error {
		order = append(order, "second")
		return nil
	})

	res := c.Refresh(context.Background())
	assert.Equal(t, StateReady, res.State)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, rec.errors[KindRender])
}

func TestController_NilSnapshotIsFailure(t *testing.T) {
	f := testutil.NewScriptedFetcher(testutil.Step{})
	c := newController(f, newFakeRecorder(), time.Minute)

	res := c.Refresh(context.Background())
	assert.Equal(t, StateFailed, res.State)
	assert.Error(t, res.Err)
}

func TestRun_SkipsTickWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	f := testutil.NewScriptedFetcher(
		testutil.Step{Snapshot: testutil.R1Snapshot(750, 50), Gate: gate},
		testutil.Step{Snapshot: testutil.R1Snapshot(800, 60)},
	).RepeatLast()
	rec := newFakeRecorder()
	c := newController(f, rec, 5*time.Millisecond)

	h := c.Start(context.Background())
	waitStarted(t, f)

	assert.Eventually(t, func() bool { return rec.skips() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.Calls(), "no new fetch while one is in flight")

	close(gate)
	assert.Eventually(t, func() bool { return f.Calls() >= 2 }, 2*time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
	assert.Equal(t, StateReady, c.State())
}

func TestRun_StopCancelsInFlightFetch(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	f := testutil.NewScriptedFetcher(testutil.Step{Snapshot: testutil.R1Snapshot(750, 50), Gate: gate})
	c := newController(f, newFakeRecorder(), time.Minute)

	h := c.Start(context.Background())
	waitStarted(t, f)

	h.Stop()
	select {
	case <-h.Done():
	default:
		t.Fatal("loop still running after Stop")
	}
	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Snapshot())
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&fetch.NetworkError{URL: "u", Err: errors.New("refused")}, KindNetwork},
		{fmt.Errorf("wrapped: %w", &fetch.NetworkError{URL: "u", StatusCode: 500}), KindNetwork},
		{&snapshot.ValidationError{Reason: "missing sensors field"}, KindValidation},
		{&RenderTargetMissingError{Target: "ws"}, KindRender},
		{errors.New("other"), KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKind(tt.err))
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "invalid", State(42).String())

	var st State
	require.NoError(t, st.UnmarshalText([]byte("ready")))
	assert.Equal(t, StateReady, st)
	assert.Error(t, st.UnmarshalText([]byte("bogus")))
}
