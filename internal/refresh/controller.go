// Package refresh polls the snapshot resource on a fixed period and holds the
// last good snapshot for one view.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/airq-visualizer/backend/internal/fetch"
	"github.com/airq-visualizer/backend/internal/models"
	"github.com/go-logr/logr"
)

// State is the controller state as seen by renderers.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateIdle, StateLoading, StateReady, StateFailed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown refresh state %q", text)
}

// Result describes the outcome of one refresh.
type Result struct {
	Seq      uint64
	State    State
	Err      error
	Initial  bool // first applied outcome of the controller
	Snapshot *models.SensorSnapshot
	// Stale is set when a newer result had already been applied; nothing
	// changed.
	Stale bool
	// Cancelled is set when the fetch was abandoned because its context ended.
	Cancelled bool
}

// Listener is called after each applied result, in application order.
// Listeners must not call Refresh synchronously.
type Listener func(Result) error

// Recorder receives refresh telemetry.
type Recorder interface {
	ObserveRefresh(view, outcome string, d time.Duration)
	RefreshError(view, kind string)
	RefreshStale(view string)
	RefreshSkipped(view string)
	SnapshotApplied(view string, snap *models.SensorSnapshot)
}

// Status is an immutable copy of the controller's state.
type Status struct {
	Name        string                 `json:"name"`
	State       State                  `json:"state"`
	Snapshot    *models.SensorSnapshot `json:"-"`
	LastError   error                  `json:"-"`
	LastSuccess time.Time              `json:"lastSuccess"`
	LastAttempt time.Time              `json:"lastAttempt"`
	Seq         uint64                 `json:"seq"`
	Loaded      bool                   `json:"loaded"`
	Interval    time.Duration          `json:"-"`
}

// Options configures a Controller.
type Options struct {
	Name     string
	Interval time.Duration
	Logger   logr.Logger
	Recorder Recorder
}

// Controller owns the snapshot of one view. A result is applied only if no
// newer result has been applied before it.
type Controller struct {
	name     string
	fetcher  fetch.Fetcher
	interval time.Duration
	log      logr.Logger
	rec      Recorder

	mu          sync.RWMutex
	state       State
	inFlight    int
	issued      uint64
	applied     uint64
	snap        *models.SensorSnapshot
	lastErr     error
	lastSuccess time.Time
	lastAttempt time.Time
	loaded      bool

	// applyMu serializes apply and notify so listeners see results in order.
	applyMu   sync.Mutex
	listeners []Listener
}

// NewController creates a controller in the Idle state.
func NewController(f fetch.Fetcher, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Controller{
		name:     opts.Name,
		fetcher:  f,
		interval: opts.Interval,
		log:      opts.Logger.WithName("refresh").WithValues("view", opts.Name),
		rec:      opts.Recorder,
		state:    StateIdle,
	}
}

// Name returns the view name.
func (c *Controller) Name() string { return c.name }

// Interval returns the polling period.
func (c *Controller) Interval() time.Duration { return c.interval }

// OnResult registers a listener.
func (c *Controller) OnResult(l Listener) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// State returns Loading while a fetch is in flight, otherwise the state of
// the last applied outcome.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	if c.inFlight > 0 {
		return StateLoading
	}
	return c.state
}

// InFlight reports whether a fetch is running.
func (c *Controller) InFlight() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inFlight > 0
}

// Snapshot returns the last good snapshot, or nil before the first success.
func (c *Controller) Snapshot() *models.SensorSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Status returns a consistent copy of the controller state.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		Name:        c.name,
		State:       c.stateLocked(),
		Snapshot:    c.snap,
		LastError:   c.lastErr,
		LastSuccess: c.lastSuccess,
		LastAttempt: c.lastAttempt,
		Seq:         c.applied,
		Loaded:      c.loaded,
		Interval:    c.interval,
	}
}

// Refresh performs one fetch and applies its outcome unless a newer one
// already has been applied.
func (c *Controller) Refresh(ctx context.Context) Result {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.inFlight++
	c.lastAttempt = time.Now()
	c.mu.Unlock()

	start := time.Now()
	snap, err := c.fetcher.Fetch(ctx)
	elapsed := time.Since(start)

	if err == nil && snap == nil {
		err = errors.New("fetcher returned no snapshot")
	}

	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	res := c.apply(ctx, seq, snap, err)

	switch {
	case res.Cancelled:
		c.log.V(1).Info("refresh abandoned", "seq", seq, "error", err)
		return res
	case res.Stale:
		c.log.Info("discarding stale refresh result", "seq", seq)
		if c.rec != nil {
			c.rec.RefreshStale(c.name)
		}
		return res
	case res.Err != nil:
		kind := ErrorKind(res.Err)
		c.log.Error(res.Err, "refresh failed, keeping last snapshot", "seq", seq, "kind", kind, "retryIn", c.interval)
		if c.rec != nil {
			c.rec.ObserveRefresh(c.name, "failure", elapsed)
			c.rec.RefreshError(c.name, kind)
		}
	default:
		c.log.V(1).Info("snapshot applied", "seq", seq, "sensors", snap.Len(), "elapsed", elapsed)
		if c.rec != nil {
			c.rec.ObserveRefresh(c.name, "success", elapsed)
			c.rec.SnapshotApplied(c.name, snap)
		}
	}

	c.notify(res)
	return res
}

func (c *Controller) apply(ctx context.Context, seq uint64, snap *models.SensorSnapshot, err error) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--

	res := Result{Seq: seq, Err: err}

	if err != nil && ctx.Err() != nil {
		res.Cancelled = true
		res.State = c.stateLocked()
		res.Snapshot = c.snap
		return res
	}

	if seq < c.applied {
		res.Stale = true
		res.State = c.stateLocked()
		res.Snapshot = c.snap
		return res
	}

	res.Initial = c.applied == 0
	c.applied = seq

	if err != nil {
		c.state = StateFailed
		c.lastErr = err
	} else {
		c.state = StateReady
		c.snap = snap
		c.lastErr = nil
		c.lastSuccess = time.Now()
		c.loaded = true
	}

	res.State = c.state
	res.Snapshot = c.snap
	return res
}

func (c *Controller) notify(res Result) {
	for _, l := range c.listeners {
		if err := l(res); err != nil {
			kind := ErrorKind(err)
			c.log.Error(err, "result listener failed", "seq", res.Seq, "kind", kind)
			if c.rec != nil {
				c.rec.RefreshError(c.name, kind)
			}
		}
	}
}
