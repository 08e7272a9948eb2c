// handlers_dashboard.go - Per-sensor dashboard handlers
package api

import (
	"context"
	"net/http"

	"github.com/airq-visualizer/backend/internal/view/dashboard"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// SensorsResponse is the body of GET /api/dashboard/sensors.
type SensorsResponse struct {
	Options    []dashboard.Option `json:"options"`
	State      string             `json:"state"`
	LastUpdate string             `json:"lastUpdate,omitempty"`
	Banner     string             `json:"banner,omitempty"`
}

// HandleGetDashboard renders the dashboard.
// Query: session=<id> uses the session's selection; otherwise sensor=<id>
// preselects a sensor when it is present in the snapshot.
func (h *Handler) HandleGetDashboard(c echo.Context) error {
	if h.dashboard == nil {
		return NewServiceUnavailableError("dashboard view is not running")
	}
	st := h.dashboard.Status()
	locale := c.QueryParam("lang")

	var selected string
	if id := c.QueryParam("session"); id != "" {
		sess, ok := h.sessions.Get(id)
		if !ok {
			return NewNotFoundError("session", id)
		}
		h.sessions.Touch(id)
		selected = sess.SelectedSensor
		if locale == "" {
			locale = sess.Locale
		}
	} else {
		selected = c.QueryParam("sensor")
		if st.Snapshot != nil {
			selected = dashboard.Preselect(st.Snapshot, selected)
		}
	}

	b := h.dashboardBuilder(locale)
	return c.JSON(http.StatusOK, b.Build(dashboard.Input{Status: st, Selected: selected}))
}

// HandleListSensors returns the selector options.
func (h *Handler) HandleListSensors(c echo.Context) error {
	if h.dashboard == nil {
		return NewServiceUnavailableError("dashboard view is not running")
	}
	st := h.dashboard.Status()
	state := h.dashboardBuilder(c.QueryParam("lang")).Build(dashboard.Input{Status: st})
	if st.Snapshot == nil {
		return NewServiceUnavailableError("no snapshot loaded yet")
	}

	return c.JSON(http.StatusOK, SensorsResponse{
		Options:    state.Options,
		State:      state.State,
		LastUpdate: state.LastUpdate,
		Banner:     state.Banner,
	})
}

// HandleGetSensor returns the dashboard with one sensor selected.
func (h *Handler) HandleGetSensor(c echo.Context) error {
	state, err := h.sensorState(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state)
}

// HandleGetSensorMsgpack is HandleGetSensor encoded as msgpack.
func (h *Handler) HandleGetSensorMsgpack(c echo.Context) error {
	state, err := h.sensorState(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(state)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleGetSensorStats returns aggregates over the sensor's history.
func (h *Handler) HandleGetSensorStats(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}
	if h.history == nil {
		return NewServiceUnavailableError("history index is disabled")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.historyTTL)
	defer cancel()

	stats, ok, err := h.history.Stats(ctx, id)
	if err != nil {
		return NewInternalError("failed to query history", err)
	}
	if !ok {
		return NewNotFoundError("sensor history", id)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) sensorState(c echo.Context) (dashboard.State, error) {
	id := c.Param("id")
	if id == "" {
		return dashboard.State{}, NewValidationError("id")
	}
	if h.dashboard == nil {
		return dashboard.State{}, NewServiceUnavailableError("dashboard view is not running")
	}

	st := h.dashboard.Status()
	if st.Snapshot == nil {
		return dashboard.State{}, NewServiceUnavailableError("no snapshot loaded yet")
	}
	if _, ok := st.Snapshot.Lookup(id); !ok {
		return dashboard.State{}, NewNotFoundError("sensor", id)
	}

	b := h.dashboardBuilder(c.QueryParam("lang"))
	return b.Build(dashboard.Input{Status: st, Selected: id}), nil
}
