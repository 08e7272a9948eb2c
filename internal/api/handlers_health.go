// handlers_health.go - Health, status and manual refresh handlers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/labstack/echo/v4"
)

// ViewStatus summarizes one refresh controller.
type ViewStatus struct {
	Name        string        `json:"name"`
	State       refresh.State `json:"state"`
	Loaded      bool          `json:"loaded"`
	Seq         uint64        `json:"seq"`
	Sensors     int           `json:"sensors"`
	IntervalMS  int64         `json:"intervalMs"`
	LastSuccess *time.Time    `json:"lastSuccess,omitempty"`
	LastAttempt *time.Time    `json:"lastAttempt,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
	ErrorKind   string        `json:"errorKind,omitempty"`
}

// HistoryStatus summarizes the history index.
type HistoryStatus struct {
	Enabled bool     `json:"enabled"`
	Seq     uint64   `json:"seq,omitempty"`
	Rows    int      `json:"rows,omitempty"`
	Sensors []string `json:"sensors,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Version   string         `json:"version"`
	Views     []ViewStatus   `json:"views"`
	Sessions  int            `json:"sessions"`
	WSClients map[string]int `json:"wsClients"`
	History   HistoryStatus  `json:"history"`
}

// RefreshResponse is the body of POST /api/refresh/:view.
type RefreshResponse struct {
	View      string        `json:"view"`
	Seq       uint64        `json:"seq"`
	State     refresh.State `json:"state"`
	Initial   bool          `json:"initial,omitempty"`
	Stale     bool          `json:"stale,omitempty"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Sensors   int           `json:"sensors"`
}

// HandleHealth returns server health status.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleStatus reports the state of both views and the supporting services.
func (h *Handler) HandleStatus(c echo.Context) error {
	resp := StatusResponse{
		Version:   h.version,
		Views:     []ViewStatus{},
		WSClients: map[string]int{},
	}

	for _, name := range []string{ViewDashboard, ViewMap} {
		ctl, ok := h.controller(name)
		if !ok {
			continue
		}
		resp.Views = append(resp.Views, viewStatus(ctl.Status()))
	}

	if h.sessions != nil {
		resp.Sessions = h.sessions.Count()
	}
	if h.hub != nil {
		resp.WSClients[ViewDashboard] = h.hub.Count(ViewDashboard)
		resp.WSClients[ViewMap] = h.hub.Count(ViewMap)
	}
	if h.history != nil {
		resp.History = HistoryStatus{Enabled: true, Seq: h.history.Seq(), Rows: h.history.Len()}

		ctx, cancel := context.WithTimeout(c.Request().Context(), h.historyTTL)
		ids, err := h.history.Sensors(ctx)
		cancel()
		if err != nil {
			h.log.Error(err, "failed to list indexed sensors")
		} else {
			resp.History.Sensors = ids
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// HandleRefresh runs one refresh of a view right away.
func (h *Handler) HandleRefresh(c echo.Context) error {
	name := c.Param("view")
	ctl, ok := h.controller(name)
	if !ok {
		return NewNotFoundError("view", name)
	}

	res := ctl.Refresh(c.Request().Context())
	if res.Cancelled {
		return NewServiceUnavailableError("refresh cancelled")
	}
	if res.Err != nil && !res.Stale {
		return NewSnapshotError(res.Err)
	}

	return c.JSON(http.StatusOK, RefreshResponse{
		View:      name,
		Seq:       res.Seq,
		State:     res.State,
		Initial:   res.Initial,
		Stale:     res.Stale,
		Cancelled: res.Cancelled,
		Sensors:   res.Snapshot.Len(),
	})
}

func viewStatus(st refresh.Status) ViewStatus {
	vs := ViewStatus{
		Name:       st.Name,
		State:      st.State,
		Loaded:     st.Loaded,
		Seq:        st.Seq,
		Sensors:    st.Snapshot.Len(),
		IntervalMS: st.Interval.Milliseconds(),
	}
	if !st.LastSuccess.IsZero() {
		t := st.LastSuccess.UTC()
		vs.LastSuccess = &t
	}
	if !st.LastAttempt.IsZero() {
		t := st.LastAttempt.UTC()
		vs.LastAttempt = &t
	}
	if st.LastError != nil {
		vs.LastError = st.LastError.Error()
		vs.ErrorKind = refresh.ErrorKind(st.LastError)
	}
	return vs
}
