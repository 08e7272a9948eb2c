// handlers_sessions.go - Dashboard selection session handlers
package api

import (
	"net/http"
	"strings"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/airq-visualizer/backend/internal/view/dashboard"
	"github.com/labstack/echo/v4"
)

// SessionRequest is the body of session create and selection requests.
type SessionRequest struct {
	Sensor string `json:"sensor"`
	Locale string `json:"locale,omitempty"`
}

// SessionResponse carries a session and the dashboard it currently shows.
type SessionResponse struct {
	Session   *models.DashboardSession `json:"session"`
	Dashboard *dashboard.State         `json:"dashboard,omitempty"`
}

// HandleCreateSession starts a dashboard session.
func (h *Handler) HandleCreateSession(c echo.Context) error {
	var req SessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	sess := h.sessions.Create(strings.TrimSpace(req.Sensor))
	if req.Locale != "" {
		h.sessions.SetLocale(sess.ID, req.Locale)
		sess.Locale = req.Locale
	}

	return c.JSON(http.StatusCreated, h.sessionResponse(sess))
}

// HandleListSessions returns every session, oldest first, without dashboards.
func (h *Handler) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.List())
}

// HandleGetSession returns a session and its dashboard.
func (h *Handler) HandleGetSession(c echo.Context) error {
	id := c.Param("id")
	sess, ok := h.sessions.Get(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, h.sessionResponse(sess))
}

// HandleSelectSensor changes the selected sensor of a session and pushes the
// new dashboard to the session's websocket clients.
func (h *Handler) HandleSelectSensor(c echo.Context) error {
	id := c.Param("id")

	var req SessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	sess, ok := h.sessions.Select(id, strings.TrimSpace(req.Sensor))
	if !ok {
		return NewNotFoundError("session", id)
	}
	if req.Locale != "" {
		h.sessions.SetLocale(id, req.Locale)
		sess.Locale = req.Locale
	}

	if h.hub != nil {
		h.hub.PushSession(id)
	}

	return c.JSON(http.StatusOK, h.sessionResponse(sess))
}

// HandleSessionKeepAlive extends session lifetime for active viewing
func (h *Handler) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if ok := h.sessions.Touch(id); !ok {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleDeleteSession ends a session.
func (h *Handler) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if ok := h.sessions.Delete(id); !ok {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) sessionResponse(sess *models.DashboardSession) SessionResponse {
	resp := SessionResponse{Session: sess}
	if h.dashboard != nil {
		state := h.dashboardBuilder(sess.Locale).Build(dashboard.Input{
			Status:   h.dashboard.Status(),
			Selected: sess.SelectedSensor,
		})
		resp.Dashboard = &state
	}
	return resp
}
