// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"
)

// HealthHandler handles health and status operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
	HandleStatus(c echo.Context) error
	HandleRefresh(c echo.Context) error
}

// MapHandler serves the floor-plan view
type MapHandler interface {
	HandleGetMap(c echo.Context) error
}

// DashboardHandler serves the per-sensor dashboard
type DashboardHandler interface {
	HandleGetDashboard(c echo.Context) error
	HandleListSensors(c echo.Context) error
	HandleGetSensor(c echo.Context) error
	HandleGetSensorMsgpack(c echo.Context) error
	HandleGetSensorStats(c echo.Context) error
}

// SessionHandler handles dashboard selection sessions
type SessionHandler interface {
	HandleListSessions(c echo.Context) error
	HandleCreateSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleSelectSensor(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
}

// WebSocketHandler pushes view updates to connected clients
type WebSocketHandler interface {
	HandleMapSocket(c echo.Context) error
	HandleDashboardSocket(c echo.Context) error
}

var (
	_ HealthHandler    = (*Handler)(nil)
	_ MapHandler       = (*Handler)(nil)
	_ DashboardHandler = (*Handler)(nil)
	_ SessionHandler   = (*Handler)(nil)
	_ WebSocketHandler = (*Hub)(nil)
)
