// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// MiddlewareConfig mirrors the server section of the app config.
type MiddlewareConfig struct {
	EnableCORS        bool
	AllowOrigins      []string
	EnableCompression bool
	CompressionLevel  int
	BodyLimit         string
	RequestTimeout    time.Duration
	RequestLogging    bool
	ExposeErrors      bool
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, h *Handler, hub *Hub, metricsHandler http.Handler) {
	e.GET("/api/health", h.HandleHealth)
	e.GET("/api/status", h.HandleStatus)
	e.POST("/api/refresh/:view", h.HandleRefresh)

	e.GET("/api/map", h.HandleGetMap)

	dash := e.Group("/api/dashboard")
	dash.GET("", h.HandleGetDashboard)
	dash.GET("/sensors", h.HandleListSensors)
	dash.GET("/sensors/:id", h.HandleGetSensor)
	dash.GET("/sensors/:id/msgpack", h.HandleGetSensorMsgpack)
	dash.GET("/sensors/:id/stats", h.HandleGetSensorStats)

	sessions := dash.Group("/sessions")
	sessions.GET("", h.HandleListSessions)
	sessions.POST("", h.HandleCreateSession)
	sessions.GET("/:id", h.HandleGetSession)
	sessions.PUT("/:id/selection", h.HandleSelectSensor)
	sessions.POST("/:id/keepalive", h.HandleSessionKeepAlive)
	sessions.DELETE("/:id", h.HandleDeleteSession)

	if hub != nil {
		RegisterWebSocketRoutes(e, hub)
	}
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, hub *Hub) {
	e.GET("/api/ws/map", hub.HandleMapSocket)
	e.GET("/api/ws/dashboard", hub.HandleDashboardSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig, log logr.Logger) {
	e.HTTPErrorHandler = NewErrorHandler(log, cfg.ExposeErrors)

	if cfg.RequestLogging {
		reqLog := log.WithName("http")
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			Skipper:    skipQuietPaths,
			LogURI:     true,
			LogStatus:  true,
			LogMethod:  true,
			LogLatency: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				reqLog.V(1).Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
				return nil
			},
		}))
	}

	e.Use(middleware.Recover())

	if cfg.RequestTimeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Skipper: isWebSocket,
			Timeout: cfg.RequestTimeout,
		}))
	}

	if cfg.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level:   cfg.CompressionLevel,
			Skipper: isWebSocket,
		}))
	}

	if cfg.EnableCORS {
		origins := cfg.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}
}

// skipQuietPaths keeps probes and scrapes out of the request log.
func skipQuietPaths(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/api/health" || p == "/metrics"
}

func isWebSocket(c echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get(echo.HeaderUpgrade), "websocket")
}
