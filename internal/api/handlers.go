package api

import (
	"time"

	"github.com/airq-visualizer/backend/internal/historydb"
	"github.com/airq-visualizer/backend/internal/metrics"
	"github.com/airq-visualizer/backend/internal/quality"
	"github.com/airq-visualizer/backend/internal/refresh"
	"github.com/airq-visualizer/backend/internal/session"
	"github.com/airq-visualizer/backend/internal/view/dashboard"
	"github.com/airq-visualizer/backend/internal/view/mapview"
	"github.com/go-logr/logr"
)

// View names used in routes, logs and metrics.
const (
	ViewDashboard = "dashboard"
	ViewMap       = "map"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Dashboard  *refresh.Controller
	Map        *refresh.Controller
	Sessions   *session.Manager
	Classifier *quality.Classifier
	// History is optional; stats endpoints answer 503 without it.
	History        *historydb.Index
	HistoryTimeout time.Duration
	Metrics        *metrics.Metrics
	MapImage       mapview.ImageConfig
	Locale         string
	Location       *time.Location
	Version        string
	Logger         logr.Logger
}

// Handler handles API requests.
type Handler struct {
	dashboard  *refresh.Controller
	mapCtl     *refresh.Controller
	sessions   *session.Manager
	classifier *quality.Classifier
	history    *historydb.Index
	historyTTL time.Duration
	metrics    *metrics.Metrics
	mapImage   mapview.ImageConfig
	locale     string
	loc        *time.Location
	version    string
	log        logr.Logger

	// hub is set once the websocket hub is attached.
	hub *Hub
}

// NewHandler creates a new API handler.
func NewHandler(deps *Dependencies) *Handler {
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	ttl := deps.HistoryTimeout
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	locale := deps.Locale
	if locale == "" {
		locale = "en"
	}
	return &Handler{
		dashboard:  deps.Dashboard,
		mapCtl:     deps.Map,
		sessions:   deps.Sessions,
		classifier: deps.Classifier,
		history:    deps.History,
		historyTTL: ttl,
		metrics:    deps.Metrics,
		mapImage:   deps.MapImage,
		locale:     locale,
		loc:        loc,
		version:    deps.Version,
		log:        deps.Logger.WithName("api"),
	}
}

// controller returns the controller behind a view name.
func (h *Handler) controller(name string) (*refresh.Controller, bool) {
	switch name {
	case ViewDashboard:
		return h.dashboard, h.dashboard != nil
	case ViewMap:
		return h.mapCtl, h.mapCtl != nil
	default:
		return nil, false
	}
}

// localeOr returns the requested locale, or the configured one when empty.
func (h *Handler) localeOr(requested string) string {
	if requested == "" {
		return h.locale
	}
	return requested
}

func (h *Handler) dashboardBuilder(locale string) *dashboard.Builder {
	return dashboard.NewBuilder(h.classifier, h.localeOr(locale), h.loc)
}

func (h *Handler) mapBuilder(locale string) *mapview.Builder {
	return mapview.NewBuilder(h.classifier, h.localeOr(locale), h.loc)
}
