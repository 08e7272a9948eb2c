// handlers_map.go - Floor-plan view handler
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HandleGetMap returns the map view built from the last good snapshot.
// Query: lang=<locale>
func (h *Handler) HandleGetMap(c echo.Context) error {
	if h.mapCtl == nil {
		return NewServiceUnavailableError("map view is not running")
	}
	b := h.mapBuilder(c.QueryParam("lang"))
	return c.JSON(http.StatusOK, b.BuildView(h.mapCtl.Status(), h.mapImage))
}
