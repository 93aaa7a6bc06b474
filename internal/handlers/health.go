package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Health reports liveness. It does not touch the store.
func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}
