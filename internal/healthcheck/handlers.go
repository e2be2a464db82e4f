package healthcheck

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandler serves /healthz: 200 while polls keep completing on schedule.
func HealthHandler(tracker *Tracker, pollInterval time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := http.StatusServiceUnavailable
		if tracker.Healthy(time.Now().UTC(), pollInterval) {
			status = http.StatusOK
		}
		return c.JSON(status, tracker.Snapshot())
	}
}

// ReadyHandler serves /readyz: 200 once snapshot data is available.
func ReadyHandler(tracker *Tracker) echo.HandlerFunc {
	return func(c echo.Context) error {
		status := http.StatusServiceUnavailable
		if tracker.Ready() {
			status = http.StatusOK
		}
		return c.JSON(status, tracker.Snapshot())
	}
}
