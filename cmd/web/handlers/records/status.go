package records

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"hindsight.systems/hindsight/internal/ingest"
)

// HandleStatus reports the live stage and percent, or "Quiet" when no run
// is active.
func HandleStatus(runner *ingest.Runner) echo.HandlerFunc {
	return func(c echo.Context) error {
		stage, percent := runner.Status()
		if stage == "" {
			return c.JSON(http.StatusOK, map[string]string{"stage": "Quiet"})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"stage":   stage,
			"percent": percent,
		})
	}
}

// HandleCancel requests cooperative cancellation of the active run. The
// worker stops at its next safe point and emits a single stop event.
func HandleCancel(runner *ingest.Runner) echo.HandlerFunc {
	return func(c echo.Context) error {
		runner.Cancel()
		return c.String(http.StatusOK, "Process stopped")
	}
}
