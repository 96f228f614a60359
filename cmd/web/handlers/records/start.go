// Package records exposes the ingestion run over HTTP: start, cancel,
// live status, and the progress-event stream. Handlers stay thin; the
// run itself is owned by the ingest controller.
package records

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"hindsight.systems/hindsight/internal/config"
	"hindsight.systems/hindsight/internal/ingest"
)

type startRequest struct {
	// TakeoutPath selects populate mode; leave empty to refresh stale
	// records instead.
	TakeoutPath string `json:"takeout_path" form:"takeout-dir"`
}

// HandleStart kicks off a background run. A request while a run is
// already active is rejected with 409 and the active run is untouched.
func HandleStart(runner *ingest.Runner, conf *config.Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req startRequest
		if err := c.Bind(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid request body")
		}

		runID, err := runner.Start(ingest.Params{
			TakeoutPath:  strings.TrimSpace(req.TakeoutPath),
			APIKeyPath:   conf.APIKeyPath,
			PruneHTML:    conf.TakeoutPruneHTML,
			RefreshAfter: time.Duration(conf.RefreshAfterDays) * 24 * time.Hour,
			APIBaseURL:   conf.YouTubeAPIBaseURL,
		})
		if err != nil {
			if errors.Is(err, ingest.ErrBusy) {
				return c.String(http.StatusConflict, err.Error())
			}
			return c.String(http.StatusInternalServerError, err.Error())
		}

		return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
	}
}
