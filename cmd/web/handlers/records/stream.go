package records

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"hindsight.systems/hindsight/internal/ingest"
)

// HandleStream serves the progress-event stream as SSE. There is exactly
// one live subscriber; attaching clears any stale buffered events so the
// new subscriber observes a clean stream. The handler returns after the
// run's stop frame or when the client disconnects.
func HandleStream(runner *ingest.Runner) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := c.Response()
		flusher, ok := resp.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "streaming unsupported")
		}

		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.Header().Set("Connection", "keep-alive")
		// nginx/reverse proxy compatibility
		resp.Header().Set("X-Accel-Buffering", "no")
		resp.WriteHeader(http.StatusOK)
		flusher.Flush()

		stream := runner.Events()
		stream.Attach()

		ctx := c.Request().Context()
		for {
			event, err := stream.Next(ctx)
			if err != nil {
				if errors.Is(err, ctx.Err()) {
					return nil // client went away
				}
				return err
			}
			if _, err := resp.Write([]byte(event.Encode())); err != nil {
				return nil
			}
			flusher.Flush()

			if event.Event == ingest.EventStop {
				return nil
			}
		}
	}
}
