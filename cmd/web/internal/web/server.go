package web

import (
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"hindsight.systems/hindsight/cmd/web/handlers/records"
	"hindsight.systems/hindsight/internal/config"
	"hindsight.systems/hindsight/internal/db"
	"hindsight.systems/hindsight/internal/ingest"
)

type Webserver struct {
	*echo.Echo
	dbc    *db.DatabaseConnection
	runner *ingest.Runner
	conf   *config.Config
}

func NewWebserver(conf *config.Config, dbc *db.DatabaseConnection, runner *ingest.Runner) *Webserver {
	e := echo.New()

	s := &Webserver{
		Echo:   e,
		dbc:    dbc,
		runner: runner,
		conf:   conf,
	}

	s.setupMiddleware()
	s.registerRoutes()
	return s
}

func (s *Webserver) setupMiddleware() {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		// The SSE stream stays open for the whole run; logging it as one
		// request is just noise.
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/runs/stream"
		},
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))
}

func (s *Webserver) registerRoutes() {
	s.POST("/runs", records.HandleStart(s.runner, s.conf))
	s.POST("/runs/cancel", records.HandleCancel(s.runner))
	s.GET("/runs/status", records.HandleStatus(s.runner))
	s.GET("/runs/stream", records.HandleStream(s.runner))
}

func (s *Webserver) ListenAddr() string {
	return fmt.Sprintf(":%d", s.conf.WebServerPort)
}
