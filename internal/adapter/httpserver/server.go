// Package httpserver is the loopback API the UI talks to: snapshot reads and
// actions for the session machine, outbox CRUD and sync triggers, and a
// websocket stream of core events.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/lenahartl/fieldsync/internal/errors"
	"github.com/lenahartl/fieldsync/internal/notify"
	"github.com/lenahartl/fieldsync/internal/outbox"
	"github.com/lenahartl/fieldsync/internal/session"
	"github.com/lenahartl/fieldsync/internal/version"
)

type Server struct {
	echo     *echo.Echo
	listen   string
	sessions *session.Manager
	queue    *outbox.Queue
	bus      *notify.Bus
}

func NewServer(listen string, sessions *session.Manager, queue *outbox.Queue, bus *notify.Bus) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	s := &Server{
		echo:     e,
		listen:   listen,
		sessions: sessions,
		queue:    queue,
		bus:      bus,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.GET("/session", s.handleSessionSnapshot)
	api.POST("/session/recover", s.handleRecover)
	api.POST("/session/logout", s.handleLogout)
	api.POST("/session/tenant", s.handleSwitchTenant)

	api.GET("/outbox", s.handleListOutbox)
	api.POST("/outbox", s.handleEnqueue)
	api.DELETE("/outbox/:id", s.handleDiscard)
	api.POST("/outbox/:id/replay", s.handleReplayOne)
	api.POST("/outbox/replay", s.handleReplayAll)

	api.GET("/events", s.handleEvents)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get(),
	})
}

func (s *Server) Start() error {
	slog.Info("Loopback API listening", "addr", s.listen)
	return s.echo.Start(s.listen)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
