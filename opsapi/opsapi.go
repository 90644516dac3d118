// Package opsapi is a small operational HTTP surface — /healthz and /stats —
// served on a separate port from the chat protocol listener, the direct
// descendant of the teacher's server/api.go APIServer (SPEC_FULL.md §5.6).
package opsapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// StatsProvider is the read-only slice of *dcp Server this package needs.
// Defined here (rather than importing the root package, which it cannot:
// the root package is `main`) so main.go can hand in its *Server, which
// satisfies this interface structurally.
type StatsProvider interface {
	UserCount() int
	GroupCount() int
	FramesProcessed() uint64
	Uptime() time.Duration
}

// Server is the ops HTTP server.
type Server struct {
	stats StatsProvider
	echo  *echo.Echo
	ready func() bool
}

// New constructs an opsapi.Server. ready reports whether the chat acceptor
// is listening yet, backing /healthz.
func New(stats StatsProvider, ready func() bool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[ops] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	s := &Server{stats: stats, echo: e, ready: ready}
	e.GET("/healthz", s.handleHealthz)
	e.GET("/stats", s.handleStats)
	return s
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	if s.ready != nil && !s.ready() {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "starting"})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type statsResponse struct {
	Users           int    `json:"users"`
	Groups          int    `json:"groups"`
	FramesProcessed uint64 `json:"frames_processed"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, statsResponse{
		Users:           s.stats.UserCount(),
		Groups:          s.stats.GroupCount(),
		FramesProcessed: s.stats.FramesProcessed(),
		UptimeSeconds:   int64(s.stats.Uptime().Seconds()),
	})
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) {
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Printf("[ops] server error: %v", err)
		}
	}()
	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(shutCtx); err != nil {
		log.Printf("[ops] shutdown: %v", err)
	}
}
