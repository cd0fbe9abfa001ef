// Package api serves stored history, health probes and Prometheus metrics
// over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"socialpulse/internal/logging"
	"socialpulse/internal/model"
)

const readinessProbeTimeout = 3 * time.Second

// Reader is the storage the API reads from.
type Reader interface {
	Ping(ctx context.Context) error
	ListAccounts(ctx context.Context) ([]model.Account, error)
	FindAccount(ctx context.Context, platform model.Platform, key string) (model.Account, bool, error)
	LatestSnapshot(ctx context.Context, accountID int64) (model.MetricSnapshot, bool, error)
	Snapshots(ctx context.Context, accountID int64, limit int) ([]model.MetricSnapshot, error)
	Posts(ctx context.Context, accountID int64, limit int) ([]model.PostRecord, error)
}

type Server struct {
	echo      *echo.Echo
	store     Reader
	addr      string
	startTime time.Time
}

func NewServer(addr string, store Reader) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, store: store, addr: addr, startTime: time.Now()}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until Shutdown; a normal shutdown returns nil.
func (s *Server) Start() error {
	logging.Info("api_listening", map[string]any{"addr": s.addr})
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			f := map[string]any{"method": v.Method, "uri": v.URI, "status": v.Status, "latency_ms": v.Latency.Milliseconds()}
			if v.Error != nil {
				f["error"] = v.Error.Error()
			}
			logging.Debug("http_request", f)
			return nil
		},
	}))

	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := s.echo.Group("/api/accounts")
	g.GET("", s.handleAccounts)
	g.GET("/:platform/:account/latest", s.handleLatest)
	g.GET("/:platform/:account/snapshots", s.handleSnapshots)
	g.GET("/:platform/:account/posts", s.handlePosts)
	g.GET("/:platform/:account/growth", s.handleGrowth)
	g.GET("/:platform/:account/chart", s.handleChart)
}

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":       "unhealthy",
			"failed_check": "storage",
			"error":        err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
