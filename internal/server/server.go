// Package server exposes the workspace store over HTTP, plus the
// operational endpoints (/healthz, /metrics).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/scope"
	"github.com/fyrsmithlabs/workspaced/internal/search"
	"github.com/fyrsmithlabs/workspaced/internal/workspace"
)

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address.
	Addr string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// DefaultOrganization attributes requests that carry no organization.
	DefaultOrganization string
}

// Server is the HTTP front of the workspace store.
type Server struct {
	config    Config
	echo      *echo.Echo
	workspace *workspace.Service
	search    *search.Service
	resolver  *scope.Resolver
	logger    *zap.Logger
}

// HealthResponse is the JSON response for /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// New creates the HTTP server and registers all routes.
func New(cfg Config, ws *workspace.Service, se *search.Service, resolver *scope.Resolver, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		config:    cfg,
		echo:      e,
		workspace: ws,
		search:    se,
		resolver:  resolver,
		logger:    logger,
	}
	s.registerRoutes()
	return s
}

// Echo returns the underlying router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	v1.PUT("/scopes/:scope/:owner/entries/*", s.handleSet)
	v1.GET("/scopes/:scope/:owner/entries/*", s.handleGet)
	v1.DELETE("/scopes/:scope/:owner/entries/*", s.handleDelete)
	v1.GET("/scopes/:scope/:owner/entries", s.handleList)
	v1.POST("/scopes/:scope/:owner/clear", s.handleClear)
	v1.GET("/scopes/:scope/:owner/export", s.handleExport)
	v1.POST("/scopes/:scope/:owner/import", s.handleImport)
	v1.POST("/transfer", s.handleTransfer)
	v1.POST("/search", s.handleSearch)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "workspaced"})
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.config.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}
