package httpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/wsbroadcast/internal/domain"
	"github.com/pscheid92/wsbroadcast/internal/hub"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
	"github.com/pscheid92/wsbroadcast/internal/platform/config"
	"github.com/pscheid92/wsbroadcast/web"
)

type connectionHub interface {
	Accept(ctx context.Context, sock hub.Socket, remoteAddr string) (*hub.Connection, error)
	Accepting() bool
	Broadcast(msg domain.Message) int
	Count() int
	Shutdown(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	hub      connectionHub
	limits   *ConnectionLimits
	upgrader websocket.Upgrader

	templates    *template.Template
	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTP
	hubMetrics   *metrics.Hub
	healthChecks []HealthCheck
	instanceID   string
	startTime    time.Time
}

func NewServer(cfg *config.Config, h connectionHub, reg *prometheus.Registry, hubMetrics *metrics.Hub, clock clockwork.Clock, instanceID string, healthChecks []HealthCheck) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		clock:        clock,
		hub:          h,
		limits:       NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRatePerIP, cfg.ConnectionRateBurst),
		upgrader:     newUpgrader(NewCheckOrigin(cfg.Origins(), cfg.AppEnv == "development")),
		templates:    templates,
		registry:     reg,
		httpMetrics:  metrics.NewHTTP(reg),
		hubMetrics:   hubMetrics,
		healthChecks: healthChecks,
		instanceID:   instanceID,
		startTime:    clock.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func newUpgrader(checkOrigin func(*http.Request) bool) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			slog.WarnContext(r.Context(), "WebSocket upgrade failed", "status", status, "error", reason)
			if status == http.StatusForbidden {
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			http.Error(w, "WebSocket upgrade failed", http.StatusInternalServerError)
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving HTTP until Shutdown. It returns nil after a clean
// shutdown and the listener error otherwise.
func (s *Server) Start() error {
	slog.Info("Starting server", "addr", s.config.Addr(), "path", s.config.WebSocketPath, "routing", s.config.RoutingPolicy)
	if err := s.echo.Start(s.config.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains the hub first so upgrade requests arriving during the
// drain are answered with 503, then stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	hubErr := s.hub.Shutdown(ctx)
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", errors.Join(err, hubErr))
	}
	if hubErr != nil {
		return fmt.Errorf("failed to drain connections: %w", hubErr)
	}
	return nil
}

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(c.Request().Context(), "Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}
