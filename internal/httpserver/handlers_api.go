package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/wsbroadcast/internal/domain"
	apperrors "github.com/pscheid92/wsbroadcast/internal/platform/errors"
)

func (s *Server) registerAPIRoutes() {
	s.echo.GET("/api/stats", s.handleStats)
	if s.config.BroadcastAPIEnabled {
		s.echo.POST("/api/broadcast", s.handleBroadcast)
	}
}

func (s *Server) handleStats(c echo.Context) error {
	response := map[string]any{
		"connections": s.hub.Count(),
		"accepting":   s.hub.Accepting(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}

// handleBroadcast sends the raw request body to every registered
// connection, as a binary message for application/octet-stream bodies and
// as text otherwise.
func (s *Server) handleBroadcast(c echo.Context) error {
	limit := s.config.MaxMessageSize
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, limit+1))
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}
	if len(body) == 0 {
		return apperrors.ValidationError("message must not be empty")
	}
	if int64(len(body)) > limit {
		return apperrors.ValidationError("message too large").WithField("max_bytes", limit)
	}

	if !s.hub.Accepting() {
		return apperrors.UnavailableError("server is shutting down", nil)
	}

	msg := domain.TextMessage(string(body))
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEOctetStream) {
		msg = domain.BinaryMessage(body)
	}

	n := s.hub.Broadcast(msg)
	if err := c.JSON(http.StatusAccepted, map[string]int{"recipients": n}); err != nil {
		return fmt.Errorf("failed to write broadcast response: %w", err)
	}
	return nil
}
