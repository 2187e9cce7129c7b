package httpserver

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/wsbroadcast/internal/domain"
	apperrors "github.com/pscheid92/wsbroadcast/internal/platform/errors"
)

const rejectWriteTimeout = time.Second

func (s *Server) handleWebSocket(c echo.Context) error {
	r := c.Request()

	if !websocket.IsWebSocketUpgrade(r) {
		if strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMETextHTML) {
			return s.renderTemplate(c, "index.html", map[string]any{
				"Path":    s.config.WebSocketPath,
				"Routing": s.config.RoutingPolicy,
			})
		}
		return apperrors.ValidationError("expected a WebSocket upgrade request")
	}

	if !s.hub.Accepting() {
		s.hubMetrics.ConnectionsRejected.WithLabelValues("shutting_down").Inc()
		return apperrors.UnavailableError("server is shutting down", nil)
	}

	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		s.hubMetrics.ConnectionsRejected.WithLabelValues(string(reason)).Inc()
		return apperrors.TooManyRequestsError("connection limit reached").
			WithField("reason", string(reason)).
			WithField("ip", ip)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		s.limits.Release(ip)
		s.hubMetrics.ConnectionsRejected.WithLabelValues("upgrade_failed").Inc()
		return nil
	}

	hc, err := s.hub.Accept(r.Context(), conn, r.RemoteAddr)
	if err != nil {
		s.limits.Release(ip)
		s.rejectUpgraded(conn, err)
		return nil
	}

	go func() {
		<-hc.Done()
		s.limits.Release(ip)
		slog.Debug("Connection slot released", "connection_id", hc.ID(), "remote_addr", hc.RemoteAddr(), "ip", ip)
	}()
	return nil
}

// rejectUpgraded closes a socket the hub refused after the handshake,
// which happens when shutdown starts between the checks and Accept.
func (s *Server) rejectUpgraded(conn *websocket.Conn, err error) {
	code := websocket.CloseInternalServerErr
	if errors.Is(err, domain.ErrShuttingDown) {
		code = websocket.CloseTryAgainLater
	} else {
		slog.Error("Failed to register connection", "error", err)
	}
	msg := websocket.FormatCloseMessage(code, err.Error())
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(rejectWriteTimeout))
	_ = conn.Close()
}
