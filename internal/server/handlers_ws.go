package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	apperrors "github.com/hassanrakib/zitbo-server/internal/errors"
	"github.com/hassanrakib/zitbo-server/internal/logging"
	"github.com/hassanrakib/zitbo-server/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Bearer credential is the auth boundary, not the Origin header
		return true
	},
}

// handleWebSocket is the realtime channel. The credential is verified
// before the upgrade, so a rejected connect touches no state.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	allowed, reason := s.limits.Acquire(ip)
	if !allowed {
		metrics.WebSocketConnectionsRejected.WithLabelValues(string(reason)).Inc()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		return apperrors.UnavailableError("too many connections", nil).WithField("reason", string(reason))
	}

	username, err := s.creds.Verify(bearerToken(c))
	if err != nil {
		s.limits.Release(ip)
		metrics.WebSocketConnectionsRejected.WithLabelValues("unauthorized").Inc()
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		return apperrors.UnauthorizedError("invalid or missing credential")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.limits.Release(ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues("error").Inc()
		slog.Warn("WebSocket upgrade failed", "username", username, "error", err)
		return nil
	}

	client, err := s.hub.Register(username, conn)
	if err != nil {
		s.limits.Release(ip)
		metrics.WebSocketConnectionsTotal.WithLabelValues("rejected").Inc()
		slog.Warn("Hub register rejected", "username", username, "error", err)
		conn.Close()
		return nil
	}

	connectedAt := time.Now()
	metrics.WebSocketConnectionsTotal.WithLabelValues("success").Inc()
	metrics.WebSocketConnectionsCurrent.Inc()
	metrics.WebSocketUniqueIPs.Set(float64(s.limits.PerIP().UniqueIPs()))

	logger := logging.WithUser(username).With("connection_id", client.ConnID)
	logger.Info("Client connected", "ip", ip)

	defer func() {
		s.hub.Unregister(client)
		s.limits.Release(ip)
		metrics.WebSocketConnectionsCurrent.Dec()
		metrics.WebSocketConnectionDuration.Observe(time.Since(connectedAt).Seconds())
		metrics.WebSocketUniqueIPs.Set(float64(s.limits.PerIP().UniqueIPs()))
		logger.Info("Client disconnected", "duration", time.Since(connectedAt))
	}()

	// Per-connection event throttle. Events on one connection are handled
	// strictly in order; other connections proceed concurrently.
	limiter := rate.NewLimiter(rate.Limit(s.config.EventsPerSecond), s.config.EventBurst)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Read loop ended", "error", err)
			}
			return nil
		}

		if !s.handleEvent(c.Request().Context(), client, limiter, message) {
			return nil
		}
	}
}

// bearerToken extracts the credential from the Authorization header or,
// for browser WebSocket clients that cannot set headers, from ?token=.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return c.QueryParam("token")
}
