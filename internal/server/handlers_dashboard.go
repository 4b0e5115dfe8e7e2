package server

import (
	"bytes"
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hassanrakib/zitbo-server/internal/domain"
)

// Session keys
const (
	sessionName        = "zitbo-session"
	sessionKeyUsername = "username"
)

// renderTemplate renders to a buffer first so a failed execution never
// sends partial HTML.
func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Template execution failed", "template", name, "error", err)
		return c.String(500, "Failed to render page")
	}
	return c.HTMLBlob(200, buf.Bytes())
}

// requireSession gates the ops dashboard behind the cookie session.
func (s *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.sessionStore.Get(c.Request(), sessionName)
		if err != nil {
			return c.Redirect(302, "/dashboard/login")
		}

		username, ok := session.Values[sessionKeyUsername].(string)
		if !ok || username == "" {
			return c.Redirect(302, "/dashboard/login")
		}

		c.Set("username", username)
		return next(c)
	}
}

func (s *Server) handleDashboardLoginPage(c echo.Context) error {
	return s.renderTemplate(c, "login.html", map[string]any{"Error": c.QueryParam("error")})
}

func (s *Server) handleDashboardLogin(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")

	_, err := s.app.Authenticate(c.Request().Context(), username, password)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		return c.Redirect(302, "/dashboard/login?error=invalid")
	}
	if err != nil {
		slog.Error("Dashboard login failed", "username", username, "error", err)
		return c.String(503, "Login temporarily unavailable")
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Warn("Failed to get session during login", "error", err)
		// Continue with the fresh session Get returned
	}
	session.Values[sessionKeyUsername] = username
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.Error("Failed to save session", "error", err)
		return c.String(500, "Failed to save session")
	}

	return c.Redirect(302, "/dashboard")
}

func (s *Server) handleDashboardLogout(c echo.Context) error {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Warn("Failed to get session during logout", "error", err)
	}
	session.Options.MaxAge = -1

	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.Error("Failed to save logout session", "error", err)
		return c.String(500, "Failed to logout. Please clear your browser cookies.")
	}

	return c.Redirect(302, "/dashboard/login")
}

func (s *Server) handleDashboard(c echo.Context) error {
	username := c.Get("username").(string)
	ctx := c.Request().Context()

	state, err := s.app.ReadRoomState(ctx, username)
	if err != nil {
		return c.String(503, "Failed to load room state")
	}

	// Today's total in UTC: one bucket starting at midnight.
	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	var todayTotal int64
	series, err := s.app.DailyTotals(ctx, username, midnight, midnight.AddDate(0, 0, 1), 1, "UTC")
	if err != nil {
		slog.Warn("Dashboard totals failed", "username", username, "error", err)
	} else if len(series) == 1 {
		todayTotal = series[0].CompletedTime
	}

	data := map[string]any{
		"Username":     username,
		"Connections":  s.hub.ClientCount(username),
		"ActiveTaskID": state.ActiveTaskID,
		"TodayMinutes": todayTotal / 60000,
	}
	return s.renderTemplate(c, "dashboard.html", data)
}
