package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// Root - redirect to dashboard
	s.echo.GET("/", func(c echo.Context) error {
		return c.Redirect(302, "/dashboard")
	})

	// Account endpoints (JSON, no cookie session)
	s.echo.POST("/auth/signup", s.handleSignUp)
	s.echo.POST("/auth/login", s.handleLogin)

	// Realtime channel - the bearer credential is checked before upgrade
	s.echo.GET("/ws", s.handleWebSocket)

	// Ops dashboard (cookie-session auth)
	s.echo.GET("/dashboard/login", s.handleDashboardLoginPage)
	s.echo.POST("/dashboard/login", s.handleDashboardLogin)
	s.echo.POST("/dashboard/logout", s.handleDashboardLogout, s.requireSession)
	s.echo.GET("/dashboard", s.handleDashboard, s.requireSession)
}
