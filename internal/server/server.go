package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/hassanrakib/zitbo-server/internal/broadcast"
	"github.com/hassanrakib/zitbo-server/internal/config"
	"github.com/hassanrakib/zitbo-server/internal/domain"
	apperrors "github.com/hassanrakib/zitbo-server/internal/errors"
	"github.com/hassanrakib/zitbo-server/internal/tracker"
)

const sessionMaxAgeDays = 7

//go:embed templates/*.html
var templateFS embed.FS

// AppService is what the handlers need from the application layer.
// Defined here so tests can substitute a mock.
type AppService interface {
	SignUp(ctx context.Context, username, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)

	CreateTask(ctx context.Context, doer, name string, dayIndex int) (*domain.Task, *domain.ChangeNotice, error)
	TasksInRange(ctx context.Context, doer string, from, to time.Time) ([]domain.Task, error)
	RenameTask(ctx context.Context, doer string, taskID uuid.UUID, name string, dayIndex int) (*domain.ChangeNotice, error)
	DeleteTask(ctx context.Context, doer string, taskID uuid.UUID, wasActive bool, dayIndex int) (*domain.ChangeNotice, error)

	StartInterval(ctx context.Context, doer string, taskID uuid.UUID, dayIndex int) (*domain.WorkInterval, *domain.ChangeNotice, error)
	EndInterval(ctx context.Context, doer string, req tracker.EndRequest, dayIndex int) (string, *domain.ChangeNotice, error)
	DeleteIntervals(ctx context.Context, doer string, taskID uuid.UUID, intervalIDs []uuid.UUID, dayIndex int) (*domain.ChangeNotice, error)
	ContinuePulse(start time.Time) (time.Time, time.Time)

	UpdateRoomState(ctx context.Context, username, activeTaskID string) error
	ReadRoomState(ctx context.Context, username string) (*domain.RoomState, error)

	DailyTotals(ctx context.Context, doer string, from, to time.Time, buckets int, tz string) ([]domain.DailyTotal, error)
	ExistingDates(ctx context.Context, doer, tz string) ([]string, error)
}

// credentialService issues and verifies bearer credentials.
type credentialService interface {
	Issue(username string) (string, error)
	Verify(token string) (string, error)
}

type Server struct {
	echo         *echo.Echo
	config       *config.Config
	app          AppService
	creds        credentialService
	hub          *broadcast.Hub
	notifier     domain.ChangePublisher
	limits       *ConnectionLimits
	sessionStore *sessions.CookieStore
	templates    *template.Template
	startTime    time.Time

	redisClient *goredis.Client
	db          *pgxpool.Pool

	// Test seams for health checks
	redisHealthCheck    redisHealthChecker
	postgresHealthCheck postgresHealthChecker
}

func NewServer(cfg *config.Config, app AppService, creds credentialService, hub *broadcast.Hub, notifier domain.ChangePublisher, redisClient *goredis.Client, db *pgxpool.Pool) (*Server, error) {
	templates, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(apperrors.Middleware())

	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * sessionMaxAgeDays,
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}

	srv := &Server{
		echo:         e,
		config:       cfg,
		app:          app,
		creds:        creds,
		hub:          hub,
		notifier:     notifier,
		limits:       NewConnectionLimits(cfg.MaxConns, cfg.MaxConnsPerIP, cfg.ConnRatePerIP, cfg.ConnBurstPerIP),
		sessionStore: sessionStore,
		templates:    templates,
		startTime:    time.Now(),
		redisClient:  redisClient,
		db:           db,
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestLogger logs each request through slog, skipping the noisy
// health and metrics scrapes.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health/live" || path == "/health/ready" || path == "/metrics"
		},
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("Request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	})
}
