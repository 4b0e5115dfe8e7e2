package server

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/hassanrakib/zitbo-server/internal/broadcast"
	"github.com/hassanrakib/zitbo-server/internal/config"
	"github.com/hassanrakib/zitbo-server/internal/domain"
	apperrors "github.com/hassanrakib/zitbo-server/internal/errors"
	"github.com/hassanrakib/zitbo-server/internal/tracker"
)

// --- Mock implementations ---

type mockAppService struct {
	signUpFn          func(ctx context.Context, username, password string) (*domain.User, error)
	authenticateFn    func(ctx context.Context, username, password string) (*domain.User, error)
	createTaskFn      func(ctx context.Context, doer, name string, dayIndex int) (*domain.Task, *domain.ChangeNotice, error)
	tasksInRangeFn    func(ctx context.Context, doer string, from, to time.Time) ([]domain.Task, error)
	renameTaskFn      func(ctx context.Context, doer string, taskID uuid.UUID, name string, dayIndex int) (*domain.ChangeNotice, error)
	deleteTaskFn      func(ctx context.Context, doer string, taskID uuid.UUID, wasActive bool, dayIndex int) (*domain.ChangeNotice, error)
	startIntervalFn   func(ctx context.Context, doer string, taskID uuid.UUID, dayIndex int) (*domain.WorkInterval, *domain.ChangeNotice, error)
	endIntervalFn     func(ctx context.Context, doer string, req tracker.EndRequest, dayIndex int) (string, *domain.ChangeNotice, error)
	deleteIntervalsFn func(ctx context.Context, doer string, taskID uuid.UUID, intervalIDs []uuid.UUID, dayIndex int) (*domain.ChangeNotice, error)
	continuePulseFn   func(start time.Time) (time.Time, time.Time)
	updateRoomStateFn func(ctx context.Context, username, activeTaskID string) error
	readRoomStateFn   func(ctx context.Context, username string) (*domain.RoomState, error)
	dailyTotalsFn     func(ctx context.Context, doer string, from, to time.Time, buckets int, tz string) ([]domain.DailyTotal, error)
	existingDatesFn   func(ctx context.Context, doer, tz string) ([]string, error)
}

func (m *mockAppService) SignUp(ctx context.Context, username, password string) (*domain.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, username, password)
	}
	return &domain.User{ID: uuid.New(), Username: username}, nil
}

func (m *mockAppService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, username, password)
	}
	return nil, domain.ErrInvalidCredentials
}

func (m *mockAppService) CreateTask(ctx context.Context, doer, name string, dayIndex int) (*domain.Task, *domain.ChangeNotice, error) {
	if m.createTaskFn != nil {
		return m.createTaskFn(ctx, doer, name, dayIndex)
	}
	return nil, nil, fmt.Errorf("not implemented")
}

func (m *mockAppService) TasksInRange(ctx context.Context, doer string, from, to time.Time) ([]domain.Task, error) {
	if m.tasksInRangeFn != nil {
		return m.tasksInRangeFn(ctx, doer, from, to)
	}
	return []domain.Task{}, nil
}

func (m *mockAppService) RenameTask(ctx context.Context, doer string, taskID uuid.UUID, name string, dayIndex int) (*domain.ChangeNotice, error) {
	if m.renameTaskFn != nil {
		return m.renameTaskFn(ctx, doer, taskID, name, dayIndex)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAppService) DeleteTask(ctx context.Context, doer string, taskID uuid.UUID, wasActive bool, dayIndex int) (*domain.ChangeNotice, error) {
	if m.deleteTaskFn != nil {
		return m.deleteTaskFn(ctx, doer, taskID, wasActive, dayIndex)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAppService) StartInterval(ctx context.Context, doer string, taskID uuid.UUID, dayIndex int) (*domain.WorkInterval, *domain.ChangeNotice, error) {
	if m.startIntervalFn != nil {
		return m.startIntervalFn(ctx, doer, taskID, dayIndex)
	}
	return nil, nil, fmt.Errorf("not implemented")
}

func (m *mockAppService) EndInterval(ctx context.Context, doer string, req tracker.EndRequest, dayIndex int) (string, *domain.ChangeNotice, error) {
	if m.endIntervalFn != nil {
		return m.endIntervalFn(ctx, doer, req, dayIndex)
	}
	return "", nil, fmt.Errorf("not implemented")
}

func (m *mockAppService) DeleteIntervals(ctx context.Context, doer string, taskID uuid.UUID, intervalIDs []uuid.UUID, dayIndex int) (*domain.ChangeNotice, error) {
	if m.deleteIntervalsFn != nil {
		return m.deleteIntervalsFn(ctx, doer, taskID, intervalIDs, dayIndex)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockAppService) ContinuePulse(start time.Time) (time.Time, time.Time) {
	if m.continuePulseFn != nil {
		return m.continuePulseFn(start)
	}
	return start, time.Now().UTC()
}

func (m *mockAppService) UpdateRoomState(ctx context.Context, username, activeTaskID string) error {
	if m.updateRoomStateFn != nil {
		return m.updateRoomStateFn(ctx, username, activeTaskID)
	}
	return nil
}

func (m *mockAppService) ReadRoomState(ctx context.Context, username string) (*domain.RoomState, error) {
	if m.readRoomStateFn != nil {
		return m.readRoomStateFn(ctx, username)
	}
	return &domain.RoomState{Username: username}, nil
}

func (m *mockAppService) DailyTotals(ctx context.Context, doer string, from, to time.Time, buckets int, tz string) ([]domain.DailyTotal, error) {
	if m.dailyTotalsFn != nil {
		return m.dailyTotalsFn(ctx, doer, from, to, buckets, tz)
	}
	return []domain.DailyTotal{}, nil
}

func (m *mockAppService) ExistingDates(ctx context.Context, doer, tz string) ([]string, error) {
	if m.existingDatesFn != nil {
		return m.existingDatesFn(ctx, doer, tz)
	}
	return []string{}, nil
}

type mockCredentials struct {
	issueFn  func(username string) (string, error)
	verifyFn func(token string) (string, error)
}

func (m *mockCredentials) Issue(username string) (string, error) {
	if m.issueFn != nil {
		return m.issueFn(username)
	}
	return "token-" + username, nil
}

func (m *mockCredentials) Verify(token string) (string, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return "", fmt.Errorf("invalid token")
}

type mockNotifier struct {
	publishFn func(ctx context.Context, notice domain.ChangeNotice) error
}

func (m *mockNotifier) Publish(ctx context.Context, notice domain.ChangeNotice) error {
	if m.publishFn != nil {
		return m.publishFn(ctx, notice)
	}
	return nil
}

// --- Test helpers ---

func newTestServer(t *testing.T, app AppService, opts ...func(*Server)) *Server {
	t.Helper()

	loginTmpl := template.Must(template.New("login.html").Parse(`Login {{.Error}}`))
	template.Must(loginTmpl.New("dashboard.html").Parse(`Dashboard {{.Username}} {{.Connections}}`))

	store := sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!!"))
	store.Options = &sessions.Options{
		Path:   "/",
		MaxAge: 3600,
	}

	hub := broadcast.NewHub(nil, nil, clockwork.NewRealClock(), 8)
	t.Cleanup(hub.Stop)

	e := echo.New()
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:         e,
		config:       &config.Config{EventsPerSecond: 100, EventBurst: 100},
		app:          app,
		creds:        &mockCredentials{},
		hub:          hub,
		notifier:     &mockNotifier{},
		limits:       NewConnectionLimits(100, 10, 100.0, 100),
		sessionStore: store,
		templates:    loginTmpl,
		startTime:    time.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withCredentials(creds credentialService) func(*Server) {
	return func(s *Server) {
		s.creds = creds
	}
}

func withNotifier(n domain.ChangePublisher) func(*Server) {
	return func(s *Server) {
		s.notifier = n
	}
}

func withLimits(limits *ConnectionLimits) func(*Server) {
	return func(s *Server) {
		s.limits = limits
	}
}

func withRedisHealthCheck(redis redisHealthChecker) func(*Server) {
	return func(s *Server) {
		s.redisHealthCheck = redis
	}
}

func withPostgresHealthCheck(pg postgresHealthChecker) func(*Server) {
	return func(s *Server) {
		s.postgresHealthCheck = pg
	}
}

func setSessionUsername(t *testing.T, srv *Server, req *http.Request, rec *httptest.ResponseRecorder, username string) {
	t.Helper()
	session, err := srv.sessionStore.Get(req, sessionName)
	require.NoError(t, err)
	session.Values[sessionKeyUsername] = username
	require.NoError(t, session.Save(req, rec))
}
