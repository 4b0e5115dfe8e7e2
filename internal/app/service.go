package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hassanrakib/zitbo-server/internal/auth"
	"github.com/hassanrakib/zitbo-server/internal/domain"
	"github.com/hassanrakib/zitbo-server/internal/metrics"
	"github.com/hassanrakib/zitbo-server/internal/report"
	"github.com/hassanrakib/zitbo-server/internal/tracker"
)

const callbackTimeout = 5 * time.Second

// Service is the application layer — the only component that references
// multiple domain components. It orchestrates all use cases and owns the
// disconnect reconciler.
type Service struct {
	users       domain.UserRepository
	tasks       domain.TaskRepository
	rooms       domain.RoomRepository
	tracker     *tracker.Tracker
	reports     *report.Reporter
	clock       clockwork.Clock
	sweepStopCh chan struct{}
	stopOnce    sync.Once
}

// NewService creates the application layer service and starts the
// background registry sweep. sweepInterval <= 0 disables the sweep
// (the one-shot sweep binary covers that deployment).
func NewService(users domain.UserRepository, tasks domain.TaskRepository, rooms domain.RoomRepository, trk *tracker.Tracker, reports *report.Reporter, clock clockwork.Clock, sweepInterval time.Duration) *Service {
	s := &Service{
		users:       users,
		tasks:       tasks,
		rooms:       rooms,
		tracker:     trk,
		reports:     reports,
		clock:       clock,
		sweepStopCh: make(chan struct{}),
	}

	if sweepInterval > 0 {
		s.startSweepTimer(sweepInterval)
	}
	return s
}

// --- Accounts ---

// SignUp creates a new account with a bcrypt-hashed password.
func (s *Service) SignUp(ctx context.Context, username, password string) (*domain.User, error) {
	taken, err := s.users.Exists(ctx, username)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, domain.ErrUsernameTaken
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.users.Create(ctx, username, hash)
}

// Authenticate verifies a username/password pair. An unknown username
// and a wrong password both return ErrInvalidCredentials, so the
// response does not leak which accounts exist.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}
	return user, nil
}

// --- Tasks ---

// CreateTask creates a task for the doer, stamped with the current
// instant. The returned notice tells the doer's other devices to
// re-read the given day.
func (s *Service) CreateTask(ctx context.Context, doer, name string, dayIndex int) (*domain.Task, *domain.ChangeNotice, error) {
	task, err := s.tasks.Create(ctx, doer, name, s.clock.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	notice, err := s.noticeFor(ctx, doer, dayIndex)
	if err != nil {
		return nil, nil, err
	}
	return task, notice, nil
}

// TasksInRange lists the doer's tasks created within [from, to), with
// their intervals attached.
func (s *Service) TasksInRange(ctx context.Context, doer string, from, to time.Time) ([]domain.Task, error) {
	return s.tasks.ListInRange(ctx, doer, from, to)
}

// RenameTask renames a task the doer owns.
func (s *Service) RenameTask(ctx context.Context, doer string, taskID uuid.UUID, name string, dayIndex int) (*domain.ChangeNotice, error) {
	if err := s.tasks.Rename(ctx, doer, taskID, name); err != nil {
		return nil, err
	}
	return s.noticeFor(ctx, doer, dayIndex)
}

// DeleteTask removes a task and its intervals. wasActive comes from
// the caller: deleting the task it was running also clears the
// registry entry, so every device converges on "nothing running".
func (s *Service) DeleteTask(ctx context.Context, doer string, taskID uuid.UUID, wasActive bool, dayIndex int) (*domain.ChangeNotice, error) {
	if err := s.tasks.Delete(ctx, doer, taskID); err != nil {
		return nil, err
	}

	if wasActive {
		if err := s.rooms.Upsert(ctx, doer, ""); err != nil {
			return nil, err
		}
	}
	return s.noticeFor(ctx, doer, dayIndex)
}

// --- Work intervals ---

// StartInterval opens a new interval on the task. The notice carries
// the task id so sibling devices flip their running-task indicator
// without a registry read.
func (s *Service) StartInterval(ctx context.Context, doer string, taskID uuid.UUID, dayIndex int) (*domain.WorkInterval, *domain.ChangeNotice, error) {
	interval, err := s.tracker.Start(ctx, doer, taskID)
	if err != nil {
		return nil, nil, err
	}

	notice := &domain.ChangeNotice{
		Username:     doer,
		DayIndex:     dayIndex,
		ActiveTaskID: taskID.String(),
	}
	return interval, notice, nil
}

// EndInterval closes an interval through the tracker. When the request
// is absorbed as a no-op the returned notice is nil: the caller still
// gets its ack with the authoritative activeTaskID, but sibling devices
// hear nothing because nothing changed.
func (s *Service) EndInterval(ctx context.Context, doer string, req tracker.EndRequest, dayIndex int) (string, *domain.ChangeNotice, error) {
	activeTaskID, changed, err := s.tracker.End(ctx, doer, req)
	if err != nil {
		return "", nil, err
	}
	if !changed {
		return activeTaskID, nil, nil
	}

	notice := &domain.ChangeNotice{
		Username:     doer,
		DayIndex:     dayIndex,
		ActiveTaskID: "",
	}
	return activeTaskID, notice, nil
}

// DeleteIntervals removes intervals from a task. Deleting intervals
// that are already gone changes nothing and broadcasts nothing.
func (s *Service) DeleteIntervals(ctx context.Context, doer string, taskID uuid.UUID, intervalIDs []uuid.UUID, dayIndex int) (*domain.ChangeNotice, error) {
	changed, err := s.tracker.DeleteIntervals(ctx, doer, taskID, intervalIDs)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return s.noticeFor(ctx, doer, dayIndex)
}

// ContinuePulse echoes an open interval's start together with the
// current instant. Read-only, no notice.
func (s *Service) ContinuePulse(start time.Time) (time.Time, time.Time) {
	return s.tracker.ContinuePulse(start)
}

// --- Session registry ---

// UpdateRoomState overwrites the doer's registry entry. Last write
// wins across devices.
func (s *Service) UpdateRoomState(ctx context.Context, username, activeTaskID string) error {
	return s.rooms.Upsert(ctx, username, activeTaskID)
}

// ReadRoomState returns the doer's registry entry. An absent entry
// reads as "connected, nothing running" rather than an error.
func (s *Service) ReadRoomState(ctx context.Context, username string) (*domain.RoomState, error) {
	state, err := s.rooms.Read(ctx, username)
	if errors.Is(err, domain.ErrRoomStateNotFound) {
		return &domain.RoomState{Username: username, ActiveTaskID: ""}, nil
	}
	if err != nil {
		return nil, err
	}
	return state, nil
}

// --- Reports ---

func (s *Service) DailyTotals(ctx context.Context, doer string, from, to time.Time, buckets int, tz string) ([]domain.DailyTotal, error) {
	return s.reports.DailyTotals(ctx, doer, from, to, buckets, tz)
}

func (s *Service) ExistingDates(ctx context.Context, doer, tz string) ([]string, error) {
	return s.reports.ExistingDates(ctx, doer, tz)
}

// --- Disconnect reconciler ---

// OnClientJoin records one more live connection for the user. Wired as
// the hub's join callback.
func (s *Service) OnClientJoin(username string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	if _, err := s.rooms.IncrConns(ctx, username); err != nil {
		slog.Error("IncrConns error", "username", username, "error", err)
	}
}

// OnClientLeave records one connection gone and reclaims the registry
// entry when it was the user's last connection anywhere. Count-then-
// delete is not atomic against a concurrent connect; the next
// roomState:update rewrites the entry, so the race stays bounded.
func (s *Service) OnClientLeave(username string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	count, err := s.rooms.DecrConns(ctx, username)
	if err != nil {
		slog.Error("DecrConns error", "username", username, "error", err)
		return
	}

	if count <= 0 {
		if err := s.rooms.Delete(ctx, username); err != nil {
			slog.Error("Room delete error", "username", username, "error", err)
			return
		}
		metrics.RegistryEntriesDeleted.Inc()
		slog.Info("Room state reclaimed", "username", username, "conn_count", count)
	}
}

// SweepOrphans deletes registry entries whose connection counter is
// gone or zero. Compensates for instance crashes where OnClientLeave
// never ran.
func (s *Service) SweepOrphans(ctx context.Context) {
	usernames, err := s.rooms.ListRooms(ctx)
	if err != nil {
		slog.Error("ListRooms error", "error", err)
		metrics.RegistrySweepsTotal.WithLabelValues("error").Inc()
		return
	}

	reclaimed := 0
	for _, username := range usernames {
		count, err := s.rooms.ConnCount(ctx, username)
		if err != nil {
			slog.Error("ConnCount error", "username", username, "error", err)
			continue
		}
		if count > 0 {
			continue
		}

		if err := s.rooms.Delete(ctx, username); err != nil {
			slog.Error("Orphan room delete error", "username", username, "error", err)
			continue
		}
		reclaimed++
		metrics.RegistryOrphansReclaimed.Inc()
		slog.Info("Orphaned room state reclaimed", "username", username)
	}

	metrics.RegistrySweepsTotal.WithLabelValues("success").Inc()
	if reclaimed > 0 {
		slog.Info("Registry sweep complete", "scanned", len(usernames), "reclaimed", reclaimed)
	}
}

func (s *Service) startSweepTimer(interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.Chan():
				s.SweepOrphans(context.Background())
			case <-s.sweepStopCh:
				ticker.Stop()
				return
			}
		}
	}()
	slog.Info("Registry sweep timer started", "interval", interval)
}

// Stop stops the background sweep timer.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.sweepStopCh)
	})
}

// noticeFor builds a change notice carrying the registry's current
// active task, so receivers that trust the hint stay consistent with
// roomState:read.
func (s *Service) noticeFor(ctx context.Context, doer string, dayIndex int) (*domain.ChangeNotice, error) {
	active, err := s.currentActive(ctx, doer)
	if err != nil {
		return nil, err
	}
	return &domain.ChangeNotice{
		Username:     doer,
		DayIndex:     dayIndex,
		ActiveTaskID: active,
	}, nil
}

func (s *Service) currentActive(ctx context.Context, doer string) (string, error) {
	state, err := s.rooms.Read(ctx, doer)
	if errors.Is(err, domain.ErrRoomStateNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.ActiveTaskID, nil
}
