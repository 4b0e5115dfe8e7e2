package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hassanrakib/zitbo-server/internal/domain"
)

// Tracker coordinates interval transitions through the task store and
// the session registry. It holds no state of its own: the registry is
// the cross-device truth, and every mutation is a single scoped
// statement in the store.
type Tracker struct {
	tasks domain.TaskRepository
	rooms domain.RoomRepository
	clock clockwork.Clock
}

func New(tasks domain.TaskRepository, rooms domain.RoomRepository, clock clockwork.Clock) *Tracker {
	return &Tracker{tasks: tasks, rooms: rooms, clock: clock}
}

// EndRequest carries one attempt to close an interval. EndTime nil means
// "now". WasDisconnected marks a close that was queued on a device while
// it was offline and is replayed after reconnecting.
type EndRequest struct {
	TaskID          uuid.UUID
	IntervalID      uuid.UUID
	EndTime         *time.Time
	WasDisconnected bool
}

// Start opens a new interval on the task, stamped with the current
// instant. Overlap with an interval that is still open on the same task
// is allowed here; preventing it is the caller's policy.
func (t *Tracker) Start(ctx context.Context, doer string, taskID uuid.UUID) (*domain.WorkInterval, error) {
	return t.tasks.AppendInterval(ctx, doer, taskID, t.clock.Now().UTC())
}

// End closes the interval named by req, or absorbs the request as a
// no-op. It returns the activeTaskID the caller should treat as
// authoritative and whether any state actually changed.
//
// The request is a no-op when the task or interval is gone, when the
// interval is already closed (a double close), or when the request was
// queued on a disconnected device and the registry shows the session is
// still alive elsewhere. A reconnecting device must not retroactively
// finalize an interval a sibling has kept going.
func (t *Tracker) End(ctx context.Context, doer string, req EndRequest) (string, bool, error) {
	if req.WasDisconnected {
		active, err := t.currentActive(ctx, doer)
		if err != nil {
			return "", false, err
		}
		if active != "" {
			return active, false, nil
		}
	}

	iv, err := t.tasks.GetInterval(ctx, doer, req.TaskID, req.IntervalID)
	if errors.Is(err, domain.ErrIntervalNotFound) || errors.Is(err, domain.ErrTaskNotFound) {
		return t.noopResult(ctx, doer)
	}
	if err != nil {
		return "", false, err
	}
	if iv.EndTime != nil {
		return t.noopResult(ctx, doer)
	}

	end := t.clock.Now().UTC()
	if req.EndTime != nil {
		end = req.EndTime.UTC()
	}

	closed, err := t.tasks.CloseInterval(ctx, doer, req.TaskID, req.IntervalID, end)
	if err != nil {
		return "", false, err
	}
	if !closed {
		// Lost the close race to a concurrent caller; their close stands.
		return t.noopResult(ctx, doer)
	}

	return "", true, nil
}

// DeleteIntervals removes the given intervals from the task and reports
// whether anything was actually removed.
func (t *Tracker) DeleteIntervals(ctx context.Context, doer string, taskID uuid.UUID, intervalIDs []uuid.UUID) (bool, error) {
	removed, err := t.tasks.DeleteIntervals(ctx, doer, taskID, intervalIDs)
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// ContinuePulse echoes the interval's start time together with the
// current instant, letting a client keep computing elapsed time for an
// open interval without a storage read. No persisted side effect.
func (t *Tracker) ContinuePulse(start time.Time) (time.Time, time.Time) {
	return start, t.clock.Now().UTC()
}

// noopResult acknowledges an absorbed request with the registry's
// current active task, so the caller converges on authoritative state.
func (t *Tracker) noopResult(ctx context.Context, doer string) (string, bool, error) {
	active, err := t.currentActive(ctx, doer)
	if err != nil {
		return "", false, err
	}
	return active, false, nil
}

func (t *Tracker) currentActive(ctx context.Context, doer string) (string, error) {
	state, err := t.rooms.Read(ctx, doer)
	if errors.Is(err, domain.ErrRoomStateNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.ActiveTaskID, nil
}
