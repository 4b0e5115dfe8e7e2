package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// --- Model types ---

type User struct {
	ID           uuid.UUID `json:"-"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Task is a unit of trackable work owned by one user (the doer). Its
// intervals are embedded on the wire as workedTimeSpans, ordered by start.
type Task struct {
	ID        uuid.UUID      `json:"id"`
	Doer      string         `json:"doer"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	Intervals []WorkInterval `json:"workedTimeSpans"`
}

// WorkInterval is one continuous stretch of tracked work. EndTime nil means
// the interval is still open. A set EndTime is immutable: the store only
// ever closes an interval whose end is unset.
type WorkInterval struct {
	ID        uuid.UUID  `json:"id"`
	TaskID    uuid.UUID  `json:"-"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// RoomState is the per-user session registry entry. ActiveTaskID empty means
// the user is connected with no running task; the entry being absent
// altogether means no live connection has reported state (or the last
// connection is gone and the reconciler reclaimed it).
type RoomState struct {
	Username     string `json:"username"`
	ActiveTaskID string `json:"activeTaskId"`
}

// --- Shared value types ---

// ChangeNotice is published after a task mutation and relayed to the user's
// sibling connections. ActiveTaskID empty means "clear". The payload is a
// hint: receivers re-read their state instead of trusting it as ground truth.
type ChangeNotice struct {
	Username     string `json:"username"`
	SenderConnID string `json:"senderConnId"`
	DayIndex     int    `json:"dayIndex"`
	ActiveTaskID string `json:"activeTaskId"`
}

// DailyTotal is one bucket of the aggregated daily series. CompletedTime is
// in milliseconds.
type DailyTotal struct {
	LocalDate     string `json:"localDate"`
	CompletedTime int64  `json:"completedTime"`
}

// --- Interfaces ---

// TaskRepository abstracts task and work-interval persistence. Every
// mutation is a single statement scoped by doer plus task id (plus interval
// id where applicable), so concurrent edits to different intervals or tasks
// never clobber each other.
type TaskRepository interface {
	Create(ctx context.Context, doer, name string, createdAt time.Time) (*Task, error)
	ListInRange(ctx context.Context, doer string, from, to time.Time) ([]Task, error)
	Rename(ctx context.Context, doer string, taskID uuid.UUID, name string) error
	Delete(ctx context.Context, doer string, taskID uuid.UUID) error

	AppendInterval(ctx context.Context, doer string, taskID uuid.UUID, start time.Time) (*WorkInterval, error)
	GetInterval(ctx context.Context, doer string, taskID, intervalID uuid.UUID) (*WorkInterval, error)
	CloseInterval(ctx context.Context, doer string, taskID, intervalID uuid.UUID, end time.Time) (bool, error)
	DeleteIntervals(ctx context.Context, doer string, taskID uuid.UUID, intervalIDs []uuid.UUID) (int64, error)

	CreationDates(ctx context.Context, doer string) ([]time.Time, error)
}

// UserRepository abstracts user persistence.
type UserRepository interface {
	Create(ctx context.Context, username, passwordHash string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	Exists(ctx context.Context, username string) (bool, error)
}

// RoomRepository abstracts the session registry backed by Redis, including
// the live-connection counter the disconnect reconciler works from.
type RoomRepository interface {
	Upsert(ctx context.Context, username, activeTaskID string) error
	Read(ctx context.Context, username string) (*RoomState, error)
	Delete(ctx context.Context, username string) error

	IncrConns(ctx context.Context, username string) (int64, error)
	DecrConns(ctx context.Context, username string) (int64, error)
	ConnCount(ctx context.Context, username string) (int64, error)
	ListRooms(ctx context.Context) ([]string, error)
}

// ChangePublisher fans a change notice out to every instance. Fire and
// forget: a lost notice is tolerated because clients re-read.
type ChangePublisher interface {
	Publish(ctx context.Context, notice ChangeNotice) error
}
