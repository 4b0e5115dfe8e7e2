package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hassanrakib/zitbo-server/internal/domain"
)

// taskColumns must match the Scan order in scanTask.
const taskColumns = `id, doer, name, created_at`

// intervalColumns must match the Scan order in scanInterval.
const intervalColumns = `id, task_id, start_time, end_time`

// TaskRepo implements domain.TaskRepository backed by PostgreSQL.
//
// Every mutation is a single statement scoped by doer and task ID, so a
// request from one user can never touch another user's rows.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo creates a TaskRepo on the shared connection pool.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

var _ domain.TaskRepository = (*TaskRepo)(nil)

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(&t.ID, &t.Doer, &t.Name, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanInterval(row pgx.Row) (*domain.WorkInterval, error) {
	var iv domain.WorkInterval
	if err := row.Scan(&iv.ID, &iv.TaskID, &iv.StartTime, &iv.EndTime); err != nil {
		return nil, err
	}
	return &iv, nil
}

func (r *TaskRepo) Create(ctx context.Context, doer, name string, createdAt time.Time) (*domain.Task, error) {
	task, err := scanTask(r.pool.QueryRow(ctx, `
		INSERT INTO tasks (doer, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING `+taskColumns,
		doer, name, createdAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	task.Intervals = []domain.WorkInterval{}
	return task, nil
}

// ListInRange returns the doer's tasks created in [from, to), oldest first,
// each carrying its work intervals ordered by start time.
func (r *TaskRepo) ListInRange(ctx context.Context, doer string, from, to time.Time) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE doer = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at`,
		doer, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.ID, &t.Doer, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Intervals = []domain.WorkInterval{}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	if len(tasks) == 0 {
		return tasks, nil
	}
	if err := r.attachIntervals(ctx, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// attachIntervals loads the work intervals for every task in tasks and
// appends them in start-time order.
func (r *TaskRepo) attachIntervals(ctx context.Context, tasks []domain.Task) error {
	byID := make(map[uuid.UUID]int, len(tasks))
	ids := make([]string, 0, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = i
		ids = append(ids, t.ID.String())
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+intervalColumns+`
		FROM work_intervals
		WHERE task_id = ANY($1::uuid[])
		ORDER BY start_time`,
		ids)
	if err != nil {
		return fmt.Errorf("failed to list work intervals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var iv domain.WorkInterval
		if err := rows.Scan(&iv.ID, &iv.TaskID, &iv.StartTime, &iv.EndTime); err != nil {
			return fmt.Errorf("failed to scan work interval: %w", err)
		}
		if i, ok := byID[iv.TaskID]; ok {
			tasks[i].Intervals = append(tasks[i].Intervals, iv)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to list work intervals: %w", err)
	}
	return nil
}

func (r *TaskRepo) Rename(ctx context.Context, doer string, taskID uuid.UUID, name string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET name = $3
		WHERE doer = $1 AND id = $2`,
		doer, taskID, name)
	if err != nil {
		return fmt.Errorf("failed to rename task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (r *TaskRepo) Delete(ctx context.Context, doer string, taskID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tasks
		WHERE doer = $1 AND id = $2`,
		doer, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

// AppendInterval opens a new work interval on the task starting at start.
// The insert only fires if the task belongs to doer.
func (r *TaskRepo) AppendInterval(ctx context.Context, doer string, taskID uuid.UUID, start time.Time) (*domain.WorkInterval, error) {
	iv, err := scanInterval(r.pool.QueryRow(ctx, `
		INSERT INTO work_intervals (task_id, start_time)
		SELECT t.id, $3
		FROM tasks t
		WHERE t.doer = $1 AND t.id = $2
		RETURNING `+intervalColumns,
		doer, taskID, start))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append work interval: %w", err)
	}
	return iv, nil
}

func (r *TaskRepo) GetInterval(ctx context.Context, doer string, taskID, intervalID uuid.UUID) (*domain.WorkInterval, error) {
	iv, err := scanInterval(r.pool.QueryRow(ctx, `
		SELECT wi.id, wi.task_id, wi.start_time, wi.end_time
		FROM work_intervals wi
		JOIN tasks t ON t.id = wi.task_id
		WHERE t.doer = $1 AND wi.task_id = $2 AND wi.id = $3`,
		doer, taskID, intervalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrIntervalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work interval: %w", err)
	}
	return iv, nil
}

// CloseInterval stamps end on the interval only if it is still open. It
// reports false when no open interval matched, which callers treat as an
// already-closed interval rather than an error.
func (r *TaskRepo) CloseInterval(ctx context.Context, doer string, taskID, intervalID uuid.UUID, end time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE work_intervals wi
		SET end_time = $4
		FROM tasks t
		WHERE t.id = wi.task_id
		  AND t.doer = $1 AND wi.task_id = $2 AND wi.id = $3
		  AND wi.end_time IS NULL`,
		doer, taskID, intervalID, end)
	if err != nil {
		return false, fmt.Errorf("failed to close work interval: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteIntervals removes the given intervals from the task and returns how
// many rows were actually deleted. Unknown IDs are skipped silently.
func (r *TaskRepo) DeleteIntervals(ctx context.Context, doer string, taskID uuid.UUID, intervalIDs []uuid.UUID) (int64, error) {
	if len(intervalIDs) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(intervalIDs))
	for _, id := range intervalIDs {
		ids = append(ids, id.String())
	}

	tag, err := r.pool.Exec(ctx, `
		DELETE FROM work_intervals wi
		USING tasks t
		WHERE t.id = wi.task_id
		  AND t.doer = $1 AND wi.task_id = $2 AND wi.id = ANY($3::uuid[])`,
		doer, taskID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete work intervals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreationDates returns the creation timestamps of all the doer's tasks,
// newest first.
func (r *TaskRepo) CreationDates(ctx context.Context, doer string) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT created_at
		FROM tasks
		WHERE doer = $1
		ORDER BY created_at DESC`,
		doer)
	if err != nil {
		return nil, fmt.Errorf("failed to list task creation dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("failed to scan creation date: %w", err)
		}
		dates = append(dates, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list task creation dates: %w", err)
	}
	return dates, nil
}
