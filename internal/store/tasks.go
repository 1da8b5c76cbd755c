package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/beaverqueue/jobrunner/pkg/types"
)

// NewTaskParams is the set of caller-supplied fields for CreateTask. Every
// field is inserted as given; the defaults (types.Default*) are applied by
// the caller before CreateTask is called.
type NewTaskParams struct {
	InputData         string
	OwnerID           int64
	TaskType          string
	MaxExecutionTime  int
	SimulatedDuration int
}

// CreateTask inserts one Pending task row and returns it with its
// generated ID and timestamps.
func (s *Store) CreateTask(ctx context.Context, p NewTaskParams) (*types.Task, error) {
	const q = `
		INSERT INTO tasks (input_data, owner_id, task_type, status, max_execution_time, simulated_duration, is_cancelled)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING id, input_data, owner_id, task_type, status, result, max_execution_time, simulated_duration, is_cancelled, created_at, updated_at`

	row := s.pool.QueryRow(ctx, q, p.InputData, p.OwnerID, p.TaskType, types.StatusPending, p.MaxExecutionTime, p.SimulatedDuration)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("store: create task: %w", err)
	}
	return t, nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	const q = `
		SELECT id, input_data, owner_id, task_type, status, result, max_execution_time, simulated_duration, is_cancelled, created_at, updated_at
		FROM tasks WHERE id = $1`

	t, err := scanTask(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return t, nil
}

// IsCancelled is a lightweight poll used by the execution loop's
// once-a-second cancellation check; it avoids fetching the whole row.
func (s *Store) IsCancelled(ctx context.Context, id int64) (bool, error) {
	const q = `SELECT is_cancelled FROM tasks WHERE id = $1`
	var cancelled bool
	err := s.pool.QueryRow(ctx, q, id).Scan(&cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("store: is cancelled: %w", err)
	}
	return cancelled, nil
}

// ListTasks returns the most recent tasks, newest first.
func (s *Store) ListTasks(ctx context.Context, skip, limit int) ([]types.Task, error) {
	const q = `
		SELECT id, input_data, owner_id, task_type, status, result, max_execution_time, simulated_duration, is_cancelled, created_at, updated_at
		FROM tasks ORDER BY id DESC OFFSET $1 LIMIT $2`

	rows, err := s.pool.Query(ctx, q, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CountTasksForOwner is used both for quota reporting and admission-time
// quota enforcement. The count is not taken under a lock or in the same
// transaction as the inserts that follow it, so concurrent creations by
// one user can together exceed the quota.
func (s *Store) CountTasksForOwner(ctx context.Context, ownerID int64) (int, error) {
	const q = `SELECT COUNT(*) FROM tasks WHERE owner_id = $1`
	var n int
	if err := s.pool.QueryRow(ctx, q, ownerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count tasks: %w", err)
	}
	return n, nil
}

// ClaimTask transitions a task to Processing. The update is keyed on the
// ID alone and does not check the current status or the cancellation
// flag; it returns ErrNotFound only when the row does not exist.
func (s *Store) ClaimTask(ctx context.Context, id int64) (*types.Task, error) {
	const q = `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING id, input_data, owner_id, task_type, status, result, max_execution_time, simulated_duration, is_cancelled, created_at, updated_at`

	t, err := scanTask(s.pool.QueryRow(ctx, q, types.StatusProcessing, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim task: %w", err)
	}
	return t, nil
}

// FinalizeCompleted writes the terminal Completed state and result text.
func (s *Store) FinalizeCompleted(ctx context.Context, id int64, result string) error {
	const q = `UPDATE tasks SET status = $1, result = $2, updated_at = now() WHERE id = $3`
	_, err := s.pool.Exec(ctx, q, types.StatusCompleted, result, id)
	if err != nil {
		return fmt.Errorf("store: finalize completed: %w", err)
	}
	return nil
}

// FinalizeFailed writes the terminal Failed state with the given reason
// (e.g. "Timed Out").
func (s *Store) FinalizeFailed(ctx context.Context, id int64, reason string) error {
	const q = `UPDATE tasks SET status = $1, result = $2, updated_at = now() WHERE id = $3`
	_, err := s.pool.Exec(ctx, q, types.StatusFailed, reason, id)
	if err != nil {
		return fmt.Errorf("store: finalize failed: %w", err)
	}
	return nil
}

// CancelTask marks a single task cancelled if it belongs to ownerID and is
// not already in a terminal state. It returns ErrNotFound if no such task
// exists, and the task together with ErrForbidden if ownerID does not own
// it. An already-terminal task is returned unchanged with a nil error.
func (s *Store) CancelTask(ctx context.Context, id, ownerID int64) (*types.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.OwnerID == nil || *t.OwnerID != ownerID {
		return t, ErrForbidden
	}
	if t.Status.IsTerminal() {
		return t, nil
	}

	const q = `
		UPDATE tasks SET status = $1, is_cancelled = true, updated_at = now()
		WHERE id = $2
		RETURNING id, input_data, owner_id, task_type, status, result, max_execution_time, simulated_duration, is_cancelled, created_at, updated_at`
	return scanTask(s.pool.QueryRow(ctx, q, types.StatusCancelled, id))
}

// KillAllForOwner cancels every Pending or Processing task owned by
// ownerID and reports how many rows were affected.
func (s *Store) KillAllForOwner(ctx context.Context, ownerID int64) (int64, error) {
	const q = `
		UPDATE tasks SET status = $1, is_cancelled = true, updated_at = now()
		WHERE owner_id = $2 AND status IN ($3, $4)`
	tag, err := s.pool.Exec(ctx, q, types.StatusCancelled, ownerID, types.StatusPending, types.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("store: kill all: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAllForOwner deletes every task row owned by ownerID.
func (s *Store) DeleteAllForOwner(ctx context.Context, ownerID int64) (int64, error) {
	const q = `DELETE FROM tasks WHERE owner_id = $1`
	tag, err := s.pool.Exec(ctx, q, ownerID)
	if err != nil {
		return 0, fmt.Errorf("store: delete all: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetSystem truncates the tasks table and resets its identity sequence.
// The caller is responsible for also purging the dispatch queue.
func (s *Store) ResetSystem(ctx context.Context) error {
	const q = `TRUNCATE TABLE tasks RESTART IDENTITY CASCADE`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("store: reset system: %w", err)
	}
	return nil
}

func scanTask(row pgx.Row) (*types.Task, error) {
	var t types.Task
	if err := row.Scan(&t.ID, &t.InputData, &t.OwnerID, &t.TaskType, &t.Status, &t.Result, &t.MaxExecutionTime, &t.SimulatedDuration, &t.IsCancelled, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]types.Task, error) {
	var out []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
