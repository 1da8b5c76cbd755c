// Package types defines the core domain models shared by the control
// plane, the dispatch queue, and the worker pool: Task, User, and the
// status values a Task moves through.
package types

import "time"

// TaskStatus represents a task's position in its lifecycle.
type TaskStatus string

// Task status constants. A task starts Pending, moves to Processing once
// a worker claims it, and ends in exactly one of the terminal states.
const (
	StatusPending    TaskStatus = "Pending"
	StatusProcessing TaskStatus = "Processing"
	StatusCompleted  TaskStatus = "Completed"
	StatusFailed     TaskStatus = "Failed"
	StatusCancelled  TaskStatus = "Cancelled"
)

// IsTerminal reports whether no further status transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// User is an account that owns tasks and is subject to a task quota.
type User struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	HashedPassword string    `json:"-"`
	TaskQuota      int       `json:"task_quota"`
	IsAdmin        bool      `json:"is_admin"`
	CreatedAt      time.Time `json:"created_at"`
}

// Task is a unit of work dispatched through the queue to a worker.
type Task struct {
	ID                int64      `json:"id"`
	InputData         string     `json:"input_data"`
	OwnerID           *int64     `json:"owner_id,omitempty"`
	TaskType          string     `json:"task_type"`
	Status            TaskStatus `json:"status"`
	Result            *string    `json:"result,omitempty"`
	MaxExecutionTime  int        `json:"max_execution_time"`
	SimulatedDuration int        `json:"simulated_duration"`
	IsCancelled       bool       `json:"is_cancelled"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Field defaults, mirrored from the reference implementation.
const (
	DefaultMaxExecutionTime  = 30
	DefaultTaskType          = "text_processing"
	DefaultSimulatedDuration = 5
	DefaultTaskQuota         = 100
)
