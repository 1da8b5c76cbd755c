package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/beaverqueue/jobrunner/pkg/types"
)

// setupTestStore starts a throwaway Postgres container, applies the
// repository's migrations against it, and returns a connected Store.
func setupTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("jobrunner_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, Config{DSN: connStr})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate("file://../../migrations"))
	return s
}

func TestCreateAndGetTask(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	user, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	require.False(t, user.IsAdmin)

	task, err := s.CreateTask(ctx, NewTaskParams{
		InputData:         "hello",
		OwnerID:           user.ID,
		TaskType:          types.DefaultTaskType,
		MaxExecutionTime:  30,
		SimulatedDuration: 5,
	})
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, task.Status)

	fetched, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, task.ID, fetched.ID)
	require.Equal(t, "hello", fetched.InputData)
}

func TestCancelTaskOwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	owner, err := s.CreateUser(ctx, "owner", "hash")
	require.NoError(t, err)
	other, err := s.CreateUser(ctx, "intruder", "hash")
	require.NoError(t, err)

	task, err := s.CreateTask(ctx, NewTaskParams{InputData: "x", OwnerID: owner.ID, TaskType: types.DefaultTaskType, MaxExecutionTime: 30, SimulatedDuration: 1})
	require.NoError(t, err)

	_, err = s.CancelTask(ctx, task.ID, other.ID)
	require.ErrorIs(t, err, ErrForbidden)

	cancelled, err := s.CancelTask(ctx, task.ID, owner.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, cancelled.Status)
	require.True(t, cancelled.IsCancelled)
}

func TestQuotaCounting(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	user, err := s.CreateUser(ctx, "quota-user", "hash")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateTask(ctx, NewTaskParams{InputData: "x", OwnerID: user.ID, TaskType: types.DefaultTaskType, MaxExecutionTime: 30, SimulatedDuration: 1})
		require.NoError(t, err)
	}

	count, err := s.CountTasksForOwner(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestResetSystemRestartsIdentity(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t, ctx)

	user, err := s.CreateUser(ctx, "reset-user", "hash")
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, NewTaskParams{InputData: "x", OwnerID: user.ID, TaskType: types.DefaultTaskType, MaxExecutionTime: 30, SimulatedDuration: 1})
	require.NoError(t, err)

	require.NoError(t, s.ResetSystem(ctx))

	_, err = s.CreateTask(ctx, NewTaskParams{InputData: "y", OwnerID: user.ID, TaskType: types.DefaultTaskType, MaxExecutionTime: 30, SimulatedDuration: 1})
	require.NoError(t, err)

	tasks, err := s.ListTasks(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, int64(1), tasks[0].ID)
}
