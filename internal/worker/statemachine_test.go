package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaverqueue/jobrunner/internal/store"
	"github.com/beaverqueue/jobrunner/pkg/types"
)

// fakeStore is an in-memory TaskStore used to drive the state machine
// through its boundary behaviors without a real database.
type fakeStore struct {
	tasks map[int64]*types.Task
}

func newFakeStore(task types.Task) *fakeStore {
	return &fakeStore{tasks: map[int64]*types.Task{task.ID: &task}}
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) IsCancelled(ctx context.Context, id int64) (bool, error) {
	return f.tasks[id].IsCancelled, nil
}

func (f *fakeStore) ClaimTask(ctx context.Context, id int64) (*types.Task, error) {
	f.tasks[id].Status = types.StatusProcessing
	cp := *f.tasks[id]
	return &cp, nil
}

func (f *fakeStore) FinalizeCompleted(ctx context.Context, id int64, result string) error {
	f.tasks[id].Status = types.StatusCompleted
	f.tasks[id].Result = &result
	return nil
}

func (f *fakeStore) FinalizeFailed(ctx context.Context, id int64, reason string) error {
	f.tasks[id].Status = types.StatusFailed
	f.tasks[id].Result = &reason
	return nil
}

// noSleep makes the state machine's 1-second poll instantaneous for tests.
type noSleep struct{ count int }

func (n *noSleep) Sleep(time.Duration) { n.count++ }

func TestExecuteTaskZeroDurationCompletesImmediately(t *testing.T) {
	store := newFakeStore(types.Task{ID: 1, InputData: "abc", SimulatedDuration: 0, MaxExecutionTime: 30, Status: types.StatusPending})
	clk := &noSleep{}

	err := executeTask(context.Background(), store, clk, 1, "worker-0", newTestCollector(t))
	require.NoError(t, err)

	task := store.tasks[1]
	assert.Equal(t, types.StatusCompleted, task.Status)
	assert.Equal(t, 0, clk.count)
	require.NotNil(t, task.Result)
	assert.Equal(t, "Processed by worker-0: cba", *task.Result)
}

func TestExecuteTaskEqualDurationCompletes(t *testing.T) {
	store := newFakeStore(types.Task{ID: 2, InputData: "hi", SimulatedDuration: 5, MaxExecutionTime: 5, Status: types.StatusPending})
	clk := &noSleep{}

	err := executeTask(context.Background(), store, clk, 2, "worker-0", newTestCollector(t))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, store.tasks[2].Status)
}

func TestExecuteTaskExceedsTimeoutFails(t *testing.T) {
	store := newFakeStore(types.Task{ID: 3, InputData: "hi", SimulatedDuration: 10, MaxExecutionTime: 2, Status: types.StatusPending})
	clk := &noSleep{}

	err := executeTask(context.Background(), store, clk, 3, "worker-0", newTestCollector(t))
	require.NoError(t, err)

	task := store.tasks[3]
	assert.Equal(t, types.StatusFailed, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "Timed Out", *task.Result)
}

func TestExecuteTaskAlreadyTerminalIsNoop(t *testing.T) {
	store := newFakeStore(types.Task{ID: 4, InputData: "x", Status: types.StatusCancelled})
	clk := &noSleep{}

	err := executeTask(context.Background(), store, clk, 4, "worker-0", newTestCollector(t))
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, store.tasks[4].Status)
}

func TestExecuteTaskCancelledMidWorkStopsWithoutWrite(t *testing.T) {
	task := types.Task{ID: 5, InputData: "x", SimulatedDuration: 3, MaxExecutionTime: 30, Status: types.StatusPending}
	store := newFakeStore(task)
	store.tasks[5].IsCancelled = true

	err := executeTask(context.Background(), store, &noSleep{}, 5, "worker-0", newTestCollector(t))
	require.NoError(t, err)

	// the worker does not overwrite status; cancellation is owned by the
	// control plane, so the Processing status written by ClaimTask
	// persists with no further finalize write.
	assert.Equal(t, types.StatusProcessing, store.tasks[5].Status)
	assert.Nil(t, store.tasks[5].Result)
}

func TestExecuteTaskMissingRowIsTreatedAsSuccess(t *testing.T) {
	fake := newFakeStore(types.Task{ID: 6, InputData: "x", Status: types.StatusPending})
	clk := &noSleep{}

	// task 99 has no row; the stream entry outlived it.
	err := executeTask(context.Background(), fake, clk, 99, "worker-0", newTestCollector(t))
	require.NoError(t, err)
	assert.Equal(t, 0, clk.count)
}
