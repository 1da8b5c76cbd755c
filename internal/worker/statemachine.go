package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/beaverqueue/jobrunner/internal/metrics"
	"github.com/beaverqueue/jobrunner/internal/store"
	"github.com/beaverqueue/jobrunner/pkg/types"
)

// TaskStore is the subset of the task store the execution state machine
// needs: load the task, poll cancellation, and write the two terminal
// outcomes a worker can reach (Completed, Failed). Cancellation itself is
// always written by the control plane, never by the worker.
type TaskStore interface {
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	IsCancelled(ctx context.Context, id int64) (bool, error)
	ClaimTask(ctx context.Context, id int64) (*types.Task, error)
	FinalizeCompleted(ctx context.Context, id int64, result string) error
	FinalizeFailed(ctx context.Context, id int64, reason string) error
}

// clock lets tests replace the 1-second poll interval.
type clock interface {
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// executeTask runs the full load/claim/work-loop/finalize state machine
// for one task, following the reference worker's "smart sleep" loop: each
// second, check cancellation first, then the timeout, then sleep. The
// timeout compares the number of one-second sleeps taken so far with
// MaxExecutionTime; it is not measured on the wall clock, so time spent
// in store calls is not counted. A task that reaches its simulated
// duration without being cancelled or timing out completes with its
// input reversed.
func executeTask(ctx context.Context, tasks TaskStore, c clock, taskID int64, consumerName string, m *metrics.Collector) error {
	task, err := tasks.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The stream entry outlived its row (e.g. the task was deleted
			// out from under the queue). Nothing to execute; ack and move on.
			slog.Info("task row absent, treating as success", "task_id", taskID, "consumer", consumerName)
			return nil
		}
		return fmt.Errorf("worker: load task %d: %w", taskID, err)
	}

	// A task may already be in a terminal state (e.g. cancelled before a
	// worker ever picked it up, or recovered a second time after a racing
	// finalize). Nothing to do.
	if task.Status.IsTerminal() {
		return nil
	}

	claimed, err := tasks.ClaimTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("worker: claim task %d: %w", taskID, err)
	}
	task = claimed
	claimedAt := time.Now()

	elapsed := 0
	for elapsed < task.SimulatedDuration {
		cancelled, err := tasks.IsCancelled(ctx, taskID)
		if err != nil {
			return fmt.Errorf("worker: check cancellation for task %d: %w", taskID, err)
		}
		if cancelled {
			slog.Info("task cancelled", "task_id", taskID, "consumer", consumerName)
			return nil
		}

		if elapsed > task.MaxExecutionTime {
			slog.Info("task timed out", "task_id", taskID, "consumer", consumerName)
			if err := tasks.FinalizeFailed(ctx, taskID, "Timed Out"); err != nil {
				return fmt.Errorf("worker: finalize task %d: %w", taskID, err)
			}
			m.RecordFailed()
			return nil
		}

		c.Sleep(time.Second)
		elapsed++
	}

	result := fmt.Sprintf("Processed by %s: %s", consumerName, reverse(task.InputData))
	if err := tasks.FinalizeCompleted(ctx, taskID, result); err != nil {
		return fmt.Errorf("worker: finalize task %d: %w", taskID, err)
	}
	m.RecordCompleted(time.Since(claimedAt).Seconds())
	slog.Info("task completed", "task_id", taskID, "consumer", consumerName)
	return nil
}

func reverse(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
