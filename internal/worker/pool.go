// Package worker runs the dispatch loop: each pooled goroutine reads new
// stream entries from the Dispatch Queue, executes the task state
// machine against the Task Store, acknowledges the entry, and
// periodically sweeps for work abandoned by a dead consumer.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/beaverqueue/jobrunner/internal/metrics"
	"github.com/beaverqueue/jobrunner/internal/queue"
)

// Queue is the subset of the dispatch queue a worker needs.
type Queue interface {
	Read(ctx context.Context, consumer string, block time.Duration) (queue.Entry, error)
	Reclaim(ctx context.Context, consumer string, minIdle time.Duration) (queue.Entry, error)
	Ack(ctx context.Context, messageID string) error
	PendingCount(ctx context.Context) (int64, error)
}

// Config tunes one pool's dispatch loops.
type Config struct {
	ConsumerPrefix string
	Concurrency    int
	BlockTimeout   time.Duration
	ReclaimIdle    time.Duration
	ErrorBackoff   time.Duration
}

// Pool runs Concurrency independent dispatch loops, each its own
// goroutine with a distinct consumer name, against a shared Queue and
// Store. This is the unit that scales horizontally: spec says scaling is
// by adding worker processes, and running Concurrency > 1 here lets one
// process emulate several for local testing.
type Pool struct {
	cfg        Config
	queue      Queue
	store      TaskStore
	metrics    *metrics.Collector
	instanceID string
	processing int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewPool builds a pool; call Start to begin dispatching.
func NewPool(cfg Config, q Queue, store TaskStore, m *metrics.Collector) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 30 * time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Pool{
		cfg:        cfg,
		queue:      q,
		store:      store,
		metrics:    m,
		instanceID: uuid.NewString(),
		stopCh:     make(chan struct{}),
	}
}

// Start spawns Concurrency dispatch-loop goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Concurrency; i++ {
		consumer := consumerName(p.cfg.ConsumerPrefix, p.instanceID, i)
		p.wg.Add(1)
		go func(name string) {
			defer p.wg.Done()
			p.runLoop(name)
		}(consumer)
	}
}

// Stop signals every dispatch loop to exit and waits for them to drain
// their current task.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// runLoop is one consumer's dispatch loop: read, process, ack, then a
// reclaim sweep, matching the reference worker's iteration order. Any
// transport error backs off for ErrorBackoff before the next iteration,
// mirroring the reference implementation's blanket try/except.
func (p *Pool) runLoop(consumer string) {
	slog.Info("dispatch loop starting", "consumer", consumer)
	for {
		select {
		case <-p.stopCh:
			slog.Info("dispatch loop stopping", "consumer", consumer)
			return
		default:
		}

		if err := p.step(consumer); err != nil {
			p.metrics.RecordDispatchError()
			slog.Error("dispatch loop error", "consumer", consumer, "error", err)
			select {
			case <-time.After(p.cfg.ErrorBackoff):
			case <-p.stopCh:
				return
			}
		}
	}
}

func (p *Pool) step(consumer string) error {
	ctx := context.Background()

	if pending, pendingErr := p.queue.PendingCount(ctx); pendingErr == nil {
		p.metrics.UpdateQueueStats(pending, atomic.LoadInt64(&p.processing))
	}

	entry, err := p.queue.Read(ctx, consumer, p.cfg.BlockTimeout)
	switch {
	case errors.Is(err, queue.ErrNoEntry):
		// no new work this tick, fall through to the reclaim sweep
	case err != nil:
		return err
	default:
		procErr := p.execute(ctx, entry.TaskID, consumer)
		if procErr != nil {
			slog.Error("task execution failed", "consumer", consumer, "task_id", entry.TaskID, "error", procErr)
			// No terminal write was made; leave the entry in the PEL so a
			// later autoclaim sweep retries it instead of losing it.
			return procErr
		}
		if ackErr := p.queue.Ack(ctx, entry.MessageID); ackErr != nil {
			return ackErr
		}
	}

	reclaimed, err := p.queue.Reclaim(ctx, consumer, p.cfg.ReclaimIdle)
	switch {
	case errors.Is(err, queue.ErrNoEntry):
		return nil
	case err != nil:
		return err
	default:
		p.metrics.RecordReclaim()
		slog.Warn("reclaimed stalled task", "consumer", consumer, "task_id", reclaimed.TaskID)
		if procErr := p.execute(ctx, reclaimed.TaskID, consumer); procErr != nil {
			slog.Error("reclaimed task execution failed", "consumer", consumer, "task_id", reclaimed.TaskID, "error", procErr)
			return procErr
		}
		return p.queue.Ack(ctx, reclaimed.MessageID)
	}
}

// execute tracks the in-flight processing gauge around one task's run of
// the execution state machine.
func (p *Pool) execute(ctx context.Context, taskID int64, consumer string) error {
	atomic.AddInt64(&p.processing, 1)
	defer atomic.AddInt64(&p.processing, -1)
	return executeTask(ctx, p.store, realClock{}, taskID, consumer, p.metrics)
}

// consumerName derives a consumer identity unique per process instance, so
// two worker processes sharing a consumer group never collide on the same
// name even if both use the default concurrency and prefix.
func consumerName(prefix, instanceID string, index int) string {
	if prefix == "" {
		prefix = "worker"
	}
	return prefix + "-" + instanceID[:8] + "-" + strconv.Itoa(index)
}
