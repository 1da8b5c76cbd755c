// Package queue wraps the Redis Streams dispatch queue: a single stream
// carrying lightweight task references, consumed through one consumer
// group so that each entry is delivered to exactly one live consumer at a
// time, with idle entries reclaimable via autoclaim.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoEntry is returned by Read and Reclaim when nothing is available.
var ErrNoEntry = errors.New("queue: no entry available")

// Config configures the dispatch queue's Redis connection and stream/group
// names.
type Config struct {
	Addr          string
	Password      string
	DB            int
	Stream        string
	ConsumerGroup string
	PoolSize      int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultStream and DefaultGroup match the reference implementation's
// hardcoded names.
const (
	DefaultStream = "task_stream"
	DefaultGroup  = "task_workers"
)

// Entry is a single stream delivery: the task identifier plus the stream
// message ID needed to ack or reclaim it.
type Entry struct {
	MessageID string
	TaskID    int64
}

// Queue is the dispatch queue client used by both the control plane
// (Append on task creation) and the worker pool (Read/Reclaim/Ack).
type Queue struct {
	client  *redis.Client
	stream  string
	group   string
}

// New connects to Redis and ensures the stream and consumer group exist.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = DefaultGroup
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("queue: connect to redis: %w", err)
	}

	q := &Queue{client: client, stream: cfg.Stream, group: cfg.group()}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (c Config) group() string {
	if c.ConsumerGroup == "" {
		return DefaultGroup
	}
	return c.ConsumerGroup
}

// ensureGroup creates the stream and consumer group, tolerating the
// BUSYGROUP error that Redis returns when the group already exists.
func (q *Queue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("queue: create consumer group: %w", err)
	}
	return nil
}

// Append publishes a lightweight reference to a task onto the stream. The
// task's durable data already lives in the task store; the stream entry
// only needs to carry the ID.
func (q *Queue) Append(ctx context.Context, taskID int64) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"task_id": fmt.Sprintf("%d", taskID),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: append: %w", err)
	}
	return nil
}

// Read blocks up to block for a single new entry delivered to consumer
// under the shared consumer group. It returns ErrNoEntry on timeout.
func (q *Queue) Read(ctx context.Context, consumer string, block time.Duration) (Entry, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNoEntry
	}
	if err != nil {
		return Entry{}, fmt.Errorf("queue: read: %w", err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Entry{}, ErrNoEntry
	}
	msg := res[0].Messages[0]
	entry, ok := toEntry(msg)
	if !ok {
		_ = q.client.XAck(ctx, q.stream, q.group, msg.ID)
		return Entry{}, ErrNoEntry
	}
	return entry, nil
}

// Reclaim autoclaims up to one entry that has been idle at least minIdle,
// transferring ownership to consumer. It returns ErrNoEntry if nothing
// qualifies.
func (q *Queue) Reclaim(ctx context.Context, consumer string, minIdle time.Duration) (Entry, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("queue: reclaim: %w", err)
	}
	if len(msgs) == 0 {
		return Entry{}, ErrNoEntry
	}
	msg := msgs[0]
	entry, ok := toEntry(msg)
	if !ok {
		_ = q.client.XAck(ctx, q.stream, q.group, msg.ID)
		return Entry{}, ErrNoEntry
	}
	return entry, nil
}

// Ack removes an entry from the consumer group's pending list.
func (q *Queue) Ack(ctx context.Context, messageID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, messageID).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

// PendingCount reports the consumer group's current pending-entry count,
// used by metrics reporting.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	groups, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: info groups: %w", err)
	}
	for _, g := range groups {
		if g.Name == q.group {
			return g.Pending, nil
		}
	}
	return 0, nil
}

// Purge deletes the stream entirely, used by the admin reset operation.
func (q *Queue) Purge(ctx context.Context) error {
	if err := q.client.Del(ctx, q.stream).Err(); err != nil {
		return fmt.Errorf("queue: purge: %w", err)
	}
	return q.ensureGroup(ctx)
}

// Ping verifies connectivity, used by the health endpoint.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// toEntry extracts the task reference from a stream message. It returns
// ok=false for malformed entries, which the caller acks away so they do
// not block the stream forever.
func toEntry(msg redis.XMessage) (Entry, bool) {
	raw, ok := msg.Values["task_id"]
	if !ok {
		return Entry{}, false
	}
	var taskID int64
	if _, err := fmt.Sscanf(fmt.Sprintf("%v", raw), "%d", &taskID); err != nil {
		return Entry{}, false
	}
	return Entry{MessageID: msg.ID, TaskID: taskID}, true
}
