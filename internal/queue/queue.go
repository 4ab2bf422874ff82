// Package queue dispatches receipt-processing tasks to a pool of workers
// over Redis. Delivery is at-least-once: a dequeued task is parked on a
// processing list until it is acked, so a crashed worker's tasks can be
// requeued and replayed. Idempotent persistence on the result store makes
// replays safe.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zombor/receipt-pipeline/internal/processing"
)

// ErrEmpty is returned by Dequeue when no task arrived within the timeout.
var ErrEmpty = errors.New("queue is empty")

// Task is the payload contract between the enqueueing side and the workers.
type Task struct {
	TaskID          string `json:"task_id"`
	SourceKey       string `json:"source_key"`
	GenerateSummary bool   `json:"generate_summary"`
}

// RedisQueue is a reliable Redis list queue: Enqueue pushes onto the main
// list, Dequeue atomically moves a payload to the processing list, Ack
// removes it once the worker reported a terminal status.
type RedisQueue struct {
	client     *redis.Client
	name       string
	processing string
	results    processing.ResultStore
}

// NewRedisQueue creates a queue named name on the given Redis client. The
// result store seeds a pending record for every enqueued task so polling
// clients see progress from the moment of submission.
func NewRedisQueue(client *redis.Client, name string, results processing.ResultStore) *RedisQueue {
	return &RedisQueue{
		client:     client,
		name:       name,
		processing: name + ":processing",
		results:    results,
	}
}

// Enqueue submits a task, generating a task ID when the caller did not
// provide one, and returns that ID.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) (string, error) {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.SourceKey == "" {
		return "", fmt.Errorf("task source key is required")
	}

	if err := q.results.SetStatus(task.TaskID, processing.StatusPending, ""); err != nil {
		return "", fmt.Errorf("seeding pending record: %w", err)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshaling task: %w", err)
	}
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueueing task: %w", err)
	}
	return task.TaskID, nil
}

// Dequeue blocks up to timeout for the next task. The returned raw payload
// is the ack token: pass it back to Ack once the task reached a terminal
// status.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, string, error) {
	payload, err := q.client.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", ErrEmpty
	}
	if err != nil {
		return nil, "", fmt.Errorf("dequeueing task: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		// A malformed payload can never succeed; drop it from the
		// processing list so it is not replayed forever.
		q.client.LRem(ctx, q.processing, 1, payload)
		return nil, "", fmt.Errorf("unmarshaling task payload: %w", err)
	}
	return &task, payload, nil
}

// Ack removes an in-flight payload from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, rawPayload string) error {
	if err := q.client.LRem(ctx, q.processing, 1, rawPayload).Err(); err != nil {
		return fmt.Errorf("acking task: %w", err)
	}
	return nil
}

// Requeue drains the processing list back onto the main queue. Called at
// worker startup so tasks abandoned by a crashed worker are redelivered.
func (q *RedisQueue) Requeue(ctx context.Context) (int, error) {
	count := 0
	for {
		_, err := q.client.LMove(ctx, q.processing, q.name, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("requeueing tasks: %w", err)
		}
		count++
	}
}
