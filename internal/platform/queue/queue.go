// Package queue hands preflight and job work from the API to the worker
// through a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/metadeploy/metadeploy-go/internal/platform/env"
)

const (
	KindPreflight = "preflight"
	KindJob       = "job"
)

type Task struct {
	Kind       string    `json:"kind"`
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func (t Task) Validate() error {
	switch strings.TrimSpace(t.Kind) {
	case KindPreflight, KindJob:
	default:
		return fmt.Errorf("unsupported task kind %q", t.Kind)
	}
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	return nil
}

// Enqueuer is the producer side used by the API services.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

type Config struct {
	URL string
	Key string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		URL: env.String("REDIS_URL", "redis://localhost:6379/0"),
		Key: env.String("QUEUE_KEY", "metadeploy:tasks"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("REDIS_URL is required")
	}
	if strings.TrimSpace(c.Key) == "" {
		return errors.New("QUEUE_KEY is required")
	}
	if _, err := redis.ParseURL(c.URL); err != nil {
		return fmt.Errorf("REDIS_URL invalid: %w", err)
	}
	return nil
}

type Queue struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func Open(cfg Config) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(redis.NewClient(opts), cfg.Key), nil
}

func New(client *redis.Client, key string) *Queue {
	if client == nil {
		return nil
	}
	return &Queue{client: client, key: key, now: time.Now}
}

func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if q == nil || q.client == nil {
		return errors.New("queue not initialized")
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = q.now().UTC()
	}
	payload, err := Encode(task)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", task.Kind, task.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task. ok is false on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (task Task, ok bool, err error) {
	if q == nil || q.client == nil {
		return Task{}, false, errors.New("queue not initialized")
	}
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 2 {
		return Task{}, false, fmt.Errorf("dequeue: unexpected reply length %d", len(res))
	}
	task, err = Decode([]byte(res[1]))
	if err != nil {
		return Task{}, false, err
	}
	return task, true, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	if q == nil || q.client == nil {
		return 0, errors.New("queue not initialized")
	}
	return q.client.LLen(ctx, q.key).Result()
}

func (q *Queue) Ping(ctx context.Context) error {
	if q == nil || q.client == nil {
		return errors.New("queue not initialized")
	}
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

func Encode(task Task) ([]byte, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(task)
}

func Decode(raw []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if err := task.Validate(); err != nil {
		return Task{}, err
	}
	return task, nil
}
