package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/platform/metrics"
	"github.com/metadeploy/metadeploy-go/internal/platform/queue"
)

type taskSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (queue.Task, bool, error)
}

type taskExecutor interface {
	Preflight(ctx context.Context, id string) error
	Job(ctx context.Context, id string) error
}

type consumer struct {
	logger      *slog.Logger
	source      taskSource
	executor    taskExecutor
	pollTimeout time.Duration
	concurrency int
	backoff     time.Duration
}

// run blocks until ctx is done, then waits for in-flight tasks.
func (c *consumer) run(ctx context.Context) {
	n := c.concurrency
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			c.loop(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (c *consumer) loop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, ok, err := c.source.Dequeue(ctx, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("dequeue failed", "slot", slot, "error", err)
			c.sleep(ctx)
			continue
		}
		if !ok {
			continue
		}
		c.handle(ctx, task)
	}
}

func (c *consumer) handle(ctx context.Context, task queue.Task) {
	logger := c.logger.With("kind", task.Kind, "id", task.ID, "request_id", task.RequestID)
	start := time.Now()
	logger.Info("task started", "queued_ms", start.Sub(task.EnqueuedAt).Milliseconds())

	err := c.dispatch(ctx, task)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordTask(task.Kind, "failed", duration)
		logger.Error("task failed", "duration_ms", duration.Milliseconds(), "error", err)
		return
	}
	metrics.RecordTask(task.Kind, "ok", duration)
	logger.Info("task finished", "duration_ms", duration.Milliseconds())
}

func (c *consumer) dispatch(ctx context.Context, task queue.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	switch task.Kind {
	case queue.KindPreflight:
		return c.executor.Preflight(ctx, task.ID)
	case queue.KindJob:
		return c.executor.Job(ctx, task.ID)
	default:
		return fmt.Errorf("unsupported task kind %q", task.Kind)
	}
}

func (c *consumer) sleep(ctx context.Context) {
	backoff := c.backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
