package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/platform/queue"
)

type sliceSource struct {
	mu     sync.Mutex
	tasks  []queue.Task
	cancel context.CancelFunc
}

func (s *sliceSource) Dequeue(ctx context.Context, timeout time.Duration) (queue.Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		s.cancel()
		return queue.Task{}, false, nil
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	return task, true, nil
}

type recordingExecutor struct {
	mu         sync.Mutex
	preflights []string
	jobs       []string
	err        error
}

func (e *recordingExecutor) Preflight(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preflights = append(e.preflights, id)
	return e.err
}

func (e *recordingExecutor) Job(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, id)
	return e.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumerDispatchesTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &sliceSource{
		cancel: cancel,
		tasks: []queue.Task{
			{Kind: queue.KindPreflight, ID: "pf-1"},
			{Kind: queue.KindJob, ID: "job-1"},
			{Kind: "unknown", ID: "x"},
			{Kind: queue.KindJob, ID: "job-2"},
		},
	}
	exec := &recordingExecutor{}
	c := &consumer{logger: discardLogger(), source: source, executor: exec, concurrency: 1}

	c.run(ctx)

	if len(exec.preflights) != 1 || exec.preflights[0] != "pf-1" {
		t.Fatalf("preflights=%v, want [pf-1]", exec.preflights)
	}
	if len(exec.jobs) != 2 || exec.jobs[0] != "job-1" || exec.jobs[1] != "job-2" {
		t.Fatalf("jobs=%v, want [job-1 job-2]", exec.jobs)
	}
}

func TestConsumerDispatchRejectsInvalidTask(t *testing.T) {
	c := &consumer{logger: discardLogger(), executor: &recordingExecutor{}}
	if err := c.dispatch(context.Background(), queue.Task{Kind: queue.KindJob}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	exec := &recordingExecutor{err: errors.New("boom")}
	c.executor = exec
	if err := c.dispatch(context.Background(), queue.Task{Kind: queue.KindJob, ID: "job-1"}); err == nil {
		t.Fatalf("expected executor error")
	}
}

type fakePreflightExpirer struct {
	cutoff time.Time
}

func (f *fakePreflightExpirer) InvalidateOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 2, nil
}

type fakeStaleJobFailer struct {
	cutoff  time.Time
	message string
	err     error
}

func (f *fakeStaleJobFailer) FailStale(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	f.cutoff = cutoff
	f.message = message
	return 1, f.err
}

func TestMaintenanceRunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	preflights := &fakePreflightExpirer{}
	jobs := &fakeStaleJobFailer{}
	m := &maintenance{
		logger:            discardLogger(),
		preflights:        preflights,
		jobs:              jobs,
		preflightLifetime: 10 * time.Minute,
		jobStaleAfter:     6 * time.Hour,
		now:               func() time.Time { return now },
	}

	m.runOnce(context.Background())

	if want := now.Add(-10 * time.Minute); !preflights.cutoff.Equal(want) {
		t.Fatalf("preflight cutoff=%v, want %v", preflights.cutoff, want)
	}
	if want := now.Add(-6 * time.Hour); !jobs.cutoff.Equal(want) {
		t.Fatalf("job cutoff=%v, want %v", jobs.cutoff, want)
	}
	if jobs.message != staleJobMessage {
		t.Fatalf("message=%q, want %q", jobs.message, staleJobMessage)
	}
}

func TestMaintenanceDisabledSteps(t *testing.T) {
	preflights := &fakePreflightExpirer{}
	jobs := &fakeStaleJobFailer{}
	m := &maintenance{
		logger:     discardLogger(),
		preflights: preflights,
		jobs:       jobs,
		now:        time.Now,
	}

	m.runOnce(context.Background())

	if !preflights.cutoff.IsZero() || !jobs.cutoff.IsZero() {
		t.Fatalf("expected no maintenance with zero durations")
	}
}

func TestStartMaintenanceRejectsBadSchedule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &maintenance{logger: discardLogger(), now: time.Now}
	if _, err := startMaintenance(ctx, m, "not a schedule"); err == nil {
		t.Fatalf("expected schedule error")
	}
	c, err := startMaintenance(ctx, m, "@every 1h")
	if err != nil {
		t.Fatalf("startMaintenance: %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Fatalf("entries=%d, want 1", len(c.Entries()))
	}
}
