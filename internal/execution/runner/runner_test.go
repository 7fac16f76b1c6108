package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/execution/checks"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type memoryPlans struct {
	repo.PlanRepository
	plans map[string]domain.Plan
}

func (m *memoryPlans) Get(_ context.Context, id string) (domain.Plan, error) {
	plan, ok := m.plans[id]
	if !ok {
		return domain.Plan{}, repo.ErrNotFound
	}
	return plan, nil
}

type memoryUsers struct {
	repo.UserRepository
	users map[string]domain.User
}

func (m *memoryUsers) Get(_ context.Context, id string) (domain.User, error) {
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, repo.ErrNotFound
	}
	return user, nil
}

type memoryPreflights struct {
	repo.PreflightRepository
	items map[string]domain.PreflightResult
}

func (m *memoryPreflights) Get(_ context.Context, id string) (domain.PreflightResult, error) {
	p, ok := m.items[id]
	if !ok {
		return domain.PreflightResult{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memoryPreflights) Update(_ context.Context, p domain.PreflightResult) error {
	m.items[p.ID] = p
	return nil
}

type memoryJobs struct {
	repo.JobRepository
	items   map[string]domain.Job
	updates int
	// afterResults runs once a results write is stored, standing in for a
	// request that commits between two worker writes.
	afterResults func(saves int)
	saves        int
}

func (m *memoryJobs) Get(_ context.Context, id string) (domain.Job, error) {
	job, ok := m.items[id]
	if !ok {
		return domain.Job{}, repo.ErrNotFound
	}
	return job, nil
}

func (m *memoryJobs) UpdateResults(_ context.Context, id string, results domain.Results, editedAt time.Time) error {
	job, ok := m.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	job.Results = cloneResults(results)
	job.EditedAt = editedAt
	m.items[id] = job
	m.updates++
	m.saves++
	if m.afterResults != nil {
		m.afterResults(m.saves)
	}
	return nil
}

func (m *memoryJobs) Transition(_ context.Context, id string, from domain.JobStatus, to repo.JobTransition) error {
	job, ok := m.items[id]
	if !ok {
		return repo.ErrNotFound
	}
	if job.Status != from {
		return repo.ErrStatusChanged
	}
	job.Status = to.Status
	if to.Exception != "" {
		job.Exception = to.Exception
	}
	job.EditedAt = to.EditedAt
	m.items[id] = job
	m.updates++
	return nil
}

func (m *memoryJobs) cancel(id string) {
	job := m.items[id]
	job.Status = domain.JobCanceled
	m.items[id] = job
}

type scriptedRunner struct {
	outcomes map[string]StepOutcome
	errs     map[string]error
	ran      []string
	onRun    func(stepID string)
}

func (r *scriptedRunner) Kind() string { return "scripted" }

func (r *scriptedRunner) RunStep(_ context.Context, spec StepSpec) (StepOutcome, error) {
	r.ran = append(r.ran, spec.StepID)
	if r.onRun != nil {
		r.onRun(spec.StepID)
	}
	if err, ok := r.errs[spec.StepID]; ok {
		return StepOutcome{}, err
	}
	if outcome, ok := r.outcomes[spec.StepID]; ok {
		return outcome, nil
	}
	return StepOutcome{Status: domain.ResultOK}, nil
}

type fixture struct {
	plans      *memoryPlans
	users      *memoryUsers
	preflights *memoryPreflights
	jobs       *memoryJobs
	runner     *scriptedRunner
	exec       *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		plans: &memoryPlans{plans: map[string]domain.Plan{
			"plan-1": {
				ID:            "plan-1",
				Slug:          "install",
				Tier:          domain.TierPrimary,
				SupportedOrgs: domain.SupportedScratch,
				Steps: []domain.Step{
					{ID: "s3", StepNum: "2", Path: "third", Kind: domain.KindMetadata, IsRequired: true},
					{ID: "s2", StepNum: "1.10", Path: "second", Kind: domain.KindData, IsRequired: true},
					{ID: "s1", StepNum: "1.2", Path: "first", Kind: domain.KindMetadata, IsRequired: true},
					{ID: "s4", StepNum: "3", Path: "unselected", Kind: domain.KindOther},
				},
			},
		}},
		users: &memoryUsers{users: map[string]domain.User{
			"user-1": {ID: "user-1", OrgType: "Enterprise Edition", IsProductionOrg: true},
		}},
		preflights: &memoryPreflights{items: map[string]domain.PreflightResult{}},
		jobs:       &memoryJobs{items: map[string]domain.Job{}},
		runner:     &scriptedRunner{outcomes: map[string]StepOutcome{}, errs: map[string]error{}},
	}
	exec, err := NewExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)), f.runner, checks.Default(), Stores{
		Plans:      f.plans,
		Preflights: f.preflights,
		Jobs:       f.jobs,
		Users:      f.users,
	}, time.Minute)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	exec.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	f.exec = exec
	return f
}

func (f *fixture) startJob(stepIDs ...string) {
	f.jobs.items["job-1"] = domain.Job{
		ID:      "job-1",
		PlanID:  "plan-1",
		UserID:  "user-1",
		OrgID:   "00D000000000001",
		StepIDs: stepIDs,
		Status:  domain.JobStarted,
	}
}

func TestPreflightRecordsResults(t *testing.T) {
	f := newFixture(t)
	f.preflights.items["pf-1"] = domain.PreflightResult{ID: "pf-1", PlanID: "plan-1", UserID: "user-1", OrgID: "00D000000000001", Status: domain.PreflightStarted, IsValid: true}

	if err := f.exec.Preflight(context.Background(), "pf-1"); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	got := f.preflights.items["pf-1"]
	if got.Status != domain.PreflightComplete {
		t.Fatalf("Status=%s, want complete", got.Status)
	}
	if got.ErrorCount() != 1 || got.Results[checks.PlanResultKey][0].Status != domain.ResultError {
		t.Fatalf("Results=%+v, want plan error", got.Results)
	}
	if got.WarningCount() != 1 || got.Results["s2"][0].Status != domain.ResultWarn {
		t.Fatalf("Results=%+v, want data step warning", got.Results)
	}
	if got.IsReady() {
		t.Fatalf("preflight with errors must not be ready")
	}
}

func TestPreflightSkipsFinished(t *testing.T) {
	f := newFixture(t)
	f.preflights.items["pf-1"] = domain.PreflightResult{ID: "pf-1", PlanID: "plan-1", Status: domain.PreflightCanceled}

	if err := f.exec.Preflight(context.Background(), "pf-1"); err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if got := f.preflights.items["pf-1"].Status; got != domain.PreflightCanceled {
		t.Fatalf("Status=%s, want canceled", got)
	}
}

func TestPreflightFailsWithoutPlan(t *testing.T) {
	f := newFixture(t)
	f.preflights.items["pf-1"] = domain.PreflightResult{ID: "pf-1", PlanID: "missing", UserID: "user-1", Status: domain.PreflightStarted}

	if err := f.exec.Preflight(context.Background(), "pf-1"); err == nil {
		t.Fatalf("expected error")
	}
	got := f.preflights.items["pf-1"]
	if got.Status != domain.PreflightFailed || got.Exception == "" {
		t.Fatalf("preflight=%+v, want failed with exception", got)
	}
}

func TestJobRunsSelectedStepsInOrder(t *testing.T) {
	f := newFixture(t)
	f.startJob("s3", "s1", "s2")

	if err := f.exec.Job(context.Background(), "job-1"); err != nil {
		t.Fatalf("Job: %v", err)
	}
	if want := []string{"s1", "s2", "s3"}; !reflect.DeepEqual(f.runner.ran, want) {
		t.Fatalf("ran=%v, want %v", f.runner.ran, want)
	}
	got := f.jobs.items["job-1"]
	if got.Status != domain.JobComplete {
		t.Fatalf("Status=%s, want complete", got.Status)
	}
	if len(got.Results) != 3 {
		t.Fatalf("Results=%+v, want 3 entries", got.Results)
	}
}

func TestJobStopsOnFirstError(t *testing.T) {
	f := newFixture(t)
	f.startJob("s1", "s2", "s3")
	f.runner.outcomes["s2"] = StepOutcome{Status: domain.ResultError, Message: "Deploy failed."}

	if err := f.exec.Job(context.Background(), "job-1"); err != nil {
		t.Fatalf("Job: %v", err)
	}
	if want := []string{"s1", "s2"}; !reflect.DeepEqual(f.runner.ran, want) {
		t.Fatalf("ran=%v, want %v", f.runner.ran, want)
	}
	got := f.jobs.items["job-1"]
	if got.Status != domain.JobFailed {
		t.Fatalf("Status=%s, want failed", got.Status)
	}
	if got.Exception != "Deploy failed." {
		t.Fatalf("Exception=%q", got.Exception)
	}
}

func TestJobHonorsCancellation(t *testing.T) {
	f := newFixture(t)
	f.startJob("s1", "s2", "s3")
	f.runner.onRun = func(stepID string) {
		if stepID == "s1" {
			f.jobs.cancel("job-1")
		}
	}

	if err := f.exec.Job(context.Background(), "job-1"); err != nil {
		t.Fatalf("Job: %v", err)
	}
	if want := []string{"s1"}; !reflect.DeepEqual(f.runner.ran, want) {
		t.Fatalf("ran=%v, want %v", f.runner.ran, want)
	}
	got := f.jobs.items["job-1"]
	if got.Status != domain.JobCanceled {
		t.Fatalf("Status=%s, want canceled", got.Status)
	}
	if len(got.Results["s1"]) != 1 {
		t.Fatalf("Results=%+v, want s1 recorded", got.Results)
	}
}

func TestJobFailsWhenRunnerErrors(t *testing.T) {
	cases := map[string]error{
		"canceled": context.Canceled,
		"exec":     errors.New("cci task run: fork/exec /usr/bin/cci: permission denied"),
	}
	for name, runErr := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.startJob("s1", "s2")
			f.runner.errs["s1"] = runErr

			err := f.exec.Job(context.Background(), "job-1")
			if !errors.Is(err, runErr) {
				t.Fatalf("Job err=%v, want %v", err, runErr)
			}
			got := f.jobs.items["job-1"]
			if got.Status != domain.JobFailed || got.Exception == "" {
				t.Fatalf("job=%+v, want failed with exception", got)
			}
			if len(f.runner.ran) != 1 {
				t.Fatalf("ran=%v, want only s1", f.runner.ran)
			}
		})
	}
}

func TestJobRecordsFailureAfterContextCanceled(t *testing.T) {
	f := newFixture(t)
	f.startJob("s1", "s2")
	ctx, cancel := context.WithCancel(context.Background())
	f.runner.onRun = func(string) { cancel() }
	f.runner.errs["s1"] = context.Canceled

	if err := f.exec.Job(ctx, "job-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Job err=%v, want canceled", err)
	}
	got := f.jobs.items["job-1"]
	if got.Status != domain.JobFailed || got.Exception != "Worker stopped before the job finished." {
		t.Fatalf("job=%+v", got)
	}
}

func TestJobCancelBetweenResultWrites(t *testing.T) {
	f := newFixture(t)
	f.startJob("s1", "s2", "s3")
	f.jobs.afterResults = func(saves int) {
		if saves == 1 {
			f.jobs.cancel("job-1")
		}
	}

	if err := f.exec.Job(context.Background(), "job-1"); err != nil {
		t.Fatalf("Job: %v", err)
	}
	if want := []string{"s1"}; !reflect.DeepEqual(f.runner.ran, want) {
		t.Fatalf("ran=%v, want %v", f.runner.ran, want)
	}
	got := f.jobs.items["job-1"]
	if got.Status != domain.JobCanceled || len(got.Results["s1"]) != 1 {
		t.Fatalf("job=%+v, want canceled with s1 recorded", got)
	}
}

func TestJobCancelBeforeFinalTransition(t *testing.T) {
	f := newFixture(t)
	f.startJob("s1", "s2")
	f.jobs.afterResults = func(saves int) {
		if saves == 2 {
			f.jobs.cancel("job-1")
		}
	}

	if err := f.exec.Job(context.Background(), "job-1"); err != nil {
		t.Fatalf("Job: %v", err)
	}
	got := f.jobs.items["job-1"]
	if got.Status != domain.JobCanceled {
		t.Fatalf("Status=%s, want canceled to survive the worker's final write", got.Status)
	}
	if len(got.Results) != 2 {
		t.Fatalf("Results=%+v, want both steps recorded", got.Results)
	}
}

func TestJobSkipsFinishedJob(t *testing.T) {
	f := newFixture(t)
	f.startJob("s1")
	job := f.jobs.items["job-1"]
	job.Status = domain.JobComplete
	f.jobs.items["job-1"] = job

	if err := f.exec.Job(context.Background(), "job-1"); err != nil {
		t.Fatalf("Job: %v", err)
	}
	if len(f.runner.ran) != 0 || f.jobs.updates != 0 {
		t.Fatalf("ran=%v updates=%d, want none", f.runner.ran, f.jobs.updates)
	}
}

func TestJobWithoutRunnableSteps(t *testing.T) {
	f := newFixture(t)
	f.startJob("unknown")

	if err := f.exec.Job(context.Background(), "job-1"); err == nil {
		t.Fatalf("expected error")
	}
	if got := f.jobs.items["job-1"].Status; got != domain.JobFailed {
		t.Fatalf("Status=%s, want failed", got)
	}
}

func TestCommandArgs(t *testing.T) {
	args, err := commandArgs(StepSpec{
		TaskClass:  "deploy",
		OrgID:      "00D000000000001",
		TaskConfig: domain.Metadata{"options": map[string]any{"path": "src", "namespace": "ns"}},
	})
	if err != nil {
		t.Fatalf("commandArgs: %v", err)
	}
	want := []string{"task", "run", "deploy", "--org", "00D000000000001", "-o", "namespace", "ns", "-o", "path", "src"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args=%v, want %v", args, want)
	}

	if _, err := commandArgs(StepSpec{TaskClass: "deploy"}); err == nil {
		t.Fatalf("expected missing org error")
	}
	if _, err := commandArgs(StepSpec{OrgID: "00D000000000001"}); err == nil {
		t.Fatalf("expected missing task error")
	}
}

func TestDryRunRunner(t *testing.T) {
	outcome, err := DryRunRunner{}.RunStep(context.Background(), StepSpec{Path: "deploy"})
	if err != nil || outcome.Status != domain.ResultOK {
		t.Fatalf("outcome=%+v err=%v", outcome, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (DryRunRunner{}).RunStep(ctx, StepSpec{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want canceled", err)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{Mode: ModeDryRun, StepTimeout: time.Second}).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := (Config{Mode: "docker", StepTimeout: time.Second}).Validate(); err == nil {
		t.Fatalf("expected mode error")
	}
	if err := (Config{Mode: ModeCCI}).Validate(); err == nil {
		t.Fatalf("expected timeout error")
	}
}
