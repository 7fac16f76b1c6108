package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/metadeploy/metadeploy-go/internal/domain"
	"github.com/metadeploy/metadeploy-go/internal/execution/checks"
	"github.com/metadeploy/metadeploy-go/internal/execution/state"
	"github.com/metadeploy/metadeploy-go/internal/repo"
)

type Stores struct {
	Plans      repo.PlanRepository
	Preflights repo.PreflightRepository
	Jobs       repo.JobRepository
	Users      repo.UserRepository
}

type Executor struct {
	logger      *slog.Logger
	runner      Runner
	rules       checks.Spec
	stores      Stores
	stepTimeout time.Duration
	now         func() time.Time
}

func NewExecutor(logger *slog.Logger, runner Runner, rules checks.Spec, stores Stores, stepTimeout time.Duration) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if stores.Plans == nil || stores.Preflights == nil || stores.Jobs == nil || stores.Users == nil {
		return nil, errors.New("plan, preflight, job and user stores are required")
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("preflight rules: %w", err)
	}
	return &Executor{
		logger:      logger,
		runner:      runner,
		rules:       rules,
		stores:      stores,
		stepTimeout: stepTimeout,
		now:         time.Now,
	}, nil
}

// Preflight evaluates the rule set for a started preflight and records the
// per-step results. Preflights no longer in the started state are left alone.
func (e *Executor) Preflight(ctx context.Context, id string) error {
	preflight, err := e.stores.Preflights.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("load preflight: %w", err)
	}
	if preflight.Status != domain.PreflightStarted {
		e.logger.Info("preflight not started, skipping", "preflight_id", preflight.ID, "status", preflight.Status)
		return nil
	}

	results, evalErr := e.evaluatePreflight(ctx, preflight)
	preflight.EditedAt = e.now().UTC()
	if evalErr != nil {
		preflight.Status = domain.PreflightFailed
		preflight.Exception = evalErr.Error()
	} else {
		preflight.Status = domain.PreflightComplete
		preflight.Results = results
	}
	if err := e.stores.Preflights.Update(ctx, preflight); err != nil {
		return fmt.Errorf("update preflight: %w", err)
	}
	return evalErr
}

func (e *Executor) evaluatePreflight(ctx context.Context, preflight domain.PreflightResult) (domain.Results, error) {
	plan, err := e.stores.Plans.Get(ctx, preflight.PlanID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	user, err := e.stores.Users.Get(ctx, preflight.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	org := checks.OrgContext{
		ID:           preflight.OrgID,
		Type:         user.OrgType,
		IsProduction: user.IsProductionOrg,
		IsScratch:    strings.Contains(strings.ToLower(user.OrgType), "scratch"),
	}
	meta := map[string]any{
		"preflight_flow": plan.PreflightFlowName,
		"instance_url":   user.InstanceURL,
	}
	return checks.EvaluatePlan(e.rules, plan, org, meta), nil
}

// Job runs the selected steps of a started job in step order. Results are
// saved after every step, execution stops at the first error, and a
// cancellation recorded between steps ends the run. Status only ever moves
// out of started through a conditional transition, so a concurrent cancel
// is never overwritten.
func (e *Executor) Job(ctx context.Context, id string) error {
	job, err := e.stores.Jobs.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != domain.JobStarted {
		e.logger.Info("job not started, skipping", "job_id", job.ID, "status", job.Status)
		return nil
	}
	plan, err := e.stores.Plans.Get(ctx, job.PlanID)
	if err != nil {
		return e.failJob(ctx, job.ID, fmt.Errorf("load plan: %w", err))
	}

	results := cloneResults(job.Results)
	selected := selectedSteps(plan, job.StepIDs)
	if len(selected) == 0 {
		return e.failJob(ctx, job.ID, errors.New("job has no steps to run"))
	}
	var failure string
	for _, step := range selected {
		if _, done := state.DeriveStepOutcome(results[step.ID]); done {
			continue
		}
		current, err := e.stores.Jobs.Get(ctx, job.ID)
		if err != nil {
			return e.failJob(ctx, job.ID, fmt.Errorf("reload job: %w", err))
		}
		if current.Status != domain.JobStarted {
			e.logger.Info("job stopped between steps", "job_id", job.ID, "status", current.Status)
			return nil
		}

		outcome, err := e.runStep(ctx, job, step)
		if err != nil {
			return e.failJob(ctx, job.ID, fmt.Errorf("run step %s: %w", step.ID, err))
		}
		results[step.ID] = append(results[step.ID], domain.StepResult{Status: outcome.Status, Message: outcome.Message})
		if err := e.stores.Jobs.UpdateResults(ctx, job.ID, results, e.now().UTC()); err != nil {
			return e.failJob(ctx, job.ID, fmt.Errorf("update job results: %w", err))
		}
		e.logger.Info("step finished", "job_id", job.ID, "step_id", step.ID, "status", outcome.Status)
		if outcome.Status == domain.ResultError {
			failure = outcome.Message
			break
		}
	}

	status := state.DeriveJobStatus(stepIDs(selected), results, false)
	if status == domain.JobStarted {
		status = domain.JobFailed
		failure = "Job ended with unfinished steps."
	}
	to := repo.JobTransition{Status: status, EditedAt: e.now().UTC()}
	if status == domain.JobFailed {
		to.Exception = failure
	}
	err = e.stores.Jobs.Transition(ctx, job.ID, domain.JobStarted, to)
	if errors.Is(err, repo.ErrStatusChanged) {
		e.logger.Info("job left started before it finished", "job_id", job.ID, "derived", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, job domain.Job, step domain.Step) (StepOutcome, error) {
	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}
	outcome, err := e.runner.RunStep(ctx, StepSpec{
		JobID:       job.ID,
		StepID:      step.ID,
		Name:        step.Name,
		Path:        step.Path,
		TaskClass:   step.TaskClass,
		TaskConfig:  step.TaskConfig,
		OrgID:       job.OrgID,
		InstanceURL: job.InstanceURL,
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return StepOutcome{Status: domain.ResultError, Message: "Step timed out."}, nil
	}
	return outcome, err
}

// failJob records cause on a job that is still started. The write outlives
// ctx.
func (e *Executor) failJob(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) {
		msg = "Worker stopped before the job finished."
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := e.stores.Jobs.Transition(writeCtx, jobID, domain.JobStarted, repo.JobTransition{
		Status:    domain.JobFailed,
		Exception: msg,
		EditedAt:  e.now().UTC(),
	})
	switch {
	case errors.Is(err, repo.ErrStatusChanged):
		e.logger.Info("job left started before failure was recorded", "job_id", jobID, "error", cause)
	case err != nil:
		return fmt.Errorf("mark job failed: %w (cause: %v)", err, cause)
	}
	return cause
}

func selectedSteps(plan domain.Plan, stepIDs []string) []domain.Step {
	wanted := make(map[string]struct{}, len(stepIDs))
	for _, id := range stepIDs {
		wanted[id] = struct{}{}
	}
	steps := make([]domain.Step, 0, len(stepIDs))
	for _, step := range plan.Steps {
		if _, ok := wanted[step.ID]; ok {
			steps = append(steps, step)
		}
	}
	domain.SortSteps(steps)
	return steps
}

func stepIDs(steps []domain.Step) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.ID)
	}
	return out
}

func cloneResults(in domain.Results) domain.Results {
	out := make(domain.Results, len(in))
	for k, v := range in {
		out[k] = append([]domain.StepResult(nil), v...)
	}
	return out
}
