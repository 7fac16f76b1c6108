package state

import (
	"strings"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

// DeriveJobStatus computes a job's status from the results recorded for its
// selected steps. A step error fails the job, cancellation wins over
// unfinished steps, and a job completes once every selected step has a
// terminal result.
func DeriveJobStatus(stepIDs []string, results domain.Results, canceled bool) domain.JobStatus {
	incomplete := false
	for _, id := range stepIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		status, done := DeriveStepOutcome(results[id])
		if !done {
			incomplete = true
			continue
		}
		if status == domain.ResultError {
			return domain.JobFailed
		}
	}
	if canceled {
		return domain.JobCanceled
	}
	if incomplete || len(stepIDs) == 0 {
		return domain.JobStarted
	}
	return domain.JobComplete
}

// DeriveStepOutcome returns the last recorded status for a step and whether
// that status is terminal.
func DeriveStepOutcome(results []domain.StepResult) (domain.ResultStatus, bool) {
	if len(results) == 0 {
		return "", false
	}
	status := results[len(results)-1].Status
	switch status {
	case domain.ResultOK, domain.ResultError, domain.ResultWarn, domain.ResultSkip, domain.ResultOptional, domain.ResultHide:
		return status, true
	default:
		return status, false
	}
}
