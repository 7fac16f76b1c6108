package state

import (
	"testing"

	"github.com/metadeploy/metadeploy-go/internal/domain"
)

func TestDeriveJobStatus(t *testing.T) {
	steps := []string{"a", "b"}

	tests := []struct {
		name     string
		steps    []string
		results  domain.Results
		canceled bool
		want     domain.JobStatus
	}{
		{
			name:  "no steps",
			steps: nil,
			want:  domain.JobStarted,
		},
		{
			name:  "nothing run",
			steps: steps,
			want:  domain.JobStarted,
		},
		{
			name:    "all ok",
			steps:   steps,
			results: domain.Results{"a": {ok()}, "b": {{Status: domain.ResultSkip}}},
			want:    domain.JobComplete,
		},
		{
			name:    "error",
			steps:   steps,
			results: domain.Results{"a": {{Status: domain.ResultError, Message: "boom"}}},
			want:    domain.JobFailed,
		},
		{
			name:     "error beats cancel",
			steps:    steps,
			results:  domain.Results{"a": {{Status: domain.ResultError}}},
			canceled: true,
			want:     domain.JobFailed,
		},
		{
			name:     "canceled midway",
			steps:    steps,
			results:  domain.Results{"a": {ok()}},
			canceled: true,
			want:     domain.JobCanceled,
		},
		{
			name:    "partial",
			steps:   steps,
			results: domain.Results{"a": {ok()}},
			want:    domain.JobStarted,
		},
		{
			name:    "results for unselected steps ignored",
			steps:   []string{"a"},
			results: domain.Results{"a": {ok()}, "z": {{Status: domain.ResultError}}},
			want:    domain.JobComplete,
		},
	}

	for _, tc := range tests {
		if got := DeriveJobStatus(tc.steps, tc.results, tc.canceled); got != tc.want {
			t.Fatalf("%s: expected %s got %s", tc.name, tc.want, got)
		}
	}
}

func TestDeriveStepOutcome(t *testing.T) {
	if _, done := DeriveStepOutcome(nil); done {
		t.Fatalf("expected no outcome for empty results")
	}
	status, done := DeriveStepOutcome([]domain.StepResult{{Status: domain.ResultWarn}, {Status: domain.ResultError}})
	if !done || status != domain.ResultError {
		t.Fatalf("expected error/true got %s/%v", status, done)
	}
	if _, done := DeriveStepOutcome([]domain.StepResult{{Status: "running"}}); done {
		t.Fatalf("expected unknown status to be non-terminal")
	}
}

func ok() domain.StepResult {
	return domain.StepResult{Status: domain.ResultOK}
}
