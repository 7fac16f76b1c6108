package domain

import (
	"sort"
	"time"
)

type PreflightStatus string

const (
	PreflightStarted  PreflightStatus = "started"
	PreflightComplete PreflightStatus = "complete"
	PreflightFailed   PreflightStatus = "failed"
	PreflightCanceled PreflightStatus = "canceled"
)

// ResultStatus is the outcome a preflight check assigns to one step.
type ResultStatus string

const (
	ResultOK       ResultStatus = "ok"
	ResultError    ResultStatus = "error"
	ResultWarn     ResultStatus = "warn"
	ResultSkip     ResultStatus = "skip"
	ResultOptional ResultStatus = "optional"
	ResultHide     ResultStatus = "hide"
)

type StepResult struct {
	Status  ResultStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Results maps a step id (or the plan-level key) to its outcomes.
type Results map[string][]StepResult

type PreflightResult struct {
	ID              string
	PlanID          string
	UserID          string
	OrgID           string
	OrganizationURL string
	Status          PreflightStatus
	IsValid         bool
	Results         Results
	Exception       string
	CreatedAt       time.Time
	EditedAt        time.Time
}

func (p PreflightResult) count(status ResultStatus) int {
	n := 0
	for _, items := range p.Results {
		for _, item := range items {
			if item.Status == status {
				n++
			}
		}
	}
	return n
}

func (p PreflightResult) ErrorCount() int {
	return p.count(ResultError)
}

func (p PreflightResult) WarningCount() int {
	return p.count(ResultWarn)
}

func (p PreflightResult) HasErrors() bool {
	return p.ErrorCount() > 0
}

func (p PreflightResult) IsReady() bool {
	return p.Status == PreflightComplete && p.IsValid && !p.HasErrors()
}

// OptionalStepIDs lists steps the preflight marked optional or skipped,
// sorted for stable output.
func (p PreflightResult) OptionalStepIDs() []string {
	out := make([]string, 0)
	for stepID, items := range p.Results {
		for _, item := range items {
			if item.Status == ResultOptional || item.Status == ResultSkip {
				out = append(out, stepID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
