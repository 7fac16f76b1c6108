package domain

import (
	"time"
)

type JobStatus string

const (
	JobStarted  JobStatus = "started"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed || s == JobCanceled
}

type Job struct {
	ID              string
	PlanID          string
	UserID          string
	OrgID           string
	OrgType         string
	OrgName         string
	OrganizationURL string
	InstanceURL     string
	IsProductionOrg bool
	StepIDs         []string
	Results         Results
	Status          JobStatus
	IsPublic        bool
	Exception       string
	ErrorMessage    string
	CanceledAt      *time.Time
	EnqueuedAt      *time.Time
	CreatedAt       time.Time
	EditedAt        time.Time
}

func (j Job) ErrorCount() int {
	return PreflightResult{Results: j.Results}.ErrorCount()
}

func (j Job) WarningCount() int {
	return PreflightResult{Results: j.Results}.WarningCount()
}
